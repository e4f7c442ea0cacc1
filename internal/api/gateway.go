package api

import (
	"context"
	"errors"

	"kite-algo-trader/internal/model"
)

// ErrUnauthorized 表示网关凭证缺失或失效，核心层不做恢复，直接上抛
var ErrUnauthorized = errors.New("api: unauthorized")

// StreamConn 是行情推流连接的最小抽象，*websocket.Conn 天然满足。
// 抽出接口是为了让 Distributor 可以在测试中使用内存实现。
type StreamConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Gateway 是券商网关的统一入口：行情快照、合约列表、下单、持仓与推流。
// 核心层只依赖这个接口，不关心背后是 REST 还是模拟实现。
type Gateway interface {
	GetQuote(ctx context.Context, symbol string) (model.Quote, error)
	GetInstruments(ctx context.Context) ([]model.Instrument, error)
	PlaceOrder(ctx context.Context, symbol string, side model.Action, quantity int, price float64) (string, error)
	GetPositions(ctx context.Context) ([]model.Position, error)
	DialStream(ctx context.Context) (StreamConn, error)
}
