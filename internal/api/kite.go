package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kite-algo-trader/internal/model"
)

// KiteConfig 定义了 Kite 网关所需的全部配置
type KiteConfig struct {
	APIKey      string
	AccessToken string
	RESTURL     string // 例如 https://api.kite.trade
	WSURL       string // 例如 wss://ws.kite.trade
	Exchange    string // 例如 "NSE"
}

// KiteClient 实现了 Gateway 接口，背后是 Kite Connect 的 REST 与 WS 接口
type KiteClient struct {
	cfg    KiteConfig
	http   *http.Client
	logger *zap.Logger
}

func NewKiteClient(cfg KiteConfig, logger *zap.Logger) *KiteClient {
	return &KiteClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.With(zap.String("gateway", "kite")),
	}
}

// kiteQuote 对应 Kite 行情接口的字段命名
type kiteQuote struct {
	LastPrice     float64 `json:"last_price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        float64 `json:"volume"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
}

type kiteInstrument struct {
	TradingSymbol   string `json:"tradingsymbol"`
	Name            string `json:"name"`
	Segment         string `json:"segment"`
	Exchange        string `json:"exchange"`
	InstrumentToken int64  `json:"instrument_token"`
}

type kitePosition struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

func (c *KiteClient) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	var payload struct {
		Data map[string]kiteQuote `json:"data"`
	}

	key := c.cfg.Exchange + ":" + symbol
	query := url.Values{"i": {key}}
	if err := c.get(ctx, "/quote", query, &payload); err != nil {
		return model.Quote{}, fmt.Errorf("get quote %s: %w", symbol, err)
	}

	quote, ok := payload.Data[key]
	if !ok {
		return model.Quote{}, fmt.Errorf("get quote %s: symbol missing in response", symbol)
	}

	return model.Quote{
		Symbol:        symbol,
		LastPrice:     quote.LastPrice,
		Change:        quote.Change,
		ChangePercent: quote.ChangePercent,
		Volume:        quote.Volume,
		High:          quote.High,
		Low:           quote.Low,
	}, nil
}

func (c *KiteClient) GetInstruments(ctx context.Context) ([]model.Instrument, error) {
	var payload struct {
		Data []kiteInstrument `json:"data"`
	}

	query := url.Values{"exchange": {c.cfg.Exchange}}
	if err := c.get(ctx, "/instruments", query, &payload); err != nil {
		return nil, fmt.Errorf("get instruments: %w", err)
	}

	instruments := make([]model.Instrument, 0, len(payload.Data))
	for _, inst := range payload.Data {
		instruments = append(instruments, model.Instrument{
			Symbol:          inst.TradingSymbol,
			Name:            inst.Name,
			Sector:          inst.Segment,
			Exchange:        inst.Exchange,
			InstrumentToken: inst.InstrumentToken,
		})
	}
	return instruments, nil
}

func (c *KiteClient) PlaceOrder(ctx context.Context, symbol string, side model.Action, quantity int, price float64) (string, error) {
	form := url.Values{
		"tradingsymbol":    {symbol},
		"exchange":         {c.cfg.Exchange},
		"transaction_type": {string(side)},
		"quantity":         {fmt.Sprintf("%d", quantity)},
		"price":            {fmt.Sprintf("%.2f", price)},
		"product":          {"CNC"},
		"order_type":       {"LIMIT"},
	}

	var payload struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}

	if err := c.post(ctx, "/orders/regular", form, &payload); err != nil {
		return "", fmt.Errorf("place order %s %s: %w", side, symbol, err)
	}

	c.logger.Info("Order placed",
		zap.String("Symbol", symbol),
		zap.String("Side", string(side)),
		zap.Int("Quantity", quantity),
		zap.Float64("Price", price),
		zap.String("OrderID", payload.Data.OrderID))

	return payload.Data.OrderID, nil
}

func (c *KiteClient) GetPositions(ctx context.Context) ([]model.Position, error) {
	var payload struct {
		Data struct {
			Net []kitePosition `json:"net"`
		} `json:"data"`
	}

	if err := c.get(ctx, "/portfolio/positions", nil, &payload); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	positions := make([]model.Position, 0, len(payload.Data.Net))
	for _, pos := range payload.Data.Net {
		positions = append(positions, model.Position{
			Symbol:       pos.TradingSymbol,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
			CurrentPrice: pos.LastPrice,
			PnL:          pos.PnL,
		})
	}
	return positions, nil
}

// DialStream 建立行情推流连接
func (c *KiteClient) DialStream(ctx context.Context) (StreamConn, error) {
	streamURL := fmt.Sprintf("%s?api_key=%s&access_token=%s",
		c.cfg.WSURL, c.cfg.APIKey, c.cfg.AccessToken)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return conn, nil
}

func (c *KiteClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.cfg.RESTURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *KiteClient) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RESTURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *KiteClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "token "+c.cfg.APIKey+":"+c.cfg.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 凭证失效直接上抛，核心层不做恢复
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
