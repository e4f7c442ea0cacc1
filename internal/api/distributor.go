package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"kite-algo-trader/internal/model"
)

// QuoteCallback 在 tick 到达时被同步调用
type QuoteCallback func(model.Quote)

// tickFrame 对应推流的行情消息
type tickFrame struct {
	Symbol        string  `json:"symbol"`
	LastPrice     float64 `json:"last_price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        float64 `json:"volume"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
}

// controlFrame 是按 symbol 订阅/退订的控制消息
type controlFrame struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type subscriber struct {
	id uint64
	fn QuoteCallback
}

// Distributor 持有唯一一条行情推流连接，把 tick 按 symbol 分发给订阅者。
// 订阅表支持多个 symbol 循环并发注册/移除；断流后按固定间隔串行重连，
// 重连配额是累计的：重连成功也不恢复，累计 5 次后进入静默，
// 只有外部显式 Reinitialize 才重置配额。
type Distributor struct {
	gateway Gateway
	logger  *zap.Logger

	// 可被测试覆盖的重连参数
	ReconnectDelay time.Duration
	MaxReconnects  int

	mu          sync.Mutex
	subscribers map[string][]subscriber
	nextID      uint64
	conn        StreamConn
	attempts    int
	running     bool
	stopped     bool
}

func NewDistributor(gateway Gateway, logger *zap.Logger) *Distributor {
	return &Distributor{
		gateway:        gateway,
		logger:         logger.With(zap.String("component", "distributor")),
		ReconnectDelay: 5 * time.Second,
		MaxReconnects:  5,
		subscribers:    make(map[string][]subscriber),
	}
}

// Start 启动连接与读循环。连接建立失败只记日志，不向订阅者传播
func (d *Distributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopped = false
	d.attempts = 0
	d.mu.Unlock()

	go d.run(ctx)
}

// Reinitialize 在重连耗尽进入静默后重新拉起连接
func (d *Distributor) Reinitialize(ctx context.Context) {
	d.Start(ctx)
}

// Stop 关闭连接并终止读循环
func (d *Distributor) Stop() {
	d.mu.Lock()
	d.stopped = true
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (d *Distributor) run(ctx context.Context) {
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	for {
		if d.isStopped() {
			return
		}

		conn, err := d.gateway.DialStream(ctx)
		if err != nil {
			d.logger.Error("Stream connection failed", zap.Error(err))
			if !d.waitBeforeRetry() {
				return
			}
			continue
		}

		d.attachConn(conn)
		d.readLoop(conn)
		d.detachConn()

		if d.isStopped() {
			return
		}
		d.logger.Warn("Stream connection closed")
		if !d.waitBeforeRetry() {
			return
		}
	}
}

// waitBeforeRetry 串行执行一次重连等待；配额耗尽时返回 false 并进入静默
func (d *Distributor) waitBeforeRetry() bool {
	d.mu.Lock()
	if d.attempts >= d.MaxReconnects {
		d.mu.Unlock()
		d.logger.Error("Max reconnection attempts reached, distributor is now inert",
			zap.Int("MaxReconnects", d.MaxReconnects))
		return false
	}
	d.attempts++
	attempt := d.attempts
	d.mu.Unlock()

	d.logger.Warn("Attempting to reconnect",
		zap.Int("Attempt", attempt), zap.Int("Max", d.MaxReconnects))
	time.Sleep(d.ReconnectDelay)

	return !d.isStopped()
}

// attachConn 挂载新连接并补发所有已注册 symbol 的订阅。
// 重连计数不在这里重置：配额跨越多次成功重连累计消耗
func (d *Distributor) attachConn(conn StreamConn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.conn = conn

	symbols := make([]string, 0, len(d.subscribers))
	for symbol := range d.subscribers {
		symbols = append(symbols, symbol)
	}
	if len(symbols) > 0 {
		if err := conn.WriteJSON(controlFrame{Action: "subscribe", Symbols: symbols}); err != nil {
			d.logger.Error("Failed to resubscribe after reconnect", zap.Error(err))
		}
	}
}

func (d *Distributor) detachConn() {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (d *Distributor) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *Distributor) readLoop(conn StreamConn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			d.logger.Error("Error reading stream message", zap.Error(err))
			return
		}
		d.dispatch(message)
	}
}

// dispatch 解析 tick 并按注册顺序同步调用该 symbol 的全部回调。
// 回调列表在锁内拷贝：分发期间新增的回调可能错过本条 tick，
// 但订阅表不会被观察到撕裂状态。
func (d *Distributor) dispatch(message []byte) {
	var tick tickFrame
	if err := json.Unmarshal(message, &tick); err != nil || tick.Symbol == "" {
		return
	}

	quote := model.Quote{
		Symbol:        tick.Symbol,
		LastPrice:     tick.LastPrice,
		Change:        tick.Change,
		ChangePercent: tick.ChangePercent,
		Volume:        tick.Volume,
		High:          tick.High,
		Low:           tick.Low,
	}

	d.mu.Lock()
	subs := make([]subscriber, len(d.subscribers[tick.Symbol]))
	copy(subs, d.subscribers[tick.Symbol])
	d.mu.Unlock()

	for _, sub := range subs {
		d.invoke(sub.fn, quote)
	}
}

// invoke 隔离单个回调的 panic，保证剩余回调照常执行
func (d *Distributor) invoke(fn QuoteCallback, quote model.Quote) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Subscriber callback panicked",
				zap.String("Symbol", quote.Symbol), zap.Any("Panic", r))
		}
	}()
	fn(quote)
}

// Subscribe 注册回调，返回用于退订的 cancel 函数。
// 某个 symbol 的第一个订阅者会触发一次订阅控制消息（已有订阅者时幂等不发）。
func (d *Distributor) Subscribe(symbol string, fn QuoteCallback) (cancel func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	first := len(d.subscribers[symbol]) == 0
	d.subscribers[symbol] = append(d.subscribers[symbol], subscriber{id: id, fn: fn})
	conn := d.conn

	if first && conn != nil {
		if err := conn.WriteJSON(controlFrame{Action: "subscribe", Symbols: []string{symbol}}); err != nil {
			d.logger.Error("Failed to send subscribe frame",
				zap.String("Symbol", symbol), zap.Error(err))
		}
	}
	d.mu.Unlock()

	return func() { d.unsubscribe(symbol, id) }
}

// unsubscribe 移除回调；symbol 的订阅者清空时发送退订消息并删除表项
func (d *Distributor) unsubscribe(symbol string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subscribers[symbol]
	for i, sub := range subs {
		if sub.id == id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if len(subs) == 0 {
		delete(d.subscribers, symbol)
		if d.conn != nil {
			if err := d.conn.WriteJSON(controlFrame{Action: "unsubscribe", Symbols: []string{symbol}}); err != nil {
				d.logger.Error("Failed to send unsubscribe frame",
					zap.String("Symbol", symbol), zap.Error(err))
			}
		}
		return
	}
	d.subscribers[symbol] = subs
}
