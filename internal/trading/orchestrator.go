package trading

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kite-algo-trader/internal/api"
	"kite-algo-trader/internal/model"
	"kite-algo-trader/internal/service"
)

// Orchestrator 为每个活跃 symbol 管理一个独立的交易循环和对应的会话记录。
// 各循环是对等的 goroutine，除自己的会话与策略状态外没有共享可变状态。
type Orchestrator struct {
	gateway api.Gateway
	logger  *zap.Logger
	cfg     service.TradingConfig

	mu       sync.Mutex
	sessions map[string]*model.TradingSession
	traders  map[string]*Trader
}

func NewOrchestrator(gateway api.Gateway, cfg service.TradingConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		gateway:  gateway,
		logger:   logger.With(zap.String("component", "orchestrator")),
		cfg:      cfg,
		sessions: make(map[string]*model.TradingSession),
		traders:  make(map[string]*Trader),
	}
}

// StartTrading 为 symbol 启动一个交易循环；已存在会话时为 no-op
func (o *Orchestrator) StartTrading(ctx context.Context, symbol string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.sessions[symbol]; exists {
		return
	}

	trader := NewTrader(o.gateway, symbol, o.cfg, o.logger, func(update sessionUpdate) {
		o.applySessionUpdate(symbol, update)
	})

	o.sessions[symbol] = &model.TradingSession{
		Symbol:          symbol,
		IsActive:        true,
		LastUpdate:      time.Now(),
		CurrentPosition: model.PositionNone,
	}
	o.traders[symbol] = trader

	o.logger.Info("Trading session started", zap.String("Symbol", symbol))
	go trader.Run(ctx)
}

// StopTrading 协作式地停止 symbol 的循环并移除会话；无会话时为 no-op
func (o *Orchestrator) StopTrading(symbol string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	trader, ok := o.traders[symbol]
	if ok {
		trader.Stop()
		delete(o.traders, symbol)
	}
	if _, ok := o.sessions[symbol]; ok {
		delete(o.sessions, symbol)
		o.logger.Info("Trading session stopped", zap.String("Symbol", symbol))
	}
}

// StopAll 停止所有活跃会话
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	symbols := make([]string, 0, len(o.sessions))
	for symbol := range o.sessions {
		symbols = append(symbols, symbol)
	}
	o.mu.Unlock()

	for _, symbol := range symbols {
		o.StopTrading(symbol)
	}
}

// ActiveSessions 返回当前会话状态的只读快照
func (o *Orchestrator) ActiveSessions() []model.TradingSession {
	o.mu.Lock()
	defer o.mu.Unlock()

	sessions := make([]model.TradingSession, 0, len(o.sessions))
	for _, session := range o.sessions {
		sessions = append(sessions, *session)
	}
	return sessions
}

func (o *Orchestrator) IsSymbolActive(symbol string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sessions[symbol]
	return ok
}

// applySessionUpdate 由交易循环在每次成交后回调，刷新会话快照
func (o *Orchestrator) applySessionUpdate(symbol string, update sessionUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()

	session, ok := o.sessions[symbol]
	if !ok {
		return
	}
	session.CurrentPosition = update.Position
	session.EntryPrice = update.EntryPrice
	session.LastUpdate = time.Now()
}
