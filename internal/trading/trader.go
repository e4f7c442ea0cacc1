package trading

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"kite-algo-trader/internal/api"
	"kite-algo-trader/internal/model"
	"kite-algo-trader/internal/service"
)

// 入场条件之一：最新价距离当日低点不超过 5%
const nearLowBand = 1.05

// loopStrategy 是交易循环内嵌的简化策略，与策略引擎的三个变体相互独立：
// 止盈 30%、止损 10%，入场要求贴近日内低点、放量且涨跌为正。
type loopStrategy struct {
	cfg        service.TradingConfig
	position   model.PositionState
	entryPrice float64
	lastSignal time.Time
	now        func() time.Time
}

func newLoopStrategy(cfg service.TradingConfig) *loopStrategy {
	return &loopStrategy{
		cfg:      cfg,
		position: model.PositionNone,
		now:      time.Now,
	}
}

func (s *loopStrategy) analyze(quote model.Quote, balance float64) model.Decision {
	price := quote.LastPrice

	// 冷却期内不产生新信号
	if !s.lastSignal.IsZero() && s.now().Sub(s.lastSignal) < s.cfg.Cooldown {
		return model.Decision{Action: model.ActionHold, Price: price}
	}

	if s.position == model.PositionNone {
		if s.isGoodEntryPoint(quote) {
			s.position = model.PositionLong
			s.entryPrice = price
			s.lastSignal = s.now()
			return model.Decision{
				Action:   model.ActionBuy,
				Price:    price,
				Quantity: quantity(balance, price),
				Reason:   "Near day low with volume spike",
			}
		}
	} else if s.position == model.PositionLong && s.entryPrice != 0 {
		profitPercent := (price - s.entryPrice) / s.entryPrice

		if profitPercent >= s.cfg.TargetProfit {
			return s.exit(price, balance, "Target profit reached")
		}
		if profitPercent <= -s.cfg.StopLoss {
			return s.exit(price, balance, "Stop loss triggered")
		}
	}

	return model.Decision{Action: model.ActionHold, Price: price}
}

func (s *loopStrategy) exit(price, balance float64, reason string) model.Decision {
	s.position = model.PositionNone
	s.entryPrice = 0
	s.lastSignal = s.now()
	return model.Decision{
		Action:   model.ActionSell,
		Price:    price,
		Quantity: quantity(balance, price),
		Reason:   reason,
	}
}

// isGoodEntryPoint 入场三条件：贴近日内低点、放量、涨跌为正
func (s *loopStrategy) isGoodEntryPoint(quote model.Quote) bool {
	nearDayLow := quote.LastPrice <= quote.Low*nearLowBand
	highVolume := quote.Volume > s.cfg.VolumeThreshold
	positiveChange := quote.Change > 0
	return nearDayLow && highVolume && positiveChange
}

func quantity(balance, price float64) int {
	if price <= 0 {
		return 0
	}
	return int(math.Floor(balance / price))
}

// sessionUpdate 由交易循环在每次成交后回报给编排器
type sessionUpdate struct {
	Position   model.PositionState
	EntryPrice float64
}

// Trader 是单个 symbol 的自动交易循环：拉行情、评估内嵌策略、下单、
// 更新独立的运行资金，然后休眠进入下一轮。出错时用更长的退避间隔重试，
// 循环本身不会因错误终止；停止是协作式的，在循环顶部检查标志。
type Trader struct {
	gateway  api.Gateway
	logger   *zap.Logger
	cfg      service.TradingConfig
	symbol   string
	strategy *loopStrategy
	balance  float64
	onUpdate func(sessionUpdate)

	stopOnce sync.Once
	stopC    chan struct{}
}

func NewTrader(gateway api.Gateway, symbol string, cfg service.TradingConfig, logger *zap.Logger, onUpdate func(sessionUpdate)) *Trader {
	return &Trader{
		gateway:  gateway,
		logger:   logger.With(zap.String("Symbol", symbol)),
		cfg:      cfg,
		symbol:   symbol,
		strategy: newLoopStrategy(cfg),
		balance:  cfg.InitialBalance,
		onUpdate: onUpdate,
		stopC:    make(chan struct{}),
	}
}

// Stop 请求循环停止；当前迭代会执行完才观察到标志
func (t *Trader) Stop() {
	t.stopOnce.Do(func() { close(t.stopC) })
}

// Run 是交易主循环，通常在独立的 goroutine 中执行
func (t *Trader) Run(ctx context.Context) {
	t.logger.Info("Starting automated trading loop",
		zap.Float64("InitialBalance", t.balance))

	for {
		select {
		case <-t.stopC:
			t.logger.Info("Trading loop stopped")
			return
		case <-ctx.Done():
			return
		default:
		}

		interval := t.cfg.LoopInterval
		if err := t.iterate(ctx); err != nil {
			t.logger.Error("Error in automated trading", zap.Error(err))
			interval = t.cfg.ErrorBackoff
		}

		select {
		case <-t.stopC:
			t.logger.Info("Trading loop stopped")
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// iterate 执行一轮：取行情 -> 策略评估 -> 下单 -> 更新资金
func (t *Trader) iterate(ctx context.Context) error {
	quote, err := t.gateway.GetQuote(ctx, t.symbol)
	if err != nil {
		return err
	}

	signal := t.strategy.analyze(quote, t.balance)
	if signal.Action == model.ActionHold {
		return nil
	}
	if signal.Quantity <= 0 {
		// 数量取整为 0 时不下单，但持仓状态机已经翻转，会话快照仍需同步
		t.logger.Warn("Signal skipped, quantity rounded to zero",
			zap.String("Action", string(signal.Action)),
			zap.Float64("Price", signal.Price),
			zap.Float64("Balance", t.balance),
			zap.String("Reason", signal.Reason))
		t.publishUpdate()
		return nil
	}

	orderID, err := t.gateway.PlaceOrder(ctx, t.symbol, signal.Action, signal.Quantity, signal.Price)
	if err != nil {
		// 下单失败只记日志，循环照常继续
		t.logger.Error("Error placing order", zap.Error(err))
		return nil
	}

	cost := signal.Price * float64(signal.Quantity)
	if signal.Action == model.ActionBuy {
		t.balance -= cost
	} else {
		t.balance += cost
	}

	t.logger.Info("Order placed",
		zap.String("Action", string(signal.Action)),
		zap.Int("Quantity", signal.Quantity),
		zap.Float64("Price", signal.Price),
		zap.Float64("Balance", t.balance),
		zap.String("OrderID", orderID),
		zap.String("Reason", signal.Reason))

	t.publishUpdate()
	return nil
}

func (t *Trader) publishUpdate() {
	if t.onUpdate == nil {
		return
	}
	t.onUpdate(sessionUpdate{
		Position:   t.strategy.position,
		EntryPrice: t.strategy.entryPrice,
	})
}
