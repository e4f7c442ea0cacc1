package strategy

import (
	"math"
	"time"

	"kite-algo-trader/internal/model"
)

// Config 定义了三个策略变体共享的参数
type Config struct {
	TargetProfit    float64       // 止盈比例，例如 0.03
	StopLoss        float64       // 止损比例，例如 0.015
	Cooldown        time.Duration // 两次非 HOLD 信号之间的最小间隔
	VolumeThreshold float64       // 入场的成交量门槛
}

// Strategy 是策略评估器的统一接口。
// 每个实例独享自己的持仓状态机，评估调用之间只携带这一份可变状态。
type Strategy interface {
	Name() string
	Analyze(quote model.Quote, history []model.Quote, balance float64) model.Decision
}

// baseState 是各策略变体共享的持仓状态机：NONE -> LONG -> NONE。
// SHORT 建模保留但当前变体不会进入。状态只由所属实例自身的 Analyze 调用修改。
type baseState struct {
	cfg        Config
	position   model.PositionState
	entryPrice float64
	lastSignal time.Time
	now        func() time.Time // 可注入时钟，便于测试冷却逻辑
}

func newBaseState(cfg Config) baseState {
	return baseState{
		cfg:      cfg,
		position: model.PositionNone,
		now:      time.Now,
	}
}

// coolingDown 判断是否处于冷却期：距离上一次非 HOLD 信号不足 Cooldown
func (s *baseState) coolingDown() bool {
	if s.lastSignal.IsZero() {
		return false
	}
	return s.now().Sub(s.lastSignal) < s.cfg.Cooldown
}

// decide 构造决策，非 HOLD 信号会刷新冷却时间戳
func (s *baseState) decide(action model.Action, price float64, quantity int, reason string) model.Decision {
	if action != model.ActionHold {
		s.lastSignal = s.now()
	}
	return model.Decision{
		Action:   action,
		Price:    price,
		Quantity: quantity,
		Reason:   reason,
	}
}

// hold 不会触碰冷却时间戳
func (s *baseState) hold(price float64, reason string) model.Decision {
	return model.Decision{
		Action: model.ActionHold,
		Price:  price,
		Reason: reason,
	}
}

// orderQuantity 每次进出场的数量 = floor(balance / price)
func orderQuantity(balance, price float64) int {
	if price <= 0 {
		return 0
	}
	return int(math.Floor(balance / price))
}

// enterLong 记录建仓并返回 BUY 决策
func (s *baseState) enterLong(quote model.Quote, balance float64, reason string) model.Decision {
	s.position = model.PositionLong
	s.entryPrice = quote.LastPrice
	return s.decide(model.ActionBuy, quote.LastPrice, orderQuantity(balance, quote.LastPrice), reason)
}

// exitLong 清空持仓并返回 SELL 决策
func (s *baseState) exitLong(quote model.Quote, balance float64, reason string) model.Decision {
	s.position = model.PositionNone
	s.entryPrice = 0
	return s.decide(model.ActionSell, quote.LastPrice, orderQuantity(balance, quote.LastPrice), reason)
}

// checkCommonExits 处理 LONG 状态下共享的止盈/止损出场。
// 返回 ok=false 表示未触发，由各变体继续检查自己的出场条件。
func (s *baseState) checkCommonExits(quote model.Quote, balance float64) (model.Decision, bool) {
	if s.position != model.PositionLong || s.entryPrice == 0 {
		return model.Decision{}, false
	}

	profitPercent := (quote.LastPrice - s.entryPrice) / s.entryPrice

	if profitPercent >= s.cfg.TargetProfit {
		return s.exitLong(quote, balance, "Target profit reached"), true
	}
	if profitPercent <= -s.cfg.StopLoss {
		return s.exitLong(quote, balance, "Stop loss triggered"), true
	}
	return model.Decision{}, false
}

// closePrices 提取历史序列的收盘价，供指标计算使用
func closePrices(history []model.Quote) []float64 {
	prices := make([]float64, len(history))
	for i, quote := range history {
		prices[i] = quote.LastPrice
	}
	return prices
}
