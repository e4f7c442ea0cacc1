package strategy

import (
	"kite-algo-trader/internal/model"
	"kite-algo-trader/pkg/ta"
)

const (
	rsiOversold   = 30
	rsiOverbought = 70
)

// RSIStrategy 在超卖区建仓、超买区平仓
type RSIStrategy struct {
	baseState
}

func NewRSIStrategy(cfg Config) *RSIStrategy {
	return &RSIStrategy{baseState: newBaseState(cfg)}
}

func (s *RSIStrategy) Name() string { return "RSI" }

func (s *RSIStrategy) Analyze(quote model.Quote, history []model.Quote, balance float64) model.Decision {
	if s.coolingDown() {
		return s.hold(quote.LastPrice, "Cooling period")
	}

	// 历史不足 15 个点时 Rsi 返回中性值 50，自然落在两个阈值之间
	rsi := ta.Rsi(closePrices(history))

	if s.position == model.PositionNone {
		if rsi < rsiOversold && quote.Volume > s.cfg.VolumeThreshold {
			return s.enterLong(quote, balance, "RSI oversold condition")
		}
	} else if s.position == model.PositionLong && s.entryPrice != 0 {
		if decision, ok := s.checkCommonExits(quote, balance); ok {
			return decision
		}

		if rsi > rsiOverbought {
			return s.exitLong(quote, balance, "RSI overbought condition")
		}
	}

	return s.hold(quote.LastPrice, "No signal")
}
