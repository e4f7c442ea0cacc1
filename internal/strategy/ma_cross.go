package strategy

import (
	"kite-algo-trader/internal/model"
	"kite-algo-trader/pkg/ta"
)

const (
	maShortPeriod = 10
	maLongPeriod  = 20
)

// MovingAverageStrategy 通过短/长均线交叉判断进出场（金叉买入，死叉卖出）
type MovingAverageStrategy struct {
	baseState
}

func NewMovingAverageStrategy(cfg Config) *MovingAverageStrategy {
	return &MovingAverageStrategy{baseState: newBaseState(cfg)}
}

func (s *MovingAverageStrategy) Name() string { return "MA" }

func (s *MovingAverageStrategy) Analyze(quote model.Quote, history []model.Quote, balance float64) model.Decision {
	if s.coolingDown() {
		return s.hold(quote.LastPrice, "Cooling period")
	}

	prices := closePrices(history)
	shortMA := ta.Sma(prices, maShortPeriod)
	longMA := ta.Sma(prices, maLongPeriod)

	if s.position == model.PositionNone {
		// 金叉：短均线在长均线之上。均值为 0 表示历史不足，不构成有效交叉
		if longMA > 0 && shortMA > longMA && quote.Volume > s.cfg.VolumeThreshold {
			return s.enterLong(quote, balance, "Golden Cross detected")
		}
	} else if s.position == model.PositionLong && s.entryPrice != 0 {
		if decision, ok := s.checkCommonExits(quote, balance); ok {
			return decision
		}

		// 死叉：短均线跌破长均线
		if shortMA > 0 && shortMA < longMA {
			return s.exitLong(quote, balance, "Death Cross detected")
		}
	}

	return s.hold(quote.LastPrice, "No signal")
}
