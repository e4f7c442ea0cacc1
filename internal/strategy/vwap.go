package strategy

import (
	"kite-algo-trader/internal/model"
	"kite-algo-trader/pkg/ta"
)

const (
	vwapBuyBand  = 0.995
	vwapSellBand = 1.005
)

// VWAPStrategy 在价格显著偏离成交量加权均价时进出场
type VWAPStrategy struct {
	baseState
}

func NewVWAPStrategy(cfg Config) *VWAPStrategy {
	return &VWAPStrategy{baseState: newBaseState(cfg)}
}

func (s *VWAPStrategy) Name() string { return "VWAP" }

func (s *VWAPStrategy) Analyze(quote model.Quote, history []model.Quote, balance float64) model.Decision {
	if s.coolingDown() {
		return s.hold(quote.LastPrice, "Cooling period")
	}

	// 历史为空或总成交量为 0 时 Vwap 返回 0，下面的入场条件不会成立
	vwap := ta.Vwap(history)

	if s.position == model.PositionNone {
		if vwap > 0 && quote.LastPrice < vwap*vwapBuyBand && quote.Volume > s.cfg.VolumeThreshold {
			return s.enterLong(quote, balance, "Price below VWAP with high volume")
		}
	} else if s.position == model.PositionLong && s.entryPrice != 0 {
		if decision, ok := s.checkCommonExits(quote, balance); ok {
			return decision
		}

		// 价格站上均价但量能萎缩，视为冲高乏力
		if quote.LastPrice > vwap*vwapSellBand && quote.Volume < s.cfg.VolumeThreshold {
			return s.exitLong(quote, balance, "Price above VWAP with declining volume")
		}
	}

	return s.hold(quote.LastPrice, "No signal")
}
