package ta

import (
	"github.com/markcheno/go-talib"

	"kite-algo-trader/internal/model"
)

// RSI 的窗口期固定为 14，样本不足时返回中性值 50
const rsiPeriod = 14

// Sma 计算最近 period 个价格的简单均值。
// 历史长度不足时返回 0，调用方必须视为"尚无信号"，而不是有效的交叉值。
func Sma(prices []float64, period int) float64 {
	if len(prices) < period {
		return 0
	}
	result := talib.Sma(prices, period)
	return result[len(result)-1]
}

// Rsi 基于相邻价格差计算 14 周期 RSI。
// 少于 15 个数据点返回哨兵值 50；窗口内平均亏损为 0 时返回 100。
func Rsi(prices []float64) float64 {
	if len(prices) < rsiPeriod+1 {
		return 50
	}

	var gains, losses float64
	for i := 1; i <= rsiPeriod; i++ {
		diff := prices[len(prices)-i] - prices[len(prices)-i-1]
		if diff >= 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	avgGain := gains / rsiPeriod
	avgLoss := losses / rsiPeriod
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Vwap 计算整段历史的成交量加权均价，总成交量为 0 时返回 0
func Vwap(history []model.Quote) float64 {
	var cumulativePV, cumulativeVolume float64
	for _, quote := range history {
		cumulativePV += quote.LastPrice * quote.Volume
		cumulativeVolume += quote.Volume
	}
	if cumulativeVolume == 0 {
		return 0
	}
	return cumulativePV / cumulativeVolume
}
