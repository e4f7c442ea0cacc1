package strategy

import (
	"fmt"
	"sync"

	"kite-algo-trader/internal/model"
)

// 每个 symbol 保留的最大历史点数，超出后淘汰最旧的
const maxHistoryPoints = 100

// 绩效回测使用的固定名义资金
const backtestBalance = 100000

// Analyzer 聚合三个策略变体，维护每个 symbol 的有界行情历史。
// 策略实例按 (symbol, 策略) 成对创建，各自携带独立的持仓状态机，
// 保证并发运行的 symbol 循环互不干扰。
type Analyzer struct {
	mu         sync.Mutex
	cfg        Config
	strategies map[string][]Strategy
	history    map[string][]model.Quote
}

func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{
		cfg:        cfg,
		strategies: make(map[string][]Strategy),
		history:    make(map[string][]model.Quote),
	}
}

// newStrategySet 按固定顺序构造策略集，AnalyzeStock 的遍历顺序与此一致
func newStrategySet(cfg Config) []Strategy {
	return []Strategy{
		NewMovingAverageStrategy(cfg),
		NewRSIStrategy(cfg),
		NewVWAPStrategy(cfg),
	}
}

// AddQuote 追加一条行情，历史超过上限时从头部淘汰
func (a *Analyzer) AddQuote(symbol string, quote model.Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data := append(a.history[symbol], quote)
	if len(data) > maxHistoryPoints {
		data = data[len(data)-maxHistoryPoints:]
	}
	a.history[symbol] = data
}

// History 返回指定 symbol 当前历史的副本，供测试与展示层使用
func (a *Analyzer) History(symbol string) []model.Quote {
	a.mu.Lock()
	defer a.mu.Unlock()

	data := a.history[symbol]
	out := make([]model.Quote, len(data))
	copy(out, data)
	return out
}

// AnalyzeStock 运行每一个策略后返回顺序上第一个非 HOLD 的决策，
// 并在 Reason 前标注来源策略；全部 HOLD 时返回汇总的 HOLD。
// 所有策略每次调用都会被评估：同时触发的策略各自推进自己的持仓
// 与冷却状态，即便它的决策没有被选中。
func (a *Analyzer) AnalyzeStock(symbol string, quote model.Quote, balance float64) model.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	set, ok := a.strategies[symbol]
	if !ok {
		set = newStrategySet(a.cfg)
		a.strategies[symbol] = set
	}
	history := a.history[symbol]

	var chosen model.Decision
	found := false
	for _, strat := range set {
		decision := strat.Analyze(quote, history, balance)
		if !found && decision.Action != model.ActionHold {
			chosen = decision
			chosen.Reason = fmt.Sprintf("%s Strategy: %s", strat.Name(), decision.Reason)
			found = true
		}
	}
	if found {
		return chosen
	}

	return model.Decision{
		Action: model.ActionHold,
		Price:  quote.LastPrice,
		Reason: "No strong signals from any strategy",
	}
}

// StrategyPerformance 把已存历史逐点回放给每个策略，累计每次 LONG 平仓
// 的百分比收益。回放使用全新的零冷却策略实例，绝不触碰实盘的持仓状态。
// 结果仅用于排名展示，不参与实盘决策。
func (a *Analyzer) StrategyPerformance(symbol string) map[string]float64 {
	a.mu.Lock()
	data := make([]model.Quote, len(a.history[symbol]))
	copy(data, a.history[symbol])
	a.mu.Unlock()

	performance := make(map[string]float64)
	if len(data) < 2 {
		return performance
	}

	replayCfg := a.cfg
	replayCfg.Cooldown = 0 // 回放是瞬时的，真实冷却会吞掉首个之后的所有信号

	for _, strat := range newStrategySet(replayCfg) {
		var profit float64
		position := model.PositionNone
		var entryPrice float64

		for i, quote := range data {
			decision := strat.Analyze(quote, data[:i+1], backtestBalance)

			switch {
			case decision.Action == model.ActionBuy && position == model.PositionNone:
				position = model.PositionLong
				entryPrice = quote.LastPrice
			case decision.Action == model.ActionSell && position == model.PositionLong:
				profit += ((quote.LastPrice - entryPrice) / entryPrice) * 100
				position = model.PositionNone
			}
		}

		performance[strat.Name()] = profit
	}

	return performance
}
