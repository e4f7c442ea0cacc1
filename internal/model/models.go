package model

import "time"

// Quote 是某一时刻的行情快照，每个 tick 或轮询都会生成一个新的 Quote
type Quote struct {
	Symbol        string  // 交易代码，例如 "RELIANCE"
	LastPrice     float64 // 最新成交价
	Change        float64 // 绝对涨跌额
	ChangePercent float64 // 涨跌幅 (%)
	Volume        float64 // 当日累计成交量
	High          float64 // 当日最高价
	Low           float64 // 当日最低价
}

// Instrument 是交易所的股票基础信息，由排名服务整体刷新
type Instrument struct {
	Symbol          string // 交易代码
	Name            string // 显示名称
	Sector          string // 板块/分类
	Exchange        string // 交易所，例如 "NSE"
	InstrumentToken int64  // 交易所内部的数字标识
}

// Action 定义了策略决策的方向
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Decision 是一次策略评估的输出，每次评估都生成新值，不做持久化
type Decision struct {
	Action   Action
	Price    float64
	Quantity int
	Reason   string // 信号生成的文字描述
}

// PositionState 定义了持仓状态机的状态
type PositionState string

const (
	PositionNone  PositionState = "NONE"
	PositionLong  PositionState = "LONG"
	PositionShort PositionState = "SHORT" // 建模保留，当前策略不会进入
)

// Position 是券商侧的持仓信息
type Position struct {
	Symbol       string
	Quantity     int
	AveragePrice float64
	CurrentPrice float64
	PnL          float64
}

// TradingSession 记录一个交易代码的活跃交易循环状态
type TradingSession struct {
	Symbol          string
	IsActive        bool
	LastUpdate      time.Time
	CurrentPosition PositionState
	EntryPrice      float64 // 0 表示尚未建仓
}
