package service

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// ExchangeConfig 定义了券商网关的连接信息
type ExchangeConfig struct {
	Name        string // 目标交易所，例如 "NSE"
	APIKey      string
	AccessToken string
	WSURL       string
	RESTURL     string
}

// StrategyConfig 定义了策略引擎的共享参数
type StrategyConfig struct {
	TargetProfit    float64       // 止盈比例，默认 0.03 (3%)
	StopLoss        float64       // 止损比例，默认 0.015 (1.5%)
	Cooldown        time.Duration // 同一策略实例两次信号之间的冷却时间，默认 300s
	VolumeThreshold float64       // 成交量门槛，默认 100000
}

// TradingConfig 定义了自动交易循环的参数
type TradingConfig struct {
	InitialBalance  float64       // 每个交易循环的独立初始资金，默认 100000
	TargetProfit    float64       // 循环内嵌策略的止盈，默认 0.30
	StopLoss        float64       // 循环内嵌策略的止损，默认 0.10
	Cooldown        time.Duration // 循环内嵌策略的信号冷却，默认 5m
	VolumeThreshold float64       // 放量门槛，默认 100000
	LoopInterval    time.Duration // 正常迭代间隔，默认 5s
	ErrorBackoff    time.Duration // 出错后的迭代间隔，默认 30s
	MaxSessions     int           // 启动时最多开启的交易循环数
}

// RankingConfig 定义了 Top 股票排名服务的参数
type RankingConfig struct {
	CacheTTL   time.Duration // 缓存有效期，默认 5m
	BatchSize  int           // 行情批量抓取大小，默认 50
	BatchPause time.Duration // 批次之间的停顿，默认 100ms
	TopN       int           // 缓存的排名数量，默认 50
}

type Config struct {
	Exchange ExchangeConfig `mapstructure:"Exchange"`
	Strategy StrategyConfig `mapstructure:"Strategy"`
	Trading  TradingConfig  `mapstructure:"Trading"`
	Ranking  RankingConfig  `mapstructure:"Ranking"`
}

// GlobalConfig 存储加载后的全局配置
var GlobalConfig Config

// LoadConfig 读取并解析配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)

	// 默认值与原始系统的常量保持一致
	viper.SetDefault("Exchange.Name", "NSE")
	viper.SetDefault("Strategy.TargetProfit", 0.03)
	viper.SetDefault("Strategy.StopLoss", 0.015)
	viper.SetDefault("Strategy.Cooldown", "300s")
	viper.SetDefault("Strategy.VolumeThreshold", 100000)
	viper.SetDefault("Trading.InitialBalance", 100000)
	viper.SetDefault("Trading.TargetProfit", 0.30)
	viper.SetDefault("Trading.StopLoss", 0.10)
	viper.SetDefault("Trading.Cooldown", "5m")
	viper.SetDefault("Trading.VolumeThreshold", 100000)
	viper.SetDefault("Trading.LoopInterval", "5s")
	viper.SetDefault("Trading.ErrorBackoff", "30s")
	viper.SetDefault("Trading.MaxSessions", 5)
	viper.SetDefault("Ranking.CacheTTL", "5m")
	viper.SetDefault("Ranking.BatchSize", 50)
	viper.SetDefault("Ranking.BatchPause", "100ms")
	viper.SetDefault("Ranking.TopN", 50)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Fatalf("Config file not found: %s", err)
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	}

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode config into struct: %s", err)
	}

	return &GlobalConfig
}
