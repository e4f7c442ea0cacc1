package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kite-algo-trader/internal/api"
	"kite-algo-trader/internal/model"
	"kite-algo-trader/internal/ranking"
	"kite-algo-trader/internal/service"
	"kite-algo-trader/internal/strategy"
	"kite-algo-trader/internal/trading"
)

func main() {
	service.InitLogger()
	defer service.Logger.Sync()

	configPath := "config"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		service.Logger.Fatal("Configuration directory 'config/' not found. Please create it.")
	}
	cfg := service.LoadConfig(configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 初始化券商网关
	gateway := api.NewKiteClient(api.KiteConfig{
		APIKey:      cfg.Exchange.APIKey,
		AccessToken: cfg.Exchange.AccessToken,
		RESTURL:     cfg.Exchange.RESTURL,
		WSURL:       cfg.Exchange.WSURL,
		Exchange:    cfg.Exchange.Name,
	}, service.Logger)

	// 2. 启动行情分发器（唯一一条推流连接）
	distributor := api.NewDistributor(gateway, service.Logger)
	distributor.Start(ctx)

	// 3. 排名服务：选出值得交易的候选股票
	rankingService := ranking.NewService(gateway, cfg.Exchange.Name, cfg.Ranking, service.Logger)
	top, err := rankingService.TopInstruments(ctx)
	if err != nil {
		service.Logger.Fatal("Failed to fetch top instruments", zap.Error(err))
	}

	selected := top
	if len(selected) > cfg.Trading.MaxSessions {
		selected = selected[:cfg.Trading.MaxSessions]
	}

	// 4. 策略分析器：订阅候选股票的 tick，维护每个 symbol 的行情历史
	analyzer := strategy.NewAnalyzer(strategy.Config{
		TargetProfit:    cfg.Strategy.TargetProfit,
		StopLoss:        cfg.Strategy.StopLoss,
		Cooldown:        cfg.Strategy.Cooldown,
		VolumeThreshold: cfg.Strategy.VolumeThreshold,
	})
	// 5. 为每个候选 symbol 订阅 tick 并启动一个隔离的交易循环
	orchestrator := trading.NewOrchestrator(gateway, cfg.Trading, service.Logger)
	for _, inst := range selected {
		symbol := inst.Symbol
		distributor.Subscribe(symbol, func(quote model.Quote) {
			analyzer.AddQuote(quote.Symbol, quote)
		})
		orchestrator.StartTrading(ctx, symbol)
		service.Logger.Info("Tracking symbol",
			zap.String("Symbol", symbol), zap.String("Name", inst.Name))
	}

	// 等待退出信号，协作式停掉所有交易循环
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	service.Logger.Info("Shutting down...")
	orchestrator.StopAll()
	distributor.Stop()
}
