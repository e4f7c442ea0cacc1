package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kite-algo-trader/internal/api"
	"kite-algo-trader/internal/model"
	"kite-algo-trader/internal/service"
)

// 综合评分权重：成交量 0.4，价格波动 0.3，振幅 0.3
const (
	volumeWeight     = 0.4
	priceMoveWeight  = 0.3
	volatilityWeight = 0.3
)

// Service 维护目标交易所"最活跃"股票的时间有界缓存。
// 缓存命中（未过期）绝不触发重扫；过期或缺失则全量重扫后才返回。
// 重扫在服务互斥锁内串行执行，并发调用方不会产生重复扫描。
type Service struct {
	gateway  api.Gateway
	logger   *zap.Logger
	cfg      service.RankingConfig
	exchange string
	limiter  *rate.Limiter // 批次间限速，避免触发上游限流
	now      func() time.Time

	mu       sync.Mutex
	cached   []model.Instrument
	cachedAt time.Time
}

func NewService(gateway api.Gateway, exchange string, cfg service.RankingConfig, logger *zap.Logger) *Service {
	return &Service{
		gateway:  gateway,
		logger:   logger.With(zap.String("component", "ranking")),
		cfg:      cfg,
		exchange: exchange,
		limiter:  rate.NewLimiter(rate.Every(cfg.BatchPause), 1),
		now:      time.Now,
	}
}

// TopInstruments 返回按综合评分排序的前 N 只股票。
// 重算失败时退回上一次的缓存值（陈旧但可用）；没有旧值才把错误抛给调用方。
func (s *Service) TopInstruments(ctx context.Context) ([]model.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.cachedAt) < s.cfg.CacheTTL {
		return copyInstruments(s.cached), nil
	}

	ranked, err := s.recompute(ctx)
	if err != nil {
		if s.cached != nil {
			s.logger.Warn("Ranking recompute failed, serving stale cache", zap.Error(err))
			return copyInstruments(s.cached), nil
		}
		return nil, err
	}

	s.cached = ranked
	s.cachedAt = s.now()
	return copyInstruments(ranked), nil
}

// recompute 全量扫描：拉合约列表、分批抓行情、评分排序，取前 N
func (s *Service) recompute(ctx context.Context) ([]model.Instrument, error) {
	instruments, err := s.gateway.GetInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("ranking scan: %w", err)
	}

	filtered := instruments[:0:0]
	for _, inst := range instruments {
		if inst.Exchange == s.exchange {
			filtered = append(filtered, inst)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("ranking scan: no instruments for exchange %s", s.exchange)
	}

	quotes, err := s.fetchQuotes(ctx, filtered)
	if err != nil {
		return nil, err
	}

	ranked := s.rank(filtered, quotes)
	if len(ranked) > s.cfg.TopN {
		ranked = ranked[:s.cfg.TopN]
	}

	s.logger.Info("Ranking cache refreshed",
		zap.Int("Scanned", len(filtered)), zap.Int("Cached", len(ranked)))
	return ranked, nil
}

// fetchQuotes 按配置的批大小抓取行情，批次之间停顿以规避限流。
// 任何一只股票抓取失败都会让整次重算失败。
func (s *Service) fetchQuotes(ctx context.Context, instruments []model.Instrument) ([]model.Quote, error) {
	quotes := make([]model.Quote, 0, len(instruments))

	for start := 0; start < len(instruments); start += s.cfg.BatchSize {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		end := start + s.cfg.BatchSize
		if end > len(instruments) {
			end = len(instruments)
		}
		for _, inst := range instruments[start:end] {
			quote, err := s.gateway.GetQuote(ctx, inst.Symbol)
			if err != nil {
				return nil, fmt.Errorf("ranking quote %s: %w", inst.Symbol, err)
			}
			quotes = append(quotes, quote)
		}
	}
	return quotes, nil
}

// rank 计算每只股票的综合评分并稳定降序排序。
// 评分相同的保持扫描产出的相对顺序。
func (s *Service) rank(instruments []model.Instrument, quotes []model.Quote) []model.Instrument {
	var totalVolume float64
	for _, quote := range quotes {
		totalVolume += quote.Volume
	}
	meanVolume := totalVolume / float64(len(quotes))

	type scored struct {
		instrument model.Instrument
		score      float64
	}

	items := make([]scored, len(instruments))
	for i, inst := range instruments {
		quote := quotes[i]

		var volumeScore float64
		if meanVolume > 0 {
			volumeScore = quote.Volume / meanVolume
		}
		priceMovementScore := math.Abs(quote.ChangePercent)
		var volatilityScore float64
		if quote.LastPrice > 0 {
			volatilityScore = (quote.High - quote.Low) / quote.LastPrice
		}

		items[i] = scored{
			instrument: inst,
			score: volumeScore*volumeWeight +
				priceMovementScore*priceMoveWeight +
				volatilityScore*volatilityWeight,
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})

	ranked := make([]model.Instrument, len(items))
	for i, item := range items {
		ranked[i] = item.instrument
	}
	return ranked
}

func copyInstruments(src []model.Instrument) []model.Instrument {
	out := make([]model.Instrument, len(src))
	copy(out, src)
	return out
}
