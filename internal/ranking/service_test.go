package ranking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kite-algo-trader/internal/api"
	"kite-algo-trader/internal/model"
	"kite-algo-trader/internal/service"
)

// fakeGateway 只实现排名服务用到的两个方法，并统计扫描次数
type fakeGateway struct {
	mu              sync.Mutex
	instruments     []model.Instrument
	quotes          map[string]model.Quote
	instrumentCalls int
	quoteCalls      int
	fail            bool
}

func (f *fakeGateway) GetInstruments(ctx context.Context) ([]model.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instrumentCalls++
	if f.fail {
		return nil, errors.New("upstream down")
	}
	return f.instruments, nil
}

func (f *fakeGateway) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	if f.fail {
		return model.Quote{}, errors.New("upstream down")
	}
	quote, ok := f.quotes[symbol]
	if !ok {
		return model.Quote{}, errors.New("unknown symbol")
	}
	return quote, nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, symbol string, side model.Action, quantity int, price float64) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeGateway) GetPositions(ctx context.Context) ([]model.Position, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) DialStream(ctx context.Context) (api.StreamConn, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeGateway) scans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instrumentCalls
}

func testRankingConfig() service.RankingConfig {
	return service.RankingConfig{
		CacheTTL:   5 * time.Minute,
		BatchSize:  2,
		BatchPause: time.Millisecond,
		TopN:       50,
	}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		instruments: []model.Instrument{
			{Symbol: "AAA", Exchange: "NSE"},
			{Symbol: "BBB", Exchange: "NSE"},
			{Symbol: "CCC", Exchange: "NSE"},
			{Symbol: "ZZZ", Exchange: "BSE"}, // 非目标交易所，应被过滤
		},
		quotes: map[string]model.Quote{
			// 平均成交量 200；综合评分 AAA 0.6、BBB 1.0、CCC 0.203
			"AAA": {Symbol: "AAA", LastPrice: 100, Volume: 300},
			"BBB": {Symbol: "BBB", LastPrice: 100, Volume: 200, ChangePercent: 2},
			"CCC": {Symbol: "CCC", LastPrice: 100, Volume: 100, High: 101, Low: 100},
		},
	}
}

func newTestService(gw *fakeGateway) *Service {
	return NewService(gw, "NSE", testRankingConfig(), zap.NewNop())
}

func TestRankingOrder(t *testing.T) {
	gw := newFakeGateway()
	s := newTestService(gw)

	top, err := s.TopInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, top, 3)

	// 综合评分：BBB(1.0) > AAA(0.6) > CCC(0.203)
	assert.Equal(t, "BBB", top[0].Symbol)
	assert.Equal(t, "AAA", top[1].Symbol)
	assert.Equal(t, "CCC", top[2].Symbol)
}

func TestCacheHitSkipsRescan(t *testing.T) {
	gw := newFakeGateway()
	s := newTestService(gw)

	first, err := s.TopInstruments(context.Background())
	require.NoError(t, err)
	second, err := s.TopInstruments(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// TTL 内的第二次调用不会触发重扫
	assert.Equal(t, 1, gw.scans())
}

func TestCacheExpiryTriggersRescan(t *testing.T) {
	gw := newFakeGateway()
	s := newTestService(gw)

	current := time.Now()
	s.now = func() time.Time { return current }

	_, err := s.TopInstruments(context.Background())
	require.NoError(t, err)

	current = current.Add(6 * time.Minute)
	_, err = s.TopInstruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, gw.scans())
}

func TestStaleCacheServedOnFailure(t *testing.T) {
	gw := newFakeGateway()
	s := newTestService(gw)

	current := time.Now()
	s.now = func() time.Time { return current }

	first, err := s.TopInstruments(context.Background())
	require.NoError(t, err)

	// 缓存过期且上游故障：退回旧值而不报错
	gw.setFail(true)
	current = current.Add(6 * time.Minute)
	second, err := s.TopInstruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFailureWithoutCachePropagates(t *testing.T) {
	gw := newFakeGateway()
	gw.setFail(true)
	s := newTestService(gw)

	_, err := s.TopInstruments(context.Background())
	assert.Error(t, err)
}

func TestTopNTruncation(t *testing.T) {
	gw := newFakeGateway()
	s := newTestService(gw)
	s.cfg.TopN = 2

	top, err := s.TopInstruments(context.Background())
	require.NoError(t, err)
	assert.Len(t, top, 2)
}
