package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kite-algo-trader/internal/model"
)

// fakeStreamConn 是内存中的推流连接：测试通过 incoming 注入消息，
// 通过 frames 观察分发器写出的控制消息
type fakeStreamConn struct {
	mu       sync.Mutex
	frames   []controlFrame
	incoming chan []byte
	closed   bool
}

func newFakeStreamConn() *fakeStreamConn {
	return &fakeStreamConn{incoming: make(chan []byte, 16)}
}

func (c *fakeStreamConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.incoming
	if !ok {
		return 0, nil, errors.New("stream closed")
	}
	return 1, msg, nil
}

func (c *fakeStreamConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	return nil
}

func (c *fakeStreamConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.incoming)
	}
	return nil
}

func (c *fakeStreamConn) writtenFrames() []controlFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]controlFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

// fakeStreamGateway 按预设序列提供连接，耗尽后一律拨号失败
type fakeStreamGateway struct {
	mu    sync.Mutex
	conns []StreamConn
	dials int
}

func (g *fakeStreamGateway) DialStream(ctx context.Context) (StreamConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dials++
	if len(g.conns) == 0 {
		return nil, errors.New("dial failed")
	}
	conn := g.conns[0]
	g.conns = g.conns[1:]
	return conn, nil
}

func (g *fakeStreamGateway) dialCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

func (g *fakeStreamGateway) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	return model.Quote{}, errors.New("not implemented")
}

func (g *fakeStreamGateway) GetInstruments(ctx context.Context) ([]model.Instrument, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeStreamGateway) PlaceOrder(ctx context.Context, symbol string, side model.Action, quantity int, price float64) (string, error) {
	return "", errors.New("not implemented")
}

func (g *fakeStreamGateway) GetPositions(ctx context.Context) ([]model.Position, error) {
	return nil, errors.New("not implemented")
}

func newTestDistributor(gw Gateway) *Distributor {
	d := NewDistributor(gw, zap.NewNop())
	d.ReconnectDelay = time.Millisecond
	return d
}

func tickMessage(t *testing.T, quote model.Quote) []byte {
	t.Helper()
	data, err := json.Marshal(tickFrame{
		Symbol:        quote.Symbol,
		LastPrice:     quote.LastPrice,
		Change:        quote.Change,
		ChangePercent: quote.ChangePercent,
		Volume:        quote.Volume,
		High:          quote.High,
		Low:           quote.Low,
	})
	require.NoError(t, err)
	return data
}

func TestSubscribeControlFrameIdempotent(t *testing.T) {
	d := newTestDistributor(&fakeStreamGateway{})
	conn := newFakeStreamConn()
	d.attachConn(conn)

	cancel1 := d.Subscribe("INFY", func(model.Quote) {})
	cancel2 := d.Subscribe("INFY", func(model.Quote) {})

	// 第一个订阅者触发一条订阅消息，第二个不再发送
	frames := conn.writtenFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, "subscribe", frames[0].Action)
	assert.Equal(t, []string{"INFY"}, frames[0].Symbols)

	// 订阅者清空时才发送退订消息
	cancel1()
	assert.Len(t, conn.writtenFrames(), 1)
	cancel2()
	frames = conn.writtenFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, "unsubscribe", frames[1].Action)
}

func TestDispatchInvokesCallbacksInOrder(t *testing.T) {
	d := newTestDistributor(&fakeStreamGateway{})

	var mu sync.Mutex
	var order []string
	var received model.Quote
	d.Subscribe("INFY", func(quote model.Quote) {
		mu.Lock()
		order = append(order, "first")
		received = quote
		mu.Unlock()
	})
	d.Subscribe("INFY", func(model.Quote) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})
	d.Subscribe("TCS", func(model.Quote) {
		t.Error("callback for another symbol must not fire")
	})

	quote := model.Quote{Symbol: "INFY", LastPrice: 1500.5, Volume: 250000, High: 1510, Low: 1490}
	d.dispatch(tickMessage(t, quote))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, quote, received)
}

func TestCallbackPanicDoesNotStopDispatch(t *testing.T) {
	d := newTestDistributor(&fakeStreamGateway{})

	called := false
	d.Subscribe("INFY", func(model.Quote) { panic("boom") })
	d.Subscribe("INFY", func(model.Quote) { called = true })

	d.dispatch(tickMessage(t, model.Quote{Symbol: "INFY", LastPrice: 100}))
	assert.True(t, called, "second callback must run despite first panicking")
}

func TestMalformedMessageIgnored(t *testing.T) {
	d := newTestDistributor(&fakeStreamGateway{})
	d.Subscribe("INFY", func(model.Quote) { t.Error("must not dispatch garbage") })

	d.dispatch([]byte("not json"))
	d.dispatch([]byte(`{"event":"connected"}`)) // 无 symbol 的事件帧
}

func TestReconnectStopsAfterMaxAttempts(t *testing.T) {
	// 初次连接成功后立即断开，此后所有拨号都失败
	conn := newFakeStreamConn()
	conn.Close()
	gw := &fakeStreamGateway{conns: []StreamConn{conn}}

	d := newTestDistributor(gw)
	d.Start(context.Background())

	// 1 次初始拨号 + 5 次重连，之后静默
	require.Eventually(t, func() bool { return gw.dialCount() == 6 },
		time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 6, gw.dialCount())
}

func TestReconnectBudgetNotRestoredBySuccessfulRedial(t *testing.T) {
	// 每次拨号都成功但连接立即断开：配额跨成功重连累计消耗，
	// 1 次初始拨号 + 5 次重连之后进入静默，不会无限重拨
	conns := make([]StreamConn, 20)
	for i := range conns {
		conn := newFakeStreamConn()
		conn.Close()
		conns[i] = conn
	}
	gw := &fakeStreamGateway{conns: conns}

	d := newTestDistributor(gw)
	d.Start(context.Background())

	require.Eventually(t, func() bool { return gw.dialCount() == 6 },
		time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 6, gw.dialCount())
}

func TestReinitializeAfterInert(t *testing.T) {
	conn := newFakeStreamConn()
	conn.Close()
	gw := &fakeStreamGateway{conns: []StreamConn{conn}}

	d := newTestDistributor(gw)
	d.Start(context.Background())
	require.Eventually(t, func() bool { return gw.dialCount() == 6 },
		time.Second, time.Millisecond)

	// 显式重新初始化后恢复拨号
	live := newFakeStreamConn()
	gw.mu.Lock()
	gw.conns = []StreamConn{live}
	gw.mu.Unlock()

	require.Eventually(t, func() bool {
		d.mu.Lock()
		idle := !d.running
		d.mu.Unlock()
		return idle
	}, time.Second, time.Millisecond)

	d.Reinitialize(context.Background())
	require.Eventually(t, func() bool { return gw.dialCount() >= 7 },
		time.Second, time.Millisecond)
	d.Stop()
}

func TestResubscribeAfterReconnect(t *testing.T) {
	d := newTestDistributor(&fakeStreamGateway{})
	d.Subscribe("INFY", func(model.Quote) {})
	d.Subscribe("TCS", func(model.Quote) {})

	conn := newFakeStreamConn()
	d.attachConn(conn)

	frames := conn.writtenFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, "subscribe", frames[0].Action)
	assert.ElementsMatch(t, []string{"INFY", "TCS"}, frames[0].Symbols)
}

func TestStreamDeliveryEndToEnd(t *testing.T) {
	conn := newFakeStreamConn()
	gw := &fakeStreamGateway{conns: []StreamConn{conn}}
	d := newTestDistributor(gw)

	quotes := make(chan model.Quote, 1)
	d.Subscribe("INFY", func(quote model.Quote) { quotes <- quote })

	d.Start(context.Background())
	require.Eventually(t, func() bool { return gw.dialCount() == 1 },
		time.Second, time.Millisecond)

	conn.incoming <- tickMessage(t, model.Quote{Symbol: "INFY", LastPrice: 1500})

	select {
	case quote := <-quotes:
		assert.Equal(t, 1500.0, quote.LastPrice)
	case <-time.After(time.Second):
		t.Fatal("tick was not delivered")
	}
	d.Stop()
}
