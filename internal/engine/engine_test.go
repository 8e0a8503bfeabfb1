package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-md/internal/binance"
	"binance-md/internal/book"
	"binance-md/internal/bus"
)

const eventually = 3 * time.Second

// upstream fakes the exchange: REST snapshots plus one combined WS feed the
// test writes frames into.
type upstream struct {
	mu         sync.Mutex
	depth      map[string]binance.DepthResponse
	depthHold  map[string]chan struct{}
	depthCalls map[string]int

	frames chan interface{}

	restSrv *httptest.Server
	wsSrv   *httptest.Server
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{
		depth:      make(map[string]binance.DepthResponse),
		depthHold:  make(map[string]chan struct{}),
		depthCalls: make(map[string]int),
		frames:     make(chan interface{}, 64),
	}

	u.restSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/depth":
			sym := r.URL.Query().Get("symbol")
			u.mu.Lock()
			hold := u.depthHold[sym]
			u.depthCalls[sym]++
			u.mu.Unlock()
			if hold != nil {
				<-hold
			}
			u.mu.Lock()
			resp := u.depth[sym]
			u.mu.Unlock()
			json.NewEncoder(w).Encode(resp)
		case "/api/v3/trades":
			w.Write([]byte("[]"))
		case "/api/v3/klines":
			w.Write([]byte("[]"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.restSrv.Close)

	upgrader := websocket.Upgrader{}
	u.wsSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for f := range u.frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	}))
	t.Cleanup(u.wsSrv.Close)
	// runs before wsSrv.Close, releases the handler goroutine
	t.Cleanup(func() { close(u.frames) })

	return u
}

func (u *upstream) setDepth(symbol string, resp binance.DepthResponse) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.depth[symbol] = resp
}

func (u *upstream) holdDepth(symbol string) chan struct{} {
	gate := make(chan struct{})
	u.mu.Lock()
	u.depthHold[symbol] = gate
	u.mu.Unlock()
	return gate
}

func (u *upstream) depthCallCount(symbol string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.depthCalls[symbol]
}

func (u *upstream) sendFrame(stream string, data interface{}) {
	u.frames <- map[string]interface{}{"stream": stream, "data": data}
}

// capture records bus events under a lock, handlers run on the dispatcher.
type capture struct {
	mu     sync.Mutex
	events map[string][]interface{}
}

func newCapture(b *bus.Bus, names ...string) *capture {
	c := &capture{events: make(map[string][]interface{})}
	for _, name := range names {
		name := name
		b.On(name, func(payload interface{}) {
			c.mu.Lock()
			c.events[name] = append(c.events[name], payload)
			c.mu.Unlock()
		})
	}
	return c
}

func (c *capture) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events[name])
}

func (c *capture) last(name string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	evs := c.events[name]
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

func startEngine(t *testing.T, u *upstream, b *bus.Bus, markets ...string) *Engine {
	t.Helper()
	rest := binance.NewRestClient("", "")
	rest.SetBaseURL(u.restSrv.URL)
	dialer := binance.NewWSDialer()
	dialer.SetBaseURL("ws" + strings.TrimPrefix(u.wsSrv.URL, "http"))

	e := New(rest, dialer, b, markets)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
	return e
}

func TestStartRejectsEmptyMarkets(t *testing.T) {
	e := New(binance.NewRestClient("", ""), binance.NewWSDialer(), bus.New(), nil)
	assert.Error(t, e.Start(context.Background()))
}

func TestReadyBarrierWaitsForAllSymbols(t *testing.T) {
	u := newUpstream(t)
	u.setDepth("BTCUSDT", binance.DepthResponse{LastUpdateId: 100, Bids: [][]string{{"10", "1"}}})
	u.setDepth("ETHUSDT", binance.DepthResponse{LastUpdateId: 300, Asks: [][]string{{"2000", "1"}}})
	gateA := u.holdDepth("BTCUSDT")
	gateB := u.holdDepth("ETHUSDT")

	b := bus.New()
	c := newCapture(b, EventOrderbookOpen, EventTradebookOpen, EventKlineOpen, EventReady)
	e := startEngine(t, u, b, "BTCUSDT", "ETHUSDT")

	// trade and kline snapshots are unblocked, their barriers complete first
	require.Eventually(t, func() bool {
		return c.count(EventTradebookOpen) == 1 && c.count(EventKlineOpen) == 1
	}, eventually, 10*time.Millisecond)
	assert.Zero(t, c.count(EventReady))

	close(gateA)
	require.Eventually(t, func() bool {
		return e.books["BTCUSDT"].Generation() == 100
	}, eventually, 10*time.Millisecond)
	assert.Zero(t, c.count(EventOrderbookOpen), "one snapshot must not open the barrier")

	close(gateB)
	require.Eventually(t, func() bool {
		return c.count(EventOrderbookOpen) == 1
	}, eventually, 10*time.Millisecond)

	books, ok := c.last(EventOrderbookOpen).(map[string]*book.OrderBook)
	require.True(t, ok)
	assert.Len(t, books, 2)
	assert.Contains(t, books, "BTCUSDT")
	assert.Contains(t, books, "ETHUSDT")

	require.Eventually(t, func() bool {
		return c.count(EventReady) == 1
	}, eventually, 10*time.Millisecond)
	assert.Equal(t, 1, c.count(EventOrderbookOpen), "barrier events fire exactly once")
}

func TestSnapshotThenDiffThenStale(t *testing.T) {
	u := newUpstream(t)
	u.setDepth("BTCUSDT", binance.DepthResponse{
		LastUpdateId: 100,
		Bids:         [][]string{{"10", "1"}},
		Asks:         [][]string{{"11", "2"}},
	})

	b := bus.New()
	c := newCapture(b, EventReady, EventTickerMessage)
	e := startEngine(t, u, b, "BTCUSDT")

	require.Eventually(t, func() bool { return c.count(EventReady) == 1 }, eventually, 10*time.Millisecond)

	u.sendFrame("btcusdt@depth", map[string]interface{}{
		"e": "depthUpdate", "s": "BTCUSDT",
		"U": 101, "u": 101,
		"b": [][]string{{"10", "0"}},
		"a": [][]string{{"12", "3"}},
	})

	ob := e.books["BTCUSDT"]
	require.Eventually(t, func() bool { return ob.Generation() == 101 }, eventually, 10*time.Millisecond)

	_, ok := ob.MaxBid()
	assert.False(t, ok, "bid side should be empty")
	best, ok := ob.MinAsk()
	require.True(t, ok)
	assert.True(t, best.Price.Equal(decimal.RequireFromString("11")))

	asks := ob.Asks(10)
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Volume.Equal(decimal.RequireFromString("2")))
	assert.True(t, asks[1].Volume.Equal(decimal.RequireFromString("3")))

	// a stale diff must leave the book untouched; a ticker frame after it
	// proves the dispatcher consumed both
	u.sendFrame("btcusdt@depth", map[string]interface{}{
		"e": "depthUpdate", "s": "BTCUSDT",
		"U": 99, "u": 99,
		"a": [][]string{{"50", "1"}},
	})
	u.sendFrame("btcusdt@ticker", map[string]interface{}{"e": "24hrTicker", "s": "BTCUSDT", "c": "10.5"})

	require.Eventually(t, func() bool { return c.count(EventTickerMessage) == 1 }, eventually, 10*time.Millisecond)
	assert.Equal(t, int64(101), ob.Generation())
	assert.Len(t, ob.Asks(10), 2)
}

func TestFirstDiffGapTriggersResync(t *testing.T) {
	u := newUpstream(t)
	u.setDepth("BTCUSDT", binance.DepthResponse{LastUpdateId: 100, Bids: [][]string{{"10", "1"}}})

	b := bus.New()
	c := newCapture(b, EventOrderbookOpen, EventReady)
	e := startEngine(t, u, b, "BTCUSDT")

	require.Eventually(t, func() bool { return c.count(EventReady) == 1 }, eventually, 10*time.Millisecond)

	// the refetched snapshot carries a newer generation
	u.setDepth("BTCUSDT", binance.DepthResponse{LastUpdateId: 200, Bids: [][]string{{"10", "2"}}})

	// first live diff skips past the snapshot: U > G+1
	u.sendFrame("btcusdt@depth", map[string]interface{}{
		"e": "depthUpdate", "s": "BTCUSDT",
		"U": 105, "u": 106,
		"b": [][]string{{"10", "9"}},
	})

	ob := e.books["BTCUSDT"]
	require.Eventually(t, func() bool { return ob.Generation() == 200 }, eventually, 10*time.Millisecond)
	assert.Equal(t, 2, u.depthCallCount("BTCUSDT"))
	assert.Equal(t, 1, c.count(EventOrderbookOpen), "resync must not reopen the barrier")

	// the first diff after the new snapshot is validated again
	u.sendFrame("btcusdt@depth", map[string]interface{}{
		"e": "depthUpdate", "s": "BTCUSDT",
		"U": 201, "u": 201,
		"b": [][]string{{"9", "1"}},
	})
	require.Eventually(t, func() bool { return ob.Generation() == 201 }, eventually, 10*time.Millisecond)
}

func TestDispatchNormalizesPayloads(t *testing.T) {
	u := newUpstream(t)
	u.setDepth("BTCUSDT", binance.DepthResponse{LastUpdateId: 100})

	b := bus.New()
	c := newCapture(b, EventReady, EventTickerMessage, EventTradeMessage, EventKlineMessage)
	startEngine(t, u, b, "BTCUSDT")

	require.Eventually(t, func() bool { return c.count(EventReady) == 1 }, eventually, 10*time.Millisecond)

	u.sendFrame("btcusdt@ticker", map[string]interface{}{
		"e": "24hrTicker", "s": "BTCUSDT",
		"l": "9", "h": "12", "c": "10.5", "v": "1000", "o": "10",
		"a": "10.6", "b": "10.4", "w": "10.2", "P": "5.00",
	})
	u.sendFrame("btcusdt@trade", map[string]interface{}{
		"e": "trade", "s": "BTCUSDT", "E": 1700000001234,
		"t": 77, "p": "10.5", "q": "0.25", "m": true,
	})
	u.sendFrame("btcusdt@kline_1m", map[string]interface{}{
		"e": "kline", "s": "BTCUSDT",
		"k": map[string]interface{}{
			"t": 1700000000000, "i": "1m",
			"o": "10", "h": "11", "l": "9", "c": "10.5", "v": "0.123456",
		},
	})

	require.Eventually(t, func() bool {
		return c.count(EventTickerMessage) == 1 && c.count(EventTradeMessage) == 1 && c.count(EventKlineMessage) == 1
	}, eventually, 10*time.Millisecond)

	ticker := c.last(EventTickerMessage).(TickerMessage)
	assert.Equal(t, "BTCUSDT", ticker.Symbol)
	assert.True(t, ticker.Data.Last.Equal(decimal.RequireFromString("10.5")))
	assert.True(t, ticker.Data.Sell.Equal(decimal.RequireFromString("10.6")))
	assert.True(t, ticker.Data.Buy.Equal(decimal.RequireFromString("10.4")))
	assert.Equal(t, "5.00", ticker.Data.PriceChangePercent)

	trade := c.last(EventTradeMessage).(TradeMessage)
	assert.Equal(t, int64(77), trade.Data.TID)
	assert.Equal(t, book.SideBuy, trade.Data.Type)
	assert.Equal(t, int64(1700000001), trade.Data.Date)
	assert.True(t, trade.Data.Amount.Equal(decimal.RequireFromString("0.25")))

	kline := c.last(EventKlineMessage).(KlineMessage)
	assert.Equal(t, 1, kline.Period)
	assert.Equal(t, int64(1700000000), kline.Data.OpenTime)
	assert.True(t, kline.Data.Volume.Equal(decimal.RequireFromString("0.1235")))
}

func TestSnapshotFailureEmitsErrorAndHoldsBarrier(t *testing.T) {
	u := newUpstream(t)
	// depth fails with an HTTP error while trades and klines succeed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/depth":
			http.Error(w, "teapot", http.StatusTeapot)
		case "/api/v3/trades":
			w.Write([]byte("[]"))
		case "/api/v3/klines":
			w.Write([]byte("[]"))
		}
	}))
	t.Cleanup(srv.Close)

	rest := binance.NewRestClient("", "")
	rest.SetBaseURL(srv.URL)
	dialer := binance.NewWSDialer()
	dialer.SetBaseURL("ws" + strings.TrimPrefix(u.wsSrv.URL, "http"))

	b := bus.New()
	c := newCapture(b, EventError, EventOrderbookOpen, EventReady)

	e := New(rest, dialer, b, []string{"BTCUSDT"})
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)

	require.Eventually(t, func() bool { return c.count(EventError) >= 1 }, eventually, 10*time.Millisecond)
	assert.Zero(t, c.count(EventOrderbookOpen))
	assert.Zero(t, c.count(EventReady), "failed snapshots must not count toward readiness")
}
