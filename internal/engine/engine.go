// Package engine drives the combined market-data stream: it loads the
// per-symbol REST snapshots, applies live diffs to the in-memory stores and
// re-emits normalized updates on the bus.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"binance-md/internal/binance"
	"binance-md/internal/book"
	"binance-md/internal/bus"
	"binance-md/internal/metrics"
)

// Engine owns one OrderBook, TradeBook and KLineSeries per configured symbol
// for its lifetime. A single dispatcher goroutine consumes WebSocket frames
// and snapshot results from one channel, so per-symbol event order follows
// frame arrival order.
type Engine struct {
	rest    *binance.RestClient
	dialer  *binance.WSDialer
	bus     *bus.Bus
	markets []string

	books  map[string]*book.OrderBook
	tapes  map[string]*book.TradeBook
	klines map[string]*book.KLineSeries

	conn *websocket.Conn
	msgs chan interface{}
	done chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// Messages consumed by the dispatcher.
type (
	wsFrame struct {
		frame binance.StreamFrame
	}
	wsError struct {
		err error
	}
	depthResult struct {
		symbol string
		depth  *binance.DepthResponse
		err    error
	}
	tradesResult struct {
		symbol string
		trades []binance.RecentTrade
		err    error
	}
	klinesResult struct {
		symbol string
		period int
		rows   []binance.Kline
		err    error
	}
)

// New creates an engine for the given markets. Symbols are kept uppercase
// internally and lowercased on the wire.
func New(rest *binance.RestClient, dialer *binance.WSDialer, b *bus.Bus, markets []string) *Engine {
	upper := make([]string, len(markets))
	for i, m := range markets {
		upper[i] = strings.ToUpper(m)
	}
	return &Engine{
		rest:    rest,
		dialer:  dialer,
		bus:     b,
		markets: upper,
		msgs:    make(chan interface{}, 256),
		done:    make(chan struct{}),
	}
}

// Start validates the configuration, opens the combined stream and issues all
// startup snapshot requests. It returns once the stream is connected; the
// ready barrier is reported through bus events.
func (e *Engine) Start(ctx context.Context) error {
	if len(e.markets) == 0 {
		return fmt.Errorf("start engine: empty markets list")
	}

	e.books = make(map[string]*book.OrderBook, len(e.markets))
	e.tapes = make(map[string]*book.TradeBook, len(e.markets))
	e.klines = make(map[string]*book.KLineSeries, len(e.markets))
	for _, sym := range e.markets {
		e.books[sym] = book.NewOrderBook(sym)
		e.tapes[sym] = book.NewTradeBook(sym)
		e.klines[sym] = book.NewKLineSeries(sym)
	}

	conn, err := e.dialer.DialCombined(ctx, e.streamNames())
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	e.conn = conn
	metrics.RecordConnectionStatus(true)

	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(2)
	go e.readLoop()
	go e.dispatch()

	for _, sym := range e.markets {
		e.fetchDepthSnapshot(sym)
		e.fetchRecentTrades(sym)
		for _, period := range book.Periods {
			e.fetchKlines(sym, period)
		}
	}

	log.Info().Strs("markets", e.markets).Msg("Stream engine started")
	return nil
}

// Stop closes the stream, cancels outstanding snapshot requests and waits for
// the dispatcher to drain. Safe to call more than once.
func (e *Engine) Stop() {
	e.closeOnce.Do(func() {
		close(e.done)
		if e.cancel != nil {
			e.cancel()
		}
		if e.conn != nil {
			e.conn.Close()
		}
	})
	e.wg.Wait()
	metrics.RecordConnectionStatus(false)
	log.Info().Msg("Stream engine stopped")
}

func (e *Engine) streamNames() []string {
	streams := make([]string, 0, len(e.markets)*(3+len(book.Periods)))
	for _, sym := range e.markets {
		lower := strings.ToLower(sym)
		streams = append(streams, lower+"@depth", lower+"@ticker", lower+"@trade")
		for _, period := range book.Periods {
			label, _ := book.Humanize(period)
			streams = append(streams, lower+"@kline_"+label)
		}
	}
	return streams
}

// send delivers a message to the dispatcher unless the engine is stopping.
func (e *Engine) send(m interface{}) {
	select {
	case e.msgs <- m:
	case <-e.done:
	}
}

func (e *Engine) readLoop() {
	defer e.wg.Done()
	for {
		_, raw, err := e.conn.ReadMessage()
		if err != nil {
			select {
			case <-e.done:
			default:
				metrics.RecordConnectionStatus(false)
				e.send(wsError{err: err})
			}
			return
		}

		var frame binance.StreamFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Warn().Err(err).Msg("Malformed stream frame")
			continue
		}
		e.send(wsFrame{frame: frame})
	}
}

func (e *Engine) fetchDepthSnapshot(symbol string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := metrics.NewTimer()
		depth, err := e.rest.FetchDepth(e.ctx, symbol)
		timer.ObserveDuration(metrics.RestFetchDuration, "depth")
		if err != nil {
			metrics.RestFetchErrors.WithLabelValues("depth").Inc()
		}
		e.send(depthResult{symbol: symbol, depth: depth, err: err})
	}()
}

func (e *Engine) fetchRecentTrades(symbol string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := metrics.NewTimer()
		trades, err := e.rest.FetchRecentTrades(e.ctx, symbol)
		timer.ObserveDuration(metrics.RestFetchDuration, "trades")
		if err != nil {
			metrics.RestFetchErrors.WithLabelValues("trades").Inc()
		}
		e.send(tradesResult{symbol: symbol, trades: trades, err: err})
	}()
}

func (e *Engine) fetchKlines(symbol string, period int) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		label, _ := book.Humanize(period)
		timer := metrics.NewTimer()
		rows, err := e.rest.FetchKlines(e.ctx, symbol, label)
		timer.ObserveDuration(metrics.RestFetchDuration, "klines")
		if err != nil {
			metrics.RestFetchErrors.WithLabelValues("klines").Inc()
		}
		e.send(klinesResult{symbol: symbol, period: period, rows: rows, err: err})
	}()
}

// dispatch is the single goroutine mutating the stores and emitting events.
func (e *Engine) dispatch() {
	defer e.wg.Done()

	depthPending := len(e.markets)
	tradePending := len(e.markets)
	klinePending := len(e.markets) * len(book.Periods)
	committed := make(map[string]bool, len(e.markets))
	awaitingFirstDiff := make(map[string]bool, len(e.markets))
	readySent := false

	e.setBarrierGauges(depthPending, tradePending, klinePending)

	maybeReady := func() {
		if !readySent && depthPending == 0 && tradePending == 0 && klinePending == 0 {
			readySent = true
			log.Info().Msg("All startup snapshots loaded")
			e.bus.Emit(EventReady, nil)
		}
	}

	for {
		select {
		case <-e.done:
			return
		case m := <-e.msgs:
			switch msg := m.(type) {
			case wsError:
				e.bus.Emit(EventError, fmt.Sprintf("stream: %s", msg.err))

			case depthResult:
				if msg.err != nil {
					e.bus.Emit(EventError, fmt.Sprintf("depth snapshot %s: %s", msg.symbol, msg.err))
					continue
				}
				b := e.books[msg.symbol]
				b.Commit(msg.depth.LastUpdateId, parseLevels(msg.depth.Bids), parseLevels(msg.depth.Asks))
				awaitingFirstDiff[msg.symbol] = true
				log.Info().
					Str("symbol", msg.symbol).
					Int64("generation", msg.depth.LastUpdateId).
					Msg("Orderbook snapshot committed")

				if !committed[msg.symbol] {
					committed[msg.symbol] = true
					depthPending--
					e.setBarrierGauges(depthPending, tradePending, klinePending)
					if depthPending == 0 {
						e.bus.Emit(EventOrderbookOpen, e.bookMap())
					}
					maybeReady()
				}

			case tradesResult:
				if msg.err != nil {
					e.bus.Emit(EventError, fmt.Sprintf("recent trades %s: %s", msg.symbol, msg.err))
					continue
				}
				tape := e.tapes[msg.symbol]
				for _, t := range msg.trades {
					// TODO: isBuyerMaker=true means the aggressor sold, so this
					// labeling is inverted. Downstream consumers depend on it;
					// flip together with the live-stream side in handleTrade.
					side := book.SideSell
					if t.IsBuyerMaker {
						side = book.SideBuy
					}
					tape.Add(t.Id, side, t.Time/1000, dec(t.Price), dec(t.Qty))
				}
				tradePending--
				e.setBarrierGauges(depthPending, tradePending, klinePending)
				if tradePending == 0 {
					e.bus.Emit(EventTradebookOpen, e.tapeMap())
				}
				maybeReady()

			case klinesResult:
				if msg.err != nil {
					e.bus.Emit(EventError, fmt.Sprintf("klines %s/%d: %s", msg.symbol, msg.period, msg.err))
					continue
				}
				series := e.klines[msg.symbol]
				for _, row := range msg.rows {
					if err := series.Add(msg.period, row.OpenTime, dec(row.Open), dec(row.High), dec(row.Low), dec(row.Close), dec(row.Volume)); err != nil {
						log.Warn().Err(err).Str("symbol", msg.symbol).Msg("Dropping kline row")
					}
				}
				klinePending--
				e.setBarrierGauges(depthPending, tradePending, klinePending)
				if klinePending == 0 {
					e.bus.Emit(EventKlineOpen, e.klineMap())
				}
				maybeReady()

			case wsFrame:
				e.handleFrame(msg.frame, awaitingFirstDiff)
			}
		}
	}
}

func (e *Engine) handleFrame(frame binance.StreamFrame, awaitingFirstDiff map[string]bool) {
	name, kind, ok := strings.Cut(frame.Stream, "@")
	if !ok {
		log.Warn().Str("stream", frame.Stream).Msg("Unroutable stream name")
		return
	}
	symbol := strings.ToUpper(name)
	metrics.StreamMessages.WithLabelValues(symbol, kind).Inc()

	switch {
	case kind == "depth":
		e.handleDepth(symbol, frame.Data, awaitingFirstDiff)
	case kind == "ticker":
		e.handleTicker(symbol, frame.Data)
	case kind == "trade":
		e.handleTrade(symbol, frame.Data)
	case strings.HasPrefix(kind, "kline_"):
		e.handleKline(symbol, strings.TrimPrefix(kind, "kline_"), frame.Data)
	default:
		log.Warn().Str("stream", frame.Stream).Msg("Unknown stream kind")
	}
}

func (e *Engine) handleDepth(symbol string, data json.RawMessage, awaitingFirstDiff map[string]bool) {
	var ev binance.WSDepthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Malformed depth event")
		return
	}
	b, ok := e.books[symbol]
	if !ok {
		return
	}

	gen := b.Generation()
	if ev.FinalUpdateId <= gen {
		metrics.OrderbookStaleDrops.WithLabelValues(symbol).Inc()
		log.Debug().
			Str("symbol", symbol).
			Int64("u", ev.FinalUpdateId).
			Int64("generation", gen).
			Msg("Dropped stale depth diff")
		return
	}

	if awaitingFirstDiff[symbol] {
		if ev.FirstUpdateId > gen+1 {
			// gap between snapshot and stream, the book cannot be trusted
			metrics.OrderbookResyncs.WithLabelValues(symbol).Inc()
			log.Warn().
				Str("symbol", symbol).
				Int64("U", ev.FirstUpdateId).
				Int64("generation", gen).
				Msg("Depth diff gap after snapshot, refetching")
			awaitingFirstDiff[symbol] = false
			e.fetchDepthSnapshot(symbol)
			return
		}
		awaitingFirstDiff[symbol] = false
	}

	var bidDelta, askDelta int
	for _, lvl := range ev.Bids {
		if len(lvl) < 2 {
			continue
		}
		bidDelta += b.Bid(dec(lvl[0]), dec(lvl[1]), ev.FinalUpdateId)
	}
	for _, lvl := range ev.Asks {
		if len(lvl) < 2 {
			continue
		}
		askDelta += b.Ask(dec(lvl[0]), dec(lvl[1]), ev.FinalUpdateId)
	}

	log.Debug().
		Str("symbol", symbol).
		Int64("u", ev.FinalUpdateId).
		Int("bid_delta", bidDelta).
		Int("ask_delta", askDelta).
		Msg("Depth diff applied")

	bidDepth, askDepth := b.Depth()
	var bestBid, bestAsk float64
	if lvl, ok := b.MaxBid(); ok {
		bestBid = lvl.Price.InexactFloat64()
	}
	if lvl, ok := b.MinAsk(); ok {
		bestAsk = lvl.Price.InexactFloat64()
	}
	metrics.RecordOrderbookUpdate(symbol, bidDepth, askDepth, bestBid, bestAsk)
}

func (e *Engine) handleTicker(symbol string, data json.RawMessage) {
	var ev binance.WSTickerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Malformed ticker event")
		return
	}
	e.bus.Emit(EventTickerMessage, TickerMessage{
		Symbol: symbol,
		Data: TickerData{
			Low:                dec(ev.LowPrice),
			High:               dec(ev.HighPrice),
			Last:               dec(ev.LastPrice),
			Volume:             dec(ev.Volume),
			Open:               dec(ev.OpenPrice),
			Sell:               dec(ev.BestAskPrice),
			Buy:                dec(ev.BestBidPrice),
			AvgPrice:           dec(ev.WeightedAvgPrice),
			PriceChangePercent: ev.PriceChangePercent,
		},
	})
}

func (e *Engine) handleTrade(symbol string, data json.RawMessage) {
	var ev binance.WSTradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Malformed trade event")
		return
	}
	// the tape stays as seeded, live trades are bus-only
	side := book.SideSell
	if ev.IsBuyerMaker {
		side = book.SideBuy
	}
	e.bus.Emit(EventTradeMessage, TradeMessage{
		Symbol: symbol,
		Data: TradeData{
			TID:    ev.TradeId,
			Type:   side,
			Date:   ev.EventTime / 1000,
			Price:  dec(ev.Price),
			Amount: dec(ev.Quantity),
		},
	})
}

func (e *Engine) handleKline(symbol, label string, data json.RawMessage) {
	period, err := book.ParsePeriod(label)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Unknown kline stream label")
		return
	}
	var ev binance.WSKlineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Malformed kline event")
		return
	}
	k := ev.Kline
	e.bus.Emit(EventKlineMessage, KlineMessage{
		Symbol: symbol,
		Period: period,
		Data:   book.Normalize(k.StartTime, dec(k.Open), dec(k.High), dec(k.Low), dec(k.Close), dec(k.Volume)),
	})
}

func (e *Engine) setBarrierGauges(depth, trade, kline int) {
	metrics.SnapshotsPending.WithLabelValues("depth").Set(float64(depth))
	metrics.SnapshotsPending.WithLabelValues("trade").Set(float64(trade))
	metrics.SnapshotsPending.WithLabelValues("kline").Set(float64(kline))
}

func (e *Engine) bookMap() map[string]*book.OrderBook {
	out := make(map[string]*book.OrderBook, len(e.books))
	for sym, b := range e.books {
		out[sym] = b
	}
	return out
}

func (e *Engine) tapeMap() map[string]*book.TradeBook {
	out := make(map[string]*book.TradeBook, len(e.tapes))
	for sym, t := range e.tapes {
		out[sym] = t
	}
	return out
}

func (e *Engine) klineMap() map[string]*book.KLineSeries {
	out := make(map[string]*book.KLineSeries, len(e.klines))
	for sym, k := range e.klines {
		out[sym] = k
	}
	return out
}

func parseLevels(raw [][]string) []book.PriceLevel {
	levels := make([]book.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		levels = append(levels, book.PriceLevel{Price: dec(lvl[0]), Volume: dec(lvl[1])})
	}
	return levels
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Warn().Str("value", s).Msg("Unparsable decimal, using zero")
		return decimal.Zero
	}
	return d
}
