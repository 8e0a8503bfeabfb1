package book

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Trade sides as published on the tape.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Trade is one tape entry. AskID and BidID are zero for public trades where
// the exchange does not expose counterparty order ids.
type Trade struct {
	TID    int64           `json:"tid"`
	Side   string          `json:"side"`
	TS     int64           `json:"ts"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	AskID  int64           `json:"ask_id,omitempty"`
	BidID  int64           `json:"bid_id,omitempty"`
}

const maxTapeLen = 1000

// TradeBook keeps two bounded tapes for one symbol: the public market tape
// and the own-trades tape. Duplicate trade ids are kept as-is, the upstream
// may repost and dedupe is not this layer's job.
type TradeBook struct {
	symbol string

	mu     sync.RWMutex
	market []Trade
	own    []Trade
}

func NewTradeBook(symbol string) *TradeBook {
	return &TradeBook{symbol: symbol}
}

// Symbol returns the symbol this tape tracks.
func (tb *TradeBook) Symbol() string {
	return tb.symbol
}

// Add appends a trade to the market tape. ts is seconds since epoch.
func (tb *TradeBook) Add(tid int64, side string, ts int64, price, amount decimal.Decimal) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.market = appendCapped(tb.market, Trade{TID: tid, Side: side, TS: ts, Price: price, Amount: amount})
}

// AddOwn appends a fill of our own order to the own-trades tape.
func (tb *TradeBook) AddOwn(tid int64, side string, ts int64, price, amount decimal.Decimal, askID, bidID int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.own = appendCapped(tb.own, Trade{
		TID: tid, Side: side, TS: ts,
		Price: price, Amount: amount,
		AskID: askID, BidID: bidID,
	})
}

// Fetch returns up to n market trades, newest first.
func (tb *TradeBook) Fetch(n int) []Trade {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return newestFirst(tb.market, n)
}

// FetchOwn returns the full own-trades tape, newest first.
func (tb *TradeBook) FetchOwn() []Trade {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return newestFirst(tb.own, len(tb.own))
}

func appendCapped(tape []Trade, t Trade) []Trade {
	tape = append(tape, t)
	if len(tape) > maxTapeLen {
		tape = tape[len(tape)-maxTapeLen:]
	}
	return tape
}

func newestFirst(tape []Trade, n int) []Trade {
	if n > len(tape) {
		n = len(tape)
	}
	out := make([]Trade, 0, n)
	for i := len(tape) - 1; i >= len(tape)-n; i-- {
		out = append(out, tape[i])
	}
	return out
}
