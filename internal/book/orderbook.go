package book

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"
)

func decimalComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

// PriceLevel is one (price, volume) rung of the ladder.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// Update deltas returned by Bid and Ask.
const (
	LevelRemoved   = -1
	LevelUnchanged = 0
	LevelInserted  = +1
)

// OrderBook maintains a price-sorted bid/ask ladder for a single symbol.
// Every update carries a generation (Binance lastUpdateId for snapshots,
// u for diffs); updates older than the last applied generation are dropped.
// A crossed book after an update is kept as-is so consumers can observe it.
type OrderBook struct {
	symbol string

	mu         sync.RWMutex
	bids       *treemap.Map // decimal.Decimal -> decimal.Decimal, best = Max
	asks       *treemap.Map // decimal.Decimal -> decimal.Decimal, best = Min
	generation int64
}

// NewOrderBook creates an empty book at generation zero.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   treemap.NewWith(decimalComparator),
		asks:   treemap.NewWith(decimalComparator),
	}
}

// Symbol returns the symbol this book tracks.
func (ob *OrderBook) Symbol() string {
	return ob.symbol
}

// Generation returns the last applied generation.
func (ob *OrderBook) Generation() int64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.generation
}

// Bid applies a single bid-side update. It returns LevelInserted when a new
// price level appears, LevelRemoved when volume zero deletes one, and
// LevelUnchanged for in-place volume updates and rejected stale updates.
func (ob *OrderBook) Bid(price, volume decimal.Decimal, generation int64) int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.apply(ob.bids, price, volume, generation)
}

// Ask is the ask-side counterpart of Bid.
func (ob *OrderBook) Ask(price, volume decimal.Decimal, generation int64) int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.apply(ob.asks, price, volume, generation)
}

func (ob *OrderBook) apply(side *treemap.Map, price, volume decimal.Decimal, generation int64) int {
	if generation < ob.generation {
		return LevelUnchanged
	}
	if generation > ob.generation {
		ob.generation = generation
	}

	_, exists := side.Get(price)
	if volume.IsZero() {
		if !exists {
			return LevelUnchanged
		}
		side.Remove(price)
		return LevelRemoved
	}
	side.Put(price, volume)
	if exists {
		return LevelUnchanged
	}
	return LevelInserted
}

// Commit atomically replaces the book contents with the snapshot levels and
// pins the generation to the snapshot's lastUpdateId. Zero-volume seed levels
// are skipped so the stored-volume invariant holds.
func (ob *OrderBook) Commit(generation int64, bids, asks []PriceLevel) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.bids.Clear()
	ob.asks.Clear()
	for _, lvl := range bids {
		if lvl.Volume.IsZero() {
			continue
		}
		ob.bids.Put(lvl.Price, lvl.Volume)
	}
	for _, lvl := range asks {
		if lvl.Volume.IsZero() {
			continue
		}
		ob.asks.Put(lvl.Price, lvl.Volume)
	}
	ob.generation = generation
}

// MaxBid returns the best (highest) bid. The second return is false when the
// side is empty.
func (ob *OrderBook) MaxBid() (PriceLevel, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	price, volume := ob.bids.Max()
	if price == nil {
		return PriceLevel{}, false
	}
	return PriceLevel{Price: price.(decimal.Decimal), Volume: volume.(decimal.Decimal)}, true
}

// MinAsk returns the best (lowest) ask. The second return is false when the
// side is empty.
func (ob *OrderBook) MinAsk() (PriceLevel, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	price, volume := ob.asks.Min()
	if price == nil {
		return PriceLevel{}, false
	}
	return PriceLevel{Price: price.(decimal.Decimal), Volume: volume.(decimal.Decimal)}, true
}

// Bids returns up to n bid levels, highest price first. The slice is a
// point-in-time copy.
func (ob *OrderBook) Bids(n int) []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	levels := make([]PriceLevel, 0, n)
	it := ob.bids.Iterator()
	for it.End(); it.Prev() && len(levels) < n; {
		levels = append(levels, PriceLevel{
			Price:  it.Key().(decimal.Decimal),
			Volume: it.Value().(decimal.Decimal),
		})
	}
	return levels
}

// Asks returns up to n ask levels, lowest price first. The slice is a
// point-in-time copy.
func (ob *OrderBook) Asks(n int) []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	levels := make([]PriceLevel, 0, n)
	it := ob.asks.Iterator()
	for it.Next() && len(levels) < n {
		levels = append(levels, PriceLevel{
			Price:  it.Key().(decimal.Decimal),
			Volume: it.Value().(decimal.Decimal),
		})
	}
	return levels
}

// Depth returns the number of bid and ask levels currently stored.
func (ob *OrderBook) Depth() (bids, asks int) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.Size(), ob.asks.Size()
}
