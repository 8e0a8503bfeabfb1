package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOrderBookSnapshotThenDiff(t *testing.T) {
	ob := NewOrderBook("BTCUSDT")
	ob.Commit(100,
		[]PriceLevel{{Price: d("10"), Volume: d("1")}},
		[]PriceLevel{{Price: d("11"), Volume: d("2")}},
	)
	require.Equal(t, int64(100), ob.Generation())

	assert.Equal(t, LevelRemoved, ob.Bid(d("10"), d("0"), 101))
	assert.Equal(t, LevelInserted, ob.Ask(d("12"), d("3"), 101))

	assert.Equal(t, int64(101), ob.Generation())

	_, ok := ob.MaxBid()
	assert.False(t, ok, "bid side should be empty")

	best, ok := ob.MinAsk()
	require.True(t, ok)
	assert.True(t, best.Price.Equal(d("11")))
	assert.True(t, best.Volume.Equal(d("2")))

	asks := ob.Asks(10)
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(d("11")))
	assert.True(t, asks[1].Price.Equal(d("12")))
}

func TestOrderBookStaleUpdateDropped(t *testing.T) {
	ob := NewOrderBook("BTCUSDT")
	ob.Commit(200, nil, []PriceLevel{{Price: d("60"), Volume: d("2")}})

	assert.Equal(t, LevelUnchanged, ob.Ask(d("50"), d("1"), 199))
	assert.Equal(t, int64(200), ob.Generation())

	_, asks := ob.Depth()
	assert.Equal(t, 1, asks)
}

func TestOrderBookGenerationMonotonic(t *testing.T) {
	ob := NewOrderBook("ETHUSDT")
	ob.Bid(d("1"), d("1"), 5)
	ob.Bid(d("2"), d("1"), 3)
	assert.Equal(t, int64(5), ob.Generation())
	// equal generation is accepted, multi-level diffs share one u
	assert.Equal(t, LevelInserted, ob.Bid(d("3"), d("1"), 5))
}

func TestOrderBookVolumeSemantics(t *testing.T) {
	ob := NewOrderBook("ETHUSDT")

	assert.Equal(t, LevelInserted, ob.Bid(d("100"), d("5"), 1))
	assert.Equal(t, LevelUnchanged, ob.Bid(d("100"), d("7"), 2))

	bids := ob.Bids(1)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Volume.Equal(d("7")))

	assert.Equal(t, LevelRemoved, ob.Bid(d("100"), d("0"), 3))
	assert.Equal(t, LevelUnchanged, ob.Bid(d("100"), d("0"), 4), "removing an absent level is a no-op")

	bidDepth, _ := ob.Depth()
	assert.Zero(t, bidDepth)
}

func TestOrderBookSortedTraversal(t *testing.T) {
	ob := NewOrderBook("BTCUSDT")
	for i, p := range []string{"9", "11", "10", "8.5"} {
		ob.Bid(d(p), d("1"), int64(i+1))
	}
	bids := ob.Bids(3)
	require.Len(t, bids, 3)
	assert.True(t, bids[0].Price.Equal(d("11")))
	assert.True(t, bids[1].Price.Equal(d("10")))
	assert.True(t, bids[2].Price.Equal(d("9")))

	best, ok := ob.MaxBid()
	require.True(t, ok)
	assert.True(t, best.Price.Equal(d("11")))
}

func TestOrderBookCommitReplacesState(t *testing.T) {
	ob := NewOrderBook("BTCUSDT")
	ob.Bid(d("1"), d("1"), 50)
	ob.Ask(d("2"), d("1"), 51)

	ob.Commit(40,
		[]PriceLevel{{Price: d("3"), Volume: d("4")}, {Price: d("5"), Volume: d("0")}},
		nil,
	)

	// commit pins the generation even below the previous one
	assert.Equal(t, int64(40), ob.Generation())

	bidDepth, askDepth := ob.Depth()
	assert.Equal(t, 1, bidDepth, "zero-volume seed levels are skipped")
	assert.Zero(t, askDepth)
}

func TestOrderBookReplayAtSnapshotGeneration(t *testing.T) {
	ob := NewOrderBook("BTCUSDT")
	bids := []PriceLevel{{Price: d("10"), Volume: d("1")}}
	asks := []PriceLevel{{Price: d("11"), Volume: d("2")}}
	ob.Commit(100, bids, asks)

	// a diff at u == G replaying the snapshot levels must be a no-op in content
	assert.Equal(t, LevelUnchanged, ob.Bid(d("10"), d("1"), 100))
	assert.Equal(t, LevelUnchanged, ob.Ask(d("11"), d("2"), 100))

	assert.Equal(t, int64(100), ob.Generation())
	assert.Equal(t, bids, ob.Bids(10))
	assert.Equal(t, asks, ob.Asks(10))
}
