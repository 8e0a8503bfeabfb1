package book

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrUnknownPeriod is returned for periods outside the recognized set.
var ErrUnknownPeriod = fmt.Errorf("unknown k-line period")

// Periods lists the recognized candle periods in minutes.
var Periods = []int{1, 5, 15, 30, 60, 120, 240, 360, 720, 1440, 4320, 10080}

var periodLabels = map[int]string{
	1:     "1m",
	5:     "5m",
	15:    "15m",
	30:    "30m",
	60:    "1h",
	120:   "2h",
	240:   "4h",
	360:   "6h",
	720:   "12h",
	1440:  "1d",
	4320:  "3d",
	10080: "1w",
}

var labelPeriods = func() map[string]int {
	m := make(map[string]int, len(periodLabels))
	for p, l := range periodLabels {
		m[l] = p
	}
	return m
}()

// Humanize maps a period in minutes to the exchange interval label.
func Humanize(period int) (string, error) {
	label, ok := periodLabels[period]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownPeriod, period)
	}
	return label, nil
}

// ParsePeriod is the inverse of Humanize.
func ParsePeriod(label string) (int, error) {
	period, ok := labelPeriods[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPeriod, label)
	}
	return period, nil
}

// KLine is one OHLCV point. OpenTime is seconds since epoch and Volume is
// rounded to 4 decimal places on ingestion.
type KLine struct {
	OpenTime int64           `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// KLineSeries stores one candle list per recognized period for a symbol.
type KLineSeries struct {
	symbol string

	mu     sync.RWMutex
	series map[int][]KLine
}

func NewKLineSeries(symbol string) *KLineSeries {
	series := make(map[int][]KLine, len(Periods))
	for _, p := range Periods {
		series[p] = nil
	}
	return &KLineSeries{symbol: symbol, series: series}
}

// Symbol returns the symbol this series tracks.
func (ks *KLineSeries) Symbol() string {
	return ks.symbol
}

// Normalize builds the stored form of a candle without appending it:
// open time milliseconds become seconds and volume is rounded to 4dp.
// Live candle updates are forwarded on the bus in this form.
func Normalize(openTimeMS int64, o, h, l, c, v decimal.Decimal) KLine {
	return KLine{
		OpenTime: openTimeMS / 1000,
		Open:     o,
		High:     h,
		Low:      l,
		Close:    c,
		Volume:   v.Round(4),
	}
}

// Add normalizes and appends a candle to the period's list.
func (ks *KLineSeries) Add(period int, openTimeMS int64, o, h, l, c, v decimal.Decimal) error {
	if _, ok := periodLabels[period]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPeriod, period)
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.series[period] = append(ks.series[period], Normalize(openTimeMS, o, h, l, c, v))
	return nil
}

// Depth returns a full copy of every period's candle list.
func (ks *KLineSeries) Depth() map[int][]KLine {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	out := make(map[int][]KLine, len(ks.series))
	for period, list := range ks.series {
		cp := make([]KLine, len(list))
		copy(cp, list)
		out[period] = cp
	}
	return out
}

// Len returns the number of stored candles for one period.
func (ks *KLineSeries) Len(period int) int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.series[period])
}
