package engine

import (
	"github.com/shopspring/decimal"

	"binance-md/internal/book"
)

// Event names published on the bus.
const (
	EventOrderbookOpen = "orderbook_open"
	EventTradebookOpen = "tradebook_open"
	EventKlineOpen     = "kline_open"
	EventTickerMessage = "ticker_message"
	EventTradeMessage  = "trade_message"
	EventKlineMessage  = "kline_message"
	EventReady         = "ready"
	EventError         = "error"
)

// TickerData is the normalized 24h ticker payload. PriceChangePercent stays a
// raw string, everything else is decimal.
type TickerData struct {
	Low                decimal.Decimal `json:"low"`
	High               decimal.Decimal `json:"high"`
	Last               decimal.Decimal `json:"last"`
	Volume             decimal.Decimal `json:"volume"`
	Open               decimal.Decimal `json:"open"`
	Sell               decimal.Decimal `json:"sell"`
	Buy                decimal.Decimal `json:"buy"`
	AvgPrice           decimal.Decimal `json:"avg_price"`
	PriceChangePercent string          `json:"price_change_percent"`
}

// TickerMessage is the payload of EventTickerMessage.
type TickerMessage struct {
	Symbol string     `json:"symbol"`
	Data   TickerData `json:"data"`
}

// TradeData is one live trade as published on the bus.
type TradeData struct {
	TID    int64           `json:"tid"`
	Type   string          `json:"type"`
	Date   int64           `json:"date"` // seconds
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// TradeMessage is the payload of EventTradeMessage.
type TradeMessage struct {
	Symbol string    `json:"symbol"`
	Data   TradeData `json:"data"`
}

// KlineMessage is the payload of EventKlineMessage.
type KlineMessage struct {
	Symbol string     `json:"symbol"`
	Period int        `json:"period"`
	Data   book.KLine `json:"data"`
}
