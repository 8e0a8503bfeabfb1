package binance

import "encoding/json"

// =============================================================================
// REST API Response Types
// =============================================================================

// DepthResponse represents the response from GET /api/v3/depth
type DepthResponse struct {
	LastUpdateId int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// RecentTrade represents one entry from GET /api/v3/trades
type RecentTrade struct {
	Id           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	QuoteQty     string `json:"quoteQty"`
	Time         int64  `json:"time"` // trade time in ms
	IsBuyerMaker bool   `json:"isBuyerMaker"`
	IsBestMatch  bool   `json:"isBestMatch"`
}

// Kline is one candlestick row from GET /api/v3/klines, truncated to the
// first six array fields.
type Kline struct {
	OpenTime int64
	Open     string
	High     string
	Low      string
	Close    string
	Volume   string
}

// OrderAck represents the ACK response from POST /api/v3/order
type OrderAck struct {
	Symbol        string `json:"symbol"`
	OrderId       int64  `json:"orderId"`
	ClientOrderId string `json:"clientOrderId"`
	TransactTime  int64  `json:"transactTime"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
}

// OrderRequest carries the fields of a new order submission.
type OrderRequest struct {
	Symbol        string
	Side          string // BUY / SELL
	Type          string // LIMIT / MARKET / ...
	Quantity      string
	Price         string // empty for market orders
	ClientOrderId string
}

// =============================================================================
// WebSocket Stream Types
// =============================================================================

// StreamFrame is the envelope of every combined-stream message
type StreamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// WSDepthEvent represents orderbook depth updates from the @depth stream
type WSDepthEvent struct {
	EventType     string     `json:"e"` // Event type: "depthUpdate"
	EventTime     int64      `json:"E"` // Event time
	Symbol        string     `json:"s"` // Symbol
	FirstUpdateId int64      `json:"U"` // First update ID in event
	FinalUpdateId int64      `json:"u"` // Final update ID in event
	Bids          [][]string `json:"b"` // Bids to be updated
	Asks          [][]string `json:"a"` // Asks to be updated
}

// WSTickerEvent represents 24hr rolling window stats from the @ticker stream
type WSTickerEvent struct {
	EventType          string `json:"e"` // Event type: "24hrTicker"
	EventTime          int64  `json:"E"` // Event time
	Symbol             string `json:"s"` // Symbol
	PriceChange        string `json:"p"` // Price change
	PriceChangePercent string `json:"P"` // Price change percent
	WeightedAvgPrice   string `json:"w"` // Weighted average price
	LastPrice          string `json:"c"` // Last price
	BestBidPrice       string `json:"b"` // Best bid price
	BestAskPrice       string `json:"a"` // Best ask price
	OpenPrice          string `json:"o"` // Open price
	HighPrice          string `json:"h"` // High price
	LowPrice           string `json:"l"` // Low price
	Volume             string `json:"v"` // Total traded base asset volume
	QuoteVolume        string `json:"q"` // Total traded quote asset volume
}

// WSTradeEvent represents real-time trade data from the @trade stream
type WSTradeEvent struct {
	EventType    string `json:"e"` // Event type: "trade"
	EventTime    int64  `json:"E"` // Event time
	Symbol       string `json:"s"` // Symbol
	TradeId      int64  `json:"t"` // Trade ID
	Price        string `json:"p"` // Price
	Quantity     string `json:"q"` // Quantity
	TradeTime    int64  `json:"T"` // Trade time
	IsBuyerMaker bool   `json:"m"` // Is the buyer the market maker?
}

// WSKlineEvent represents kline/candlestick updates from the @kline stream
type WSKlineEvent struct {
	EventType string      `json:"e"` // Event type: "kline"
	EventTime int64       `json:"E"` // Event time
	Symbol    string      `json:"s"` // Symbol
	Kline     WSKlineData `json:"k"` // Kline data
}

type WSKlineData struct {
	StartTime int64  `json:"t"` // Kline start time
	CloseTime int64  `json:"T"` // Kline close time
	Symbol    string `json:"s"` // Symbol
	Interval  string `json:"i"` // Interval
	Open      string `json:"o"` // Open price
	Close     string `json:"c"` // Close price
	High      string `json:"h"` // High price
	Low       string `json:"l"` // Low price
	Volume    string `json:"v"` // Base asset volume
	IsClosed  bool   `json:"x"` // Is this kline closed?
}
