// Package binance is the thin spot-exchange transport: REST snapshot and
// order endpoints plus the combined WebSocket dial. Interpretation of the
// payloads belongs to the callers.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	spotRestBaseURL = "https://api.binance.com"
	spotWSBaseURL   = "wss://stream.binance.com:9443"

	recentTradesLimit = 100
)

// RestClient handles all REST API calls to Binance spot
type RestClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	secretKey  string
}

// NewRestClient creates a new REST client for Binance spot
func NewRestClient(apiKey, secretKey string) *RestClient {
	return &RestClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   spotRestBaseURL,
		apiKey:    apiKey,
		secretKey: secretKey,
	}
}

// SetBaseURL overrides the REST host, used against local fakes.
func (c *RestClient) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

// FetchDepth fetches the orderbook snapshot
func (c *RestClient) FetchDepth(ctx context.Context, symbol string) (*DepthResponse, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s", c.baseURL, strings.ToUpper(symbol))

	resp, err := c.doRequest(ctx, "GET", url, nil, false)
	if err != nil {
		return nil, fmt.Errorf("fetch depth: %w", err)
	}
	defer resp.Body.Close()

	var depth DepthResponse
	if err := json.NewDecoder(resp.Body).Decode(&depth); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}

	return &depth, nil
}

// FetchRecentTrades fetches the most recent public trades (limit 100)
func (c *RestClient) FetchRecentTrades(ctx context.Context, symbol string) ([]RecentTrade, error) {
	url := fmt.Sprintf("%s/api/v3/trades?symbol=%s&limit=%d", c.baseURL, strings.ToUpper(symbol), recentTradesLimit)

	resp, err := c.doRequest(ctx, "GET", url, nil, false)
	if err != nil {
		return nil, fmt.Errorf("fetch recent trades: %w", err)
	}
	defer resp.Body.Close()

	var trades []RecentTrade
	if err := json.NewDecoder(resp.Body).Decode(&trades); err != nil {
		return nil, fmt.Errorf("decode recent trades: %w", err)
	}

	return trades, nil
}

// FetchKlines fetches candlestick history for one interval. Rows are
// truncated to the first six array fields.
func (c *RestClient) FetchKlines(ctx context.Context, symbol, interval string) ([]Kline, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s", c.baseURL, strings.ToUpper(symbol), interval)

	resp, err := c.doRequest(ctx, "GET", url, nil, false)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()

	var rawKlines [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rawKlines); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(rawKlines))
	for _, k := range rawKlines {
		if len(k) < 6 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime: int64(k[0].(float64)),
			Open:     k[1].(string),
			High:     k[2].(string),
			Low:      k[3].(string),
			Close:    k[4].(string),
			Volume:   k[5].(string),
		})
	}

	return klines, nil
}

// SubmitOrder posts a signed new-order request
func (c *RestClient) SubmitOrder(ctx context.Context, order OrderRequest) (*OrderAck, error) {
	if c.apiKey == "" || c.secretKey == "" {
		return nil, &AuthError{Code: AuthCodeUnauthorized, Reason: "API key and secret key required"}
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(order.Symbol))
	params.Set("side", strings.ToUpper(order.Side))
	params.Set("type", strings.ToUpper(order.Type))
	params.Set("quantity", order.Quantity)
	if order.Price != "" {
		params.Set("price", order.Price)
		params.Set("timeInForce", "GTC")
	}
	if order.ClientOrderId != "" {
		params.Set("newClientOrderId", order.ClientOrderId)
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	signature := c.sign(params.Encode())
	params.Set("signature", signature)

	url := fmt.Sprintf("%s/api/v3/order", c.baseURL)

	resp, err := c.doRequest(ctx, "POST", url, strings.NewReader(params.Encode()), true)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	var ack OrderAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("decode order ack: %w", err)
	}

	log.Debug().
		Str("symbol", ack.Symbol).
		Int64("order_id", ack.OrderId).
		Str("status", ack.Status).
		Msg("Order submitted")

	return &ack, nil
}

// =============================================================================
// WebSocket
// =============================================================================

// WSDialer opens the combined market-data stream
type WSDialer struct {
	baseURL string
}

func NewWSDialer() *WSDialer {
	return &WSDialer{baseURL: spotWSBaseURL}
}

// SetBaseURL overrides the WS host, used against local fakes.
func (d *WSDialer) SetBaseURL(base string) {
	d.baseURL = strings.TrimRight(base, "/")
}

// DialCombined connects the combined stream carrying every name in streams,
// joined with '/' per the exchange's combined stream format.
func (d *WSDialer) DialCombined(ctx context.Context, streams []string) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/stream?streams=%s", d.baseURL, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial combined stream: %w", err)
	}

	log.Info().Int("streams", len(streams)).Msg("Combined WebSocket connected")
	return conn, nil
}

// =============================================================================
// Helper Methods
// =============================================================================

func (c *RestClient) doRequest(ctx context.Context, method, url string, body io.Reader, authenticated bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if authenticated && c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	if method == "POST" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &AuthError{Code: AuthCodeUnauthorized, Reason: string(body)}
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}

func (c *RestClient) sign(queryString string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}
