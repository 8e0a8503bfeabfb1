// Package publisher bridges bus events to Redis so other processes can
// consume the normalized market data: capped streams for replay plus Pub/Sub
// fan-out for live consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"binance-md/internal/bus"
	"binance-md/internal/engine"
	"binance-md/internal/metrics"
)

// RedisBridge re-emits ticker, trade and kline bus events to Redis.
type RedisBridge struct {
	client *redis.Client
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(addr string) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBridge{client: client}, nil
}

// Close closes the Redis connection.
func (p *RedisBridge) Close() error {
	return p.client.Close()
}

// Attach subscribes the bridge to the market-data events on the bus. Publish
// failures are counted and logged, they never stop the dispatcher.
func (p *RedisBridge) Attach(b *bus.Bus) {
	b.On(engine.EventTickerMessage, func(payload interface{}) {
		msg, ok := payload.(engine.TickerMessage)
		if !ok {
			return
		}
		p.publish(fmt.Sprintf("ticker:%s", msg.Symbol), 1000, msg)
	})

	b.On(engine.EventTradeMessage, func(payload interface{}) {
		msg, ok := payload.(engine.TradeMessage)
		if !ok {
			return
		}
		p.publish(fmt.Sprintf("trades:%s", msg.Symbol), 10000, msg)
	})

	b.On(engine.EventKlineMessage, func(payload interface{}) {
		msg, ok := payload.(engine.KlineMessage)
		if !ok {
			return
		}
		p.publish(fmt.Sprintf("klines:%s:%d", msg.Symbol, msg.Period), 1000, msg)
	})
}

// publish XAdds the payload to a capped stream and mirrors it on Pub/Sub
// under the same key.
func (p *RedisBridge) publish(key string, maxLen int64, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Marshal for Redis failed")
		return
	}

	ctx := context.Background()
	timer := metrics.NewTimer()

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err(); err != nil {
		metrics.RedisPublishErrors.WithLabelValues(key).Inc()
		log.Warn().Err(err).Str("key", key).Msg("Redis XAdd failed")
		return
	}

	if err := p.client.Publish(ctx, key, string(data)).Err(); err != nil {
		metrics.RedisPublishErrors.WithLabelValues(key).Inc()
		log.Warn().Err(err).Str("key", key).Msg("Redis publish failed")
		return
	}

	timer.ObserveDuration(metrics.RedisPublishDuration, key)
}
