package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"binance-md/internal/binance"
	"binance-md/internal/bus"
	"binance-md/internal/engine"
	"binance-md/internal/metrics"
	"binance-md/internal/publisher"
	"binance-md/internal/trader"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config from environment
	marketsEnv := getEnv("MARKETS", "BTCUSDT,ETHUSDT")
	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	metricsPort := getEnv("METRICS_PORT", "9090")
	apiKey := getEnv("BINANCE_API_KEY", "")
	secretKey := getEnv("BINANCE_SECRET_KEY", "")

	markets := make([]string, 0)
	for _, m := range strings.Split(marketsEnv, ",") {
		if m = strings.TrimSpace(m); m != "" {
			markets = append(markets, strings.ToUpper(m))
		}
	}

	log.Info().
		Strs("markets", markets).
		Str("redis", redisHost+":"+redisPort).
		Str("metrics", ":"+metricsPort).
		Bool("trading", apiKey != "").
		Msg("Starting market data client")

	// Start metrics server
	metricsServer := metrics.NewServer(":" + metricsPort)
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	b := bus.New()

	// Create Redis bridge
	bridge, err := publisher.NewRedisBridge(redisHost + ":" + redisPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect Redis")
	}
	defer bridge.Close()
	bridge.Attach(b)

	rest := binance.NewRestClient(apiKey, secretKey)
	dialer := binance.NewWSDialer()

	// Trader follows the engine's ready barrier
	trd := trader.New(rest)
	b.On(engine.EventReady, func(interface{}) {
		trd.SetReady()
	})

	// Supervisor: any engine error tears the engine down and restarts it with
	// backoff, rebuilding the books from fresh snapshots
	restart := make(chan struct{}, 1)
	b.On(engine.EventError, func(payload interface{}) {
		log.Error().Interface("reason", payload).Msg("Engine error")
		select {
		case restart <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(rest, dialer, b, markets)
	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start stream engine")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	backoff := time.Second
	for {
		select {
		case <-restart:
			eng.Stop()
			// drop errors raised while tearing down
			select {
			case <-restart:
			default:
			}
			metrics.EngineRestarts.Inc()
			log.Warn().Dur("backoff", backoff).Msg("Restarting stream engine")
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}

			eng = engine.New(rest, dialer, b, markets)
			if err := eng.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Engine restart failed")
				select {
				case restart <- struct{}{}:
				default:
				}
			} else {
				backoff = time.Second
			}

		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			eng.Stop()
			if err := metricsServer.Stop(); err != nil {
				log.Error().Err(err).Msg("Error stopping metrics server")
			}
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
