// Package trader submits orders and tracks their lifecycle through per-order
// Trade handles. Submission is gated on upstream readiness: orders placed
// before the ready flip are queued and sent exactly once when it happens.
package trader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"binance-md/internal/binance"
	"binance-md/internal/metrics"
)

// Trade event names.
const (
	EventSubmit = "submit"
	EventError  = "error"
)

// Event is one lifecycle update of an in-flight order. Request is set on
// error events so the caller can see what failed.
type Event struct {
	Name    string
	OrderID int64
	Request *binance.OrderRequest
	Err     error
}

// Trade is the per-order handle returned by Order. Events are delivered on a
// buffered channel; a consumer that stops reading loses further events rather
// than blocking submission.
type Trade struct {
	ClientOrderId string
	events        chan Event
}

// Events returns the order's lifecycle stream.
func (tr *Trade) Events() <-chan Event {
	return tr.events
}

func (tr *Trade) publish(ev Event) {
	select {
	case tr.events <- ev:
	default:
		log.Warn().
			Str("client_order_id", tr.ClientOrderId).
			Str("event", ev.Name).
			Msg("Trade subscriber not draining, event dropped")
	}
}

// Trader submits orders once the upstream is ready.
type Trader struct {
	rest *binance.RestClient

	mu      sync.Mutex
	ready   bool
	pending []func()
}

func New(rest *binance.RestClient) *Trader {
	return &Trader{rest: rest}
}

// SetReady flips the readiness gate. Edge-triggered: queued submissions run
// exactly once, later calls are no-ops.
func (t *Trader) SetReady() {
	t.mu.Lock()
	if t.ready {
		t.mu.Unlock()
		return
	}
	t.ready = true
	queued := t.pending
	t.pending = nil
	t.mu.Unlock()

	metrics.OrdersDeferred.Set(0)
	if len(queued) > 0 {
		log.Info().Int("queued", len(queued)).Msg("Trader ready, submitting deferred orders")
	}
	for _, submit := range queued {
		submit()
	}
}

// Order returns a Trade handle immediately. If the trader is ready the order
// is submitted now, otherwise submission is deferred to the ready flip. A
// positive timeout bounds the HTTP round trip.
func (t *Trader) Order(timeout time.Duration, req binance.OrderRequest) *Trade {
	req.ClientOrderId = uuid.NewString()
	tr := &Trade{
		ClientOrderId: req.ClientOrderId,
		events:        make(chan Event, 8),
	}
	submit := func() {
		go t.submit(timeout, req, tr)
	}

	t.mu.Lock()
	if t.ready {
		t.mu.Unlock()
		submit()
		return tr
	}
	t.pending = append(t.pending, submit)
	deferred := len(t.pending)
	t.mu.Unlock()

	metrics.OrdersDeferred.Set(float64(deferred))
	log.Debug().
		Str("symbol", req.Symbol).
		Str("client_order_id", req.ClientOrderId).
		Msg("Order deferred until ready")
	return tr
}

func (t *Trader) submit(timeout time.Duration, req binance.OrderRequest, tr *Trade) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ack, err := t.rest.SubmitOrder(ctx, req)
	if err != nil {
		metrics.OrdersSubmitted.WithLabelValues(req.Symbol, "error").Inc()
		log.Error().Err(err).
			Str("symbol", req.Symbol).
			Str("client_order_id", req.ClientOrderId).
			Msg("Order submission failed")
		tr.publish(Event{Name: EventError, Request: &req, Err: err})
		return
	}

	metrics.OrdersSubmitted.WithLabelValues(req.Symbol, "submitted").Inc()
	log.Info().
		Str("symbol", req.Symbol).
		Int64("order_id", ack.OrderId).
		Str("client_order_id", req.ClientOrderId).
		Msg("Order submitted")
	tr.publish(Event{Name: EventSubmit, OrderID: ack.OrderId})
}
