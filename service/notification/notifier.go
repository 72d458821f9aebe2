// Package notification reacts to inventory results. When the order
// record cannot be resolved yet, the result waits in a pending queue
// keyed by orderId:status and is retried by a reconciler until it
// resolves or expires.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"orderpipe/domain/order"
	"orderpipe/infra/clock"
	"orderpipe/infra/ledger"
	"orderpipe/infra/metrics"
	"orderpipe/jobs/reconciler"
)

// Resolver finds the order a result refers to.
type Resolver interface {
	Lookup(ctx context.Context, orderID string) (order.Order, bool)
}

type Option func(*Notifier)

// WithTTL bounds how long an unresolved result is retried.
func WithTTL(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.ttl = d
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(n *Notifier) { n.interval = d }
}

func WithClock(c clock.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(n *Notifier) { n.metrics = m }
}

type Notifier struct {
	resolver   Resolver
	dispatcher Dispatcher
	pending    *ledger.Ledger[order.InventoryResult]
	rec        *reconciler.Reconciler[order.InventoryResult]

	ttl      time.Duration
	interval time.Duration
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Collectors
}

// NewNotifier builds the notifier and its pending queue. The default ttl
// is five minutes.
func NewNotifier(r Resolver, d Dispatcher, opts ...Option) *Notifier {
	n := &Notifier{
		resolver:   r,
		dispatcher: d,
		ttl:        5 * time.Minute,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.Named("notification")

	n.pending = ledger.New[order.InventoryResult](n.clock)
	n.rec = reconciler.New("notifications", n.pending, n.redeliver,
		reconciler.WithInterval[order.InventoryResult](n.interval),
		reconciler.WithLogger[order.InventoryResult](n.log),
		reconciler.WithMetrics[order.InventoryResult](n.metrics),
		reconciler.OnExpire[order.InventoryResult](n.expired),
	)
	return n
}

// HandleResult dispatches the notification for res, or queues it when the
// order is not visible yet. It never fails because of the order store.
func (n *Notifier) HandleResult(ctx context.Context, res order.InventoryResult) {
	if o, ok := n.resolver.Lookup(ctx, res.OrderID); ok {
		err := n.dispatcher.Dispatch(ctx, o, res)
		if err == nil {
			return
		}
		n.log.Error("dispatch failed, queueing", zap.String("order_id", res.OrderID), zap.Error(err))
	}

	key := order.PendingKey(res.OrderID, res.Status)
	n.pending.Put(key, res, n.ttl)
	n.metrics.Pending("notifications", n.pending.Len())
	n.log.Warn("queued notification until the order store is back",
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)),
	)
}

// redeliver is the reconciler's replay function: resolve, then dispatch.
func (n *Notifier) redeliver(ctx context.Context, key string, res order.InventoryResult) error {
	o, ok := n.resolver.Lookup(ctx, res.OrderID)
	if !ok {
		return reconciler.ErrPending
	}
	if err := n.dispatcher.Dispatch(ctx, o, res); err != nil {
		return err
	}
	n.log.Info("flushed pending notification", zap.String("key", key))
	return nil
}

func (n *Notifier) expired(key string, res order.InventoryResult) {
	n.log.Warn("pending notification expired, customer not notified",
		zap.String("key", key),
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)),
	)
}

// HandleResultMessage decodes an inventory-results payload.
func (n *Notifier) HandleResultMessage(ctx context.Context, payload []byte) error {
	var res order.InventoryResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return backoff.Permanent(fmt.Errorf("decode inventory result: %w", err))
	}
	if res.OrderID == "" {
		return backoff.Permanent(errors.New("inventory result without orderId"))
	}
	n.HandleResult(ctx, res)
	return nil
}

// Reconciler returns the pending-queue sweeper.
func (n *Notifier) Reconciler() *reconciler.Reconciler[order.InventoryResult] {
	return n.rec
}

// Pending reports how many notifications are waiting.
func (n *Notifier) Pending() int {
	return n.pending.Len()
}
