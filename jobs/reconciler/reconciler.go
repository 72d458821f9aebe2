package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"orderpipe/infra/ledger"
	"orderpipe/infra/metrics"
)

// ErrPending tells the sweep that an entry cannot be resolved yet. The
// entry stays buffered and no failure is logged.
var ErrPending = errors.New("reconciler: still pending")

// ReplayFunc pushes one buffered value to its destination. A nil error
// removes the entry.
type ReplayFunc[V any] func(ctx context.Context, key string, value V) error

// ExpireFunc is called for every entry dropped on expiry.
type ExpireFunc[V any] func(key string, value V)

// Result summarises one sweep.
type Result struct {
	Expired  int
	Replayed int
	Pending  int
}

type Option[V any] func(*Reconciler[V])

func WithInterval[V any](d time.Duration) Option[V] {
	return func(r *Reconciler[V]) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger[V any](l *zap.Logger) Option[V] {
	return func(r *Reconciler[V]) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics[V any](m *metrics.Collectors) Option[V] {
	return func(r *Reconciler[V]) { r.metrics = m }
}

// OnExpire registers a hook for dropped entries.
func OnExpire[V any](fn ExpireFunc[V]) Option[V] {
	return func(r *Reconciler[V]) { r.onExpire = fn }
}

/*
Reconciler owns the background loop for one ledger.

The ledger lock is taken only to snapshot and to compare-and-remove.
Replays run with no lock held, so a slow remote never blocks callers.
*/
type Reconciler[V any] struct {
	name     string
	ledger   *ledger.Ledger[V]
	replay   ReplayFunc[V]
	onExpire ExpireFunc[V]
	interval time.Duration
	log      *zap.Logger
	metrics  *metrics.Collectors

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a reconciler. The default interval is 15 seconds.
func New[V any](name string, l *ledger.Ledger[V], replay ReplayFunc[V], opts ...Option[V]) *Reconciler[V] {
	r := &Reconciler[V]{
		name:     name,
		ledger:   l,
		replay:   replay,
		interval: 15 * time.Second,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("reconciler").With(zap.String("store", name))
	return r
}

// Interval returns the sweep period.
func (r *Reconciler[V]) Interval() time.Duration {
	return r.interval
}

// Sweep runs one pass over the ledger.
func (r *Reconciler[V]) Sweep(ctx context.Context) Result {
	var res Result

	for _, kv := range r.ledger.Snapshot() {
		if ctx.Err() != nil {
			break
		}

		if kv.Expired(r.ledger.Now()) {
			// a newer Put under the same key is not ours to drop
			if r.ledger.RemoveIf(kv.Key, kv.Version()) {
				res.Expired++
				r.log.Warn("buffered entry expired before reaching its destination",
					zap.String("key", kv.Key),
					zap.Time("expires_at", kv.ExpiresAt),
				)
				if r.onExpire != nil {
					r.onExpire(kv.Key, kv.Value)
				}
			}
			continue
		}

		err := r.replay(ctx, kv.Key, kv.Value)
		switch {
		case err == nil:
			r.ledger.RemoveIf(kv.Key, kv.Version())
			res.Replayed++
			r.metrics.Replay(r.name, true)
			r.log.Info("replayed buffered entry", zap.String("key", kv.Key))
		case errors.Is(err, ErrPending):
			res.Pending++
		default:
			res.Pending++
			r.metrics.Replay(r.name, false)
			r.log.Debug("replay failed, keeping entry", zap.String("key", kv.Key), zap.Error(err))
		}
	}

	r.metrics.Expired(r.name, res.Expired)
	r.metrics.Pending(r.name, r.ledger.Len())
	return res
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler[V]) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reconciler started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if r.ledger.Len() == 0 {
				continue
			}
			res := r.Sweep(ctx)
			if res.Expired > 0 || res.Replayed > 0 {
				r.log.Info("sweep finished",
					zap.Int("replayed", res.Replayed),
					zap.Int("expired", res.Expired),
					zap.Int("pending", res.Pending),
				)
			}
		}
	}
}

// Start launches Run in a goroutine. Calling Start twice is a no-op.
func (r *Reconciler[V]) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(ctx)
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (r *Reconciler[V]) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
}
