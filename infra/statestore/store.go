// Package statestore is the degraded-mode-tolerant keyed store.
//
// Writes go to the remote store first and fall back to an in-process
// ledger with a ttl. Reads prefer the remote store, fall back to the
// ledger and opportunistically back-fill the remote copy. A reconciler
// replays whatever is still buffered. Remote failures never reach the
// caller; the only error surfaced is ErrRecordNotFound from Update.
package statestore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"orderpipe/infra/clock"
	"orderpipe/infra/ledger"
	"orderpipe/infra/metrics"
	"orderpipe/infra/remote"
	"orderpipe/jobs/reconciler"
)

// ErrRecordNotFound is returned by Update when neither the remote store
// nor the ledger holds a live value for the key.
var ErrRecordNotFound = errors.New("statestore: record not found")

// Config configures one store instance.
type Config struct {
	Name     string        // label for logs and metrics
	TTL      time.Duration // lifetime of a buffered write
	Timeout  time.Duration // bound on each remote call
	Interval time.Duration // reconciler sweep period
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Collectors
}

type Store[V any] struct {
	name    string
	remote  remote.Store
	codec   Codec[V]
	ledger  *ledger.Ledger[V]
	rec     *reconciler.Reconciler[V]
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Collectors
}

// New wires a store over rs. A nil codec means JSON.
func New[V any](rs remote.Store, codec Codec[V], cfg Config) *Store[V] {
	if codec == nil {
		codec = JSON[V]{}
	}
	if cfg.Name == "" {
		cfg.Name = "state"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Store[V]{
		name:    cfg.Name,
		remote:  rs,
		codec:   codec,
		ledger:  ledger.New[V](cfg.Clock),
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		log:     cfg.Logger.Named("statestore").With(zap.String("store", cfg.Name)),
		metrics: cfg.Metrics,
	}
	s.rec = reconciler.New(cfg.Name, s.ledger, s.Replay,
		reconciler.WithInterval[V](cfg.Interval),
		reconciler.WithLogger[V](cfg.Logger),
		reconciler.WithMetrics[V](cfg.Metrics),
	)
	return s
}

// -------------------- Write path --------------------

// Write stores v under key and always returns key. When the remote write
// fails the value is buffered for ttl and replayed later. A value the codec
// cannot encode is logged and dropped: no replay could ever land it.
func (s *Store[V]) Write(ctx context.Context, key string, v V) string {
	b, err := s.codec.Marshal(v)
	if err != nil {
		s.metrics.Write(s.name, "encode_error")
		s.log.Error("cannot encode value, write dropped", zap.String("key", key), zap.Error(err))
		return key
	}

	if err := s.put(ctx, key, b); err != nil {
		s.ledger.Put(key, v, s.ttl)
		s.metrics.Write(s.name, "fallback")
		s.metrics.Pending(s.name, s.ledger.Len())
		s.log.Error("remote store unavailable, buffered write locally",
			zap.String("key", key),
			zap.Duration("ttl", s.ttl),
			zap.Error(err),
		)
		return key
	}

	s.ledger.Remove(key)
	s.metrics.Write(s.name, "remote")
	s.metrics.Pending(s.name, s.ledger.Len())
	s.log.Info("saved to remote store", zap.String("key", key))
	return key
}

// -------------------- Read path --------------------

// Read returns the value for key from the remote store, or from a live
// ledger entry when the remote misses or fails. A ledger hit is written
// back to the remote store; the outcome of that write does not change
// what Read returns.
func (s *Store[V]) Read(ctx context.Context, key string) (V, bool) {
	if v, ok := s.get(ctx, key); ok {
		s.metrics.Read(s.name, "remote")
		return v, true
	}

	e, ok := s.ledger.Lookup(key)
	if !ok {
		s.metrics.Read(s.name, "miss")
		var zero V
		return zero, false
	}
	s.metrics.Read(s.name, "ledger")

	if err := s.set(ctx, key, e.Value); err != nil {
		s.metrics.Backfill(s.name, false)
		s.log.Debug("back-fill failed", zap.String("key", key), zap.Error(err))
	} else {
		if s.ledger.RemoveIf(key, e.Version()) {
			s.metrics.Pending(s.name, s.ledger.Len())
		}
		s.metrics.Backfill(s.name, true)
		s.log.Info("back-filled remote store from ledger", zap.String("key", key))
	}
	return e.Value, true
}

// Update reads the current value, applies fn and writes the result back
// under the same key. The two steps are not atomic. Update never creates a
// record: a missing key yields ErrRecordNotFound and fn is not called.
func (s *Store[V]) Update(ctx context.Context, key string, fn func(V) (V, error)) error {
	cur, ok := s.Read(ctx, key)
	if !ok {
		return ErrRecordNotFound
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	s.Write(ctx, key, next)
	return nil
}

// -------------------- Reconciliation --------------------

// Replay pushes a buffered value to the remote store. It is the
// reconciler's replay function.
func (s *Store[V]) Replay(ctx context.Context, key string, v V) error {
	return s.set(ctx, key, v)
}

// Reconciler returns the background sweeper for this store.
func (s *Store[V]) Reconciler() *reconciler.Reconciler[V] {
	return s.rec
}

// Pending reports how many writes are buffered.
func (s *Store[V]) Pending() int {
	return s.ledger.Len()
}

// -------------------- Remote helpers --------------------

func (s *Store[V]) set(ctx context.Context, key string, v V) error {
	b, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}
	return s.put(ctx, key, b)
}

func (s *Store[V]) put(ctx context.Context, key string, b []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.remote.Set(ctx, key, b)
}

// get folds a miss, a transient failure and an undecodable value into
// "not found here".
func (s *Store[V]) get(ctx context.Context, key string) (V, bool) {
	var zero V

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	b, err := s.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			s.log.Error("remote read failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}

	v, err := s.codec.Unmarshal(b)
	if err != nil {
		s.log.Error("undecodable remote value", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}
