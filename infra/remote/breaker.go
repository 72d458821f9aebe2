package remote

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Name        string
	OpenFor     time.Duration // how long the breaker stays open
	MaxFailures uint32        // consecutive failures that trip it
}

// Breaker stops calling a backend that keeps failing. A rejected call
// surfaces as gobreaker.ErrOpenState, which callers treat like any other
// transient failure.
type Breaker struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

func NewBreaker(inner Store, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "remote"
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 5 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}

	log := logger.Named("breaker")
	maxFailures := cfg.MaxFailures

	return &Breaker{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1,
			Timeout:     cfg.OpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("remote store breaker state change",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

// miss marks a clean ErrNotFound so it does not count against the breaker.
type miss struct{}

func (b *Breaker) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		v, err := b.inner.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return miss{}, nil
		}
		return v, err
	})
	if err != nil {
		return nil, err
	}
	if _, ok := res.(miss); ok {
		return nil, ErrNotFound
	}
	return res.([]byte), nil
}

func (b *Breaker) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Set(ctx, key, value)
	})
	return err
}

// State reports the breaker state, mostly for diagnostics.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
