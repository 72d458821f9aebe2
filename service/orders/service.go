// Package orders is the order lifecycle service. It persists new orders
// through the resilient state store, publishes them for the inventory
// check and applies the resulting status transition.
//
// It is decoupled from transports: HTTP, gRPC and Kafka adapters call in.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orderpipe/domain/order"
	"orderpipe/infra/clock"
	"orderpipe/infra/statestore"
)

// ErrProcessing means the order could not be handed to the pipeline.
var ErrProcessing = errors.New("orders: processing failed")

// ErrNotFound is returned by UpdateStatus when no record resolves.
var ErrNotFound = statestore.ErrRecordNotFound

// Publisher emits an event keyed by key.
type Publisher interface {
	Publish(ctx context.Context, key string, v any) error
}

type Option func(*Service)

func WithKeyPrefix(p string) Option {
	return func(s *Service) {
		if p != "" {
			s.reader.prefix = p
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator replaces uuid-based order ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

/*
Service is the only write entry point for order records.

All coordination between
- validation
- the state store
- the orders topic
happens here.
*/
type Service struct {
	store  *statestore.Store[order.Order]
	reader Reader
	pub    Publisher
	clock  clock.Clock
	newID  func() string
	log    *zap.Logger
}

func NewService(store *statestore.Store[order.Order], pub Publisher, opts ...Option) *Service {
	s := &Service{
		store:  store,
		reader: Reader{store: store, prefix: order.DefaultKeyPrefix},
		pub:    pub,
		clock:  clock.Real{},
		newID:  func() string { return uuid.NewString() },
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("orders")
	return s
}

// -------------------- Commands --------------------

// Create validates req, stores a PENDING order and publishes it. A
// validation failure is returned as *order.ValidationError; a publish
// failure wraps ErrProcessing. An unreachable state store is not an
// error: the record is buffered.
func (s *Service) Create(ctx context.Context, req order.CreateRequest) (order.Order, error) {
	if err := req.Validate(s.clock.Now()); err != nil {
		return order.Order{}, err
	}

	o := order.Order{
		OrderID:      s.newID(),
		CustomerName: req.CustomerName,
		Items:        req.Items,
		Status:       order.Pending,
	}
	s.log.Info("creating order",
		zap.String("order_id", o.OrderID),
		zap.String("customer", o.CustomerName),
		zap.Int("items", len(o.Items)),
	)

	key := s.store.Write(ctx, s.reader.key(o.OrderID), o)
	s.log.Debug("order persisted", zap.String("key", key))

	if err := s.pub.Publish(ctx, o.OrderID, o); err != nil {
		s.log.Error("order publish failed", zap.String("order_id", o.OrderID), zap.Error(err))
		return order.Order{}, fmt.Errorf("%w: publish order %s: %v", ErrProcessing, o.OrderID, err)
	}
	return o, nil
}

// UpdateStatus moves the order to status. It fails with ErrNotFound when
// no record resolves and never creates one.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status order.Status) error {
	if !status.Valid() {
		return fmt.Errorf("orders: invalid status %q", status)
	}

	err := s.store.Update(ctx, s.reader.key(orderID), func(o order.Order) (order.Order, error) {
		return o.WithStatus(status), nil
	})
	if err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	s.log.Info("order status updated", zap.String("order_id", orderID), zap.String("status", string(status)))
	return nil
}

// ApplyInventoryResult records the outcome of the inventory check.
func (s *Service) ApplyInventoryResult(ctx context.Context, res order.InventoryResult) error {
	return s.UpdateStatus(ctx, res.OrderID, res.Status)
}

// -------------------- Queries --------------------

// Get resolves an order by id.
func (s *Service) Get(ctx context.Context, orderID string) (order.Order, bool) {
	return s.reader.Lookup(ctx, orderID)
}

// Lookup satisfies the notification resolver.
func (s *Service) Lookup(ctx context.Context, orderID string) (order.Order, bool) {
	return s.reader.Lookup(ctx, orderID)
}
