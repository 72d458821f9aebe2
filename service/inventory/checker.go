// Package inventory checks orders against the product catalog and
// publishes the verdict on the inventory-results topic.
package inventory

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
)

// Publisher emits an event keyed by key.
type Publisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// Evaluate applies the per-category rules to o's items. It is pure: the
// same catalog, items and day always give the same result.
func Evaluate(cat Catalog, o order.Order, today time.Time) order.InventoryResult {
	res := order.InventoryResult{OrderID: o.OrderID, Issues: []order.Issue{}}

	if len(o.Items) == 0 {
		res.Issues = append(res.Issues, order.Issue{Reason: order.EmptyOrder})
	}

	for _, it := range o.Items {
		p, ok := cat[it.ProductID]
		if !ok {
			res.Issues = append(res.Issues, order.Issue{ProductID: it.ProductID, Reason: order.UnknownProduct})
			continue
		}
		if it.Category == order.Unknown || it.Category == "" {
			res.Issues = append(res.Issues, order.Issue{ProductID: it.ProductID, Reason: order.UnknownCategory})
			continue
		}

		switch p.Category {
		case order.Standard:
			if p.Available < it.Quantity {
				res.Issues = append(res.Issues, order.Issue{ProductID: it.ProductID, Reason: order.InsufficientQuantity})
			}
		case order.Perishable:
			switch {
			case p.expired(today):
				res.Issues = append(res.Issues, order.Issue{ProductID: it.ProductID, Reason: order.Expired})
			case p.Available < it.Quantity:
				res.Issues = append(res.Issues, order.Issue{ProductID: it.ProductID, Reason: order.InsufficientQuantity})
			}
		case order.Digital:
			// always deliverable
		}
	}

	res.Status = order.Approved
	if len(res.Issues) > 0 {
		res.Status = order.Rejected
	}
	return res
}

type Checker struct {
	catalog Catalog
	pub     Publisher
	clock   clock.Clock
	log     *zap.Logger
}

// NewChecker builds a checker. A nil clock means the system clock.
func NewChecker(cat Catalog, pub Publisher, clk clock.Clock, log *zap.Logger) *Checker {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{catalog: cat, pub: pub, clock: clk, log: log.Named("inventory")}
}

// Check evaluates o and publishes the result keyed by order id.
func (c *Checker) Check(ctx context.Context, o order.Order) (order.InventoryResult, error) {
	c.log.Info("checking order", zap.String("order_id", o.OrderID), zap.Int("items", len(o.Items)))

	res := Evaluate(c.catalog, o, c.clock.Now())
	c.log.Info("inventory result",
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)),
		zap.Any("issues", res.Issues),
	)

	if err := c.pub.Publish(ctx, res.OrderID, res); err != nil {
		return res, fmt.Errorf("publish inventory result %s: %w", res.OrderID, err)
	}
	return res, nil
}

// HandleOrderMessage decodes an orders-topic payload and checks it.
func (c *Checker) HandleOrderMessage(ctx context.Context, payload []byte) error {
	var o order.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return backoff.Permanent(fmt.Errorf("decode order event: %w", err))
	}
	if o.OrderID == "" {
		return backoff.Permanent(errors.New("order event without orderId"))
	}
	_, err := c.Check(ctx, o)
	return err
}
