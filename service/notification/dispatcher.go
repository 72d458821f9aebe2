package notification

import (
	"context"

	"go.uber.org/zap"

	"orderpipe/domain/order"
)

// Dispatcher delivers a customer-facing notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, o order.Order, res order.InventoryResult) error
}

// LogDispatcher writes the notification to the log. It is the only
// delivery channel the pipeline ships with.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogDispatcher{log: log.Named("dispatch")}
}

func (d *LogDispatcher) Dispatch(_ context.Context, o order.Order, res order.InventoryResult) error {
	if res.Status == order.Approved {
		d.log.Info("Order "+o.OrderID+" Approved!",
			zap.String("order_id", o.OrderID),
			zap.String("customer", o.CustomerName),
			zap.Any("items", o.Items),
		)
		return nil
	}
	d.log.Info("Order "+o.OrderID+" Rejected!",
		zap.String("order_id", o.OrderID),
		zap.String("customer", o.CustomerName),
		zap.Any("issues", res.Issues),
	)
	return nil
}
