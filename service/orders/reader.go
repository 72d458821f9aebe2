package orders

import (
	"context"

	"orderpipe/domain/order"
	"orderpipe/infra/statestore"
)

// Reader resolves order records by id through a state store. A process
// that only reads orders (the notification service) uses a Reader over
// its own store instance; its ledger stays empty and reads go remote.
type Reader struct {
	store  *statestore.Store[order.Order]
	prefix string
}

func NewReader(store *statestore.Store[order.Order], prefix string) Reader {
	if prefix == "" {
		prefix = order.DefaultKeyPrefix
	}
	return Reader{store: store, prefix: prefix}
}

func (r Reader) Lookup(ctx context.Context, orderID string) (order.Order, bool) {
	return r.store.Read(ctx, r.key(orderID))
}

func (r Reader) key(orderID string) string {
	return order.Key(r.prefix, orderID)
}
