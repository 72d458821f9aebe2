package order

// DefaultKeyPrefix is the remote-store prefix for order records. Keys are
// part of the persisted contract.
const DefaultKeyPrefix = "order:"

// Key builds the state-store key for an order record.
func Key(prefix, orderID string) string {
	return prefix + orderID
}

// PendingKey builds the notification-queue key. Two statuses for the same
// order occupy distinct slots.
func PendingKey(orderID string, s Status) string {
	return orderID + ":" + string(s)
}
