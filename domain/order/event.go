package order

// Reason explains why an item failed the inventory check.
type Reason string

const (
	UnknownProduct       Reason = "UNKNOWN_PRODUCT"
	UnknownCategory      Reason = "UNKNOWN_CATEGORY"
	InsufficientQuantity Reason = "INSUFFICIENT_QUANTITY"
	Expired              Reason = "EXPIRED"
	EmptyOrder           Reason = "EMPTY_ORDER"
)

type Issue struct {
	ProductID string `json:"productId"`
	Reason    Reason `json:"reason"`
}

// InventoryResult is published on the inventory-results topic.
type InventoryResult struct {
	OrderID string  `json:"orderId"`
	Status  Status  `json:"status"`
	Issues  []Issue `json:"issues"`
}
