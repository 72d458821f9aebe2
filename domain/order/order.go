// Package order holds the records and events that flow through the
// pipeline. Field names and enum spellings are the wire contract shared by
// the order, inventory and notification services.
package order

type Status string

const (
	Pending  Status = "PENDING"
	Approved Status = "APPROVED"
	Rejected Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case Pending, Approved, Rejected:
		return true
	}
	return false
}

// Item is one order line.
type Item struct {
	Category  Category `json:"category"`
	ProductID string   `json:"productId"`
	Quantity  int      `json:"quantity"`
}

// Order is the persisted order record and also the payload published on
// the orders topic.
type Order struct {
	OrderID      string `json:"orderId"`
	CustomerName string `json:"customerName"`
	Items        []Item `json:"items"`
	Status       Status `json:"status"`
}

// WithStatus returns a copy of o carrying s.
func (o Order) WithStatus(s Status) Order {
	o.Status = s
	return o
}
