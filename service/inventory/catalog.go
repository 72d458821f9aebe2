package inventory

import (
	"time"

	"orderpipe/domain/order"
)

// Product is one catalog line. A zero ExpiresOn means the product does
// not expire.
type Product struct {
	ID        string
	Category  order.Category
	Available int
	ExpiresOn time.Time
}

// Catalog maps product ids to products. It is read-only once built.
type Catalog map[string]Product

// DefaultCatalog returns the built-in products. Relative expiry dates are
// computed from today.
func DefaultCatalog(today time.Time) Catalog {
	day := truncateDay(today)
	return Catalog{
		"P1001": {ID: "P1001", Category: order.Standard, Available: 10},
		"P1002": {ID: "P1002", Category: order.Perishable, Available: 3, ExpiresOn: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)},
		"P1003": {ID: "P1003", Category: order.Digital, Available: 0},
		"P1005": {ID: "P1005", Category: order.Perishable, Available: 5, ExpiresOn: day.AddDate(0, 0, 10)},
		"P1006": {ID: "P1006", Category: order.Perishable, Available: 2, ExpiresOn: day.AddDate(0, 0, -2)},
		"P1007": {ID: "P1007", Category: order.Digital, Available: 9999},
		"P1008": {ID: "P1008", Category: order.Standard, Available: 0},
	}
}

// expired compares calendar days: a product is unusable on its expiry day.
func (p Product) expired(today time.Time) bool {
	if p.ExpiresOn.IsZero() {
		return false
	}
	return !truncateDay(today).Before(truncateDay(p.ExpiresOn))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
