package order

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CreateRequest is the intake payload for a new order.
type CreateRequest struct {
	Items        []Item     `json:"items"`
	CustomerName string     `json:"customerName"`
	RequestedAt  *time.Time `json:"requestedAt"`
}

// ValidationError maps field paths to messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid order request: " + strings.Join(parts, ", ")
}

// Validate checks the request against now. It returns a *ValidationError
// or nil.
func (r CreateRequest) Validate(now time.Time) error {
	fields := map[string]string{}

	if len(r.Items) == 0 {
		fields["items"] = "must not be empty"
	}
	for i, it := range r.Items {
		p := fmt.Sprintf("items[%d]", i)
		if it.Category == "" {
			fields[p+".category"] = "must not be null"
		}
		if strings.TrimSpace(it.ProductID) == "" {
			fields[p+".productId"] = "must not be blank"
		}
		if it.Quantity < 1 {
			fields[p+".quantity"] = "must be greater than or equal to 1"
		}
	}
	if strings.TrimSpace(r.CustomerName) == "" {
		fields["customerName"] = "must not be blank"
	}
	switch {
	case r.RequestedAt == nil:
		fields["requestedAt"] = "must not be null"
	case r.RequestedAt.Truncate(time.Second).Before(now.Truncate(time.Second)):
		fields["requestedAt"] = "requested date must be now or in the future"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
