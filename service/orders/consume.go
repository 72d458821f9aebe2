package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"orderpipe/domain/order"
)

// HandleResultMessage decodes an inventory result and applies it.
// Malformed payloads and missing records are permanent: retrying will not
// help.
func (s *Service) HandleResultMessage(ctx context.Context, payload []byte) error {
	var res order.InventoryResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return backoff.Permanent(fmt.Errorf("decode inventory result: %w", err))
	}
	if res.OrderID == "" {
		return backoff.Permanent(errors.New("inventory result without orderId"))
	}

	err := s.ApplyInventoryResult(ctx, res)
	if errors.Is(err, ErrNotFound) {
		return backoff.Permanent(err)
	}
	return err
}
