// Package remote adapts key-value backends to the small get/set surface the
// state store needs. Every error other than ErrNotFound is treated by
// callers as a transient failure.
package remote

import (
	"context"
	"errors"
)

// ErrNotFound reports a clean miss: the backend answered and the key is
// absent.
var ErrNotFound = errors.New("remote: key not found")

// Store is a remote key-value backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
