package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpipe/domain/order"
	"orderpipe/infra/clock"
	"orderpipe/infra/remote"
	"orderpipe/infra/statestore"
)

var now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type memRemote struct {
	mu   sync.Mutex
	data map[string][]byte
	down bool
}

func (m *memRemote) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errors.New("connection refused")
	}
	v, ok := m.data[key]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return v, nil
}

func (m *memRemote) Set(_ context.Context, key string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("connection refused")
	}
	m.data[key] = v
	return nil
}

type published struct {
	key string
	v   any
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []published
}

func (f *fakePublisher) Publish(_ context.Context, key string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key, v})
	return nil
}

func setup(t *testing.T) (*Service, *memRemote, *fakePublisher) {
	t.Helper()
	rs := &memRemote{data: map[string][]byte{}}
	store := statestore.New[order.Order](rs, nil, statestore.Config{
		Name:  "orders",
		Clock: clock.NewManual(now),
	})
	pub := &fakePublisher{}
	svc := NewService(store, pub,
		WithClock(clock.NewManual(now)),
		WithIDGenerator(func() string { return "ord-1" }),
	)
	return svc, rs, pub
}

func validRequest() order.CreateRequest {
	at := now.Add(time.Hour)
	return order.CreateRequest{
		CustomerName: "Daniel",
		RequestedAt:  &at,
		Items: []order.Item{
			{Category: order.Standard, ProductID: "P1001", Quantity: 2},
		},
	}
}

func TestCreatePersistsAndPublishes(t *testing.T) {
	svc, rs, pub := setup(t)
	ctx := context.Background()

	o, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.OrderID)
	assert.Equal(t, order.Pending, o.Status)

	raw, ok := rs.data["order:ord-1"]
	require.True(t, ok)
	assert.JSONEq(t, `{"orderId":"ord-1","customerName":"Daniel","status":"PENDING",
		"items":[{"category":"standard","productId":"P1001","quantity":2}]}`, string(raw))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "ord-1", pub.sent[0].key)
	assert.Equal(t, o, pub.sent[0].v)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	svc, rs, pub := setup(t)

	req := validRequest()
	req.CustomerName = ""
	_, err := svc.Create(context.Background(), req)

	var verr *order.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "customerName")
	assert.Empty(t, rs.data)
	assert.Empty(t, pub.sent)
}

func TestCreatePublishFailureIsProcessingError(t *testing.T) {
	svc, _, pub := setup(t)
	pub.err = errors.New("broker down")

	_, err := svc.Create(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrProcessing)
}

func TestCreateWhileRemoteDownStillSucceeds(t *testing.T) {
	svc, rs, pub := setup(t)
	rs.down = true

	o, err := svc.Create(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Len(t, pub.sent, 1)

	got, ok := svc.Get(context.Background(), o.OrderID)
	require.True(t, ok)
	assert.Equal(t, o, got)
}

func TestUpdateStatus(t *testing.T) {
	t.Run("existing order", func(t *testing.T) {
		svc, _, _ := setup(t)
		ctx := context.Background()
		o, err := svc.Create(ctx, validRequest())
		require.NoError(t, err)

		require.NoError(t, svc.UpdateStatus(ctx, o.OrderID, order.Approved))

		got, ok := svc.Get(ctx, o.OrderID)
		require.True(t, ok)
		assert.Equal(t, order.Approved, got.Status)
		assert.Equal(t, o.Items, got.Items, "merge keeps the rest of the record")
	})

	t.Run("missing order", func(t *testing.T) {
		svc, rs, _ := setup(t)
		err := svc.UpdateStatus(context.Background(), "ghost", order.Rejected)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Empty(t, rs.data)
	})

	t.Run("invalid status", func(t *testing.T) {
		svc, _, _ := setup(t)
		err := svc.UpdateStatus(context.Background(), "x", order.Status("SHIPPED"))
		assert.Error(t, err)
	})
}

func TestHandleResultMessage(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()
	o, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	payload, _ := json.Marshal(order.InventoryResult{OrderID: o.OrderID, Status: order.Rejected})
	require.NoError(t, svc.HandleResultMessage(ctx, payload))

	got, _ := svc.Get(ctx, o.OrderID)
	assert.Equal(t, order.Rejected, got.Status)

	var perm *backoff.PermanentError
	assert.ErrorAs(t, svc.HandleResultMessage(ctx, []byte("{nope")), &perm)

	payload, _ = json.Marshal(order.InventoryResult{OrderID: "ghost", Status: order.Approved})
	err = svc.HandleResultMessage(ctx, payload)
	assert.ErrorAs(t, err, &perm)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReaderUsesPrefix(t *testing.T) {
	rs := &memRemote{data: map[string][]byte{
		"o/9": []byte(`{"orderId":"9","customerName":"Ana","status":"APPROVED"}`),
	}}
	store := statestore.New[order.Order](rs, nil, statestore.Config{Name: "orders-read"})

	r := NewReader(store, "o/")
	got, ok := r.Lookup(context.Background(), "9")
	require.True(t, ok)
	assert.Equal(t, "Ana", got.CustomerName)

	_, ok = NewReader(store, "").Lookup(context.Background(), "9")
	assert.False(t, ok)
}
