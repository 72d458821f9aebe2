package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	err  error
	msgs []kafka.Message
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestProducerPublishEncodesJSON(t *testing.T) {
	w := &memWriter{}
	p := &Producer{topic: "orders", writer: w}

	require.NoError(t, p.Publish(context.Background(), "ord-1", map[string]string{"orderId": "ord-1"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "ord-1", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"orderId":"ord-1"}`, string(w.msgs[0].Value))

	w.err = errors.New("leader not available")
	err := p.Publish(context.Background(), "ord-2", 1)
	assert.ErrorContains(t, err, "write orders")

	assert.Error(t, p.Publish(context.Background(), "ord-3", make(chan int)))
}

// memReader serves queued messages, then blocks until ctx is done.
type memReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newMemReader(msgs ...kafka.Message) *memReader {
	return &memReader{queue: msgs, drained: make(chan struct{})}
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	select {
	case <-r.drained:
	default:
		close(r.drained)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *memReader) Close() error { return nil }

func runUntilDrained(t *testing.T, c *Consumer, r *memReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-r.drained
	cancel()
	require.NoError(t, <-done)
}

func TestConsumerCommitsEveryMessage(t *testing.T) {
	r := newMemReader(
		kafka.Message{Offset: 1, Value: []byte("ok")},
		kafka.Message{Offset: 2, Value: []byte("poison")},
		kafka.Message{Offset: 3, Value: []byte("ok")},
	)

	var mu sync.Mutex
	calls := map[string]int{}
	c := newConsumer("orders", r, func(_ context.Context, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls[string(payload)]++
		if string(payload) == "poison" {
			return backoff.Permanent(errors.New("undecodable"))
		}
		return nil
	}, 3, nil)

	runUntilDrained(t, c, r)

	assert.Equal(t, []int64{1, 2, 3}, r.committed)
	assert.Equal(t, 1, calls["poison"], "permanent errors are not retried")
	assert.Equal(t, 2, calls["ok"])
}

func TestConsumerRetriesTransientFailure(t *testing.T) {
	r := newMemReader(kafka.Message{Offset: 7, Value: []byte("x")})

	attempts := 0
	c := newConsumer("inventory-results", r, func(context.Context, []byte) error {
		attempts++
		if attempts == 1 {
			return errors.New("store busy")
		}
		return nil
	}, 2, nil)

	runUntilDrained(t, c, r)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, []int64{7}, r.committed)
}
