package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectPending(t *testing.T, o *Outbox) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, o.ScanPending(func(r Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestAppendAndScanInOrder(t *testing.T) {
	o, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer o.Close()

	s1, err := o.Append("orders", "a", []byte(`{"n":1}`))
	require.NoError(t, err)
	s2, err := o.Append("inventory-results", "b", []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.Less(t, s1, s2)

	recs := collectPending(t, o)
	require.Len(t, recs, 2)
	assert.Equal(t, Record{Seq: s1, State: StateNew, Topic: "orders", Key: "a", Payload: []byte(`{"n":1}`)}, recs[0])
	assert.Equal(t, "inventory-results", recs[1].Topic)
}

func TestStateTransitions(t *testing.T) {
	o, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer o.Close()

	seq, err := o.Append("orders", "a", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, o.MarkSent(seq))
	r, err := o.Get(seq)
	require.NoError(t, err)
	assert.Equal(t, StateSent, r.State)
	assert.NotZero(t, r.LastAttempt)
	assert.Len(t, collectPending(t, o), 1, "in-flight records are resent")

	r, err = o.MarkRetry(seq)
	require.NoError(t, err)
	assert.Equal(t, StateNew, r.State)
	assert.Equal(t, uint32(1), r.Retries)

	require.NoError(t, o.MarkFailed(seq))
	assert.Empty(t, collectPending(t, o))

	var failed []uint64
	require.NoError(t, o.ScanByState(StateFailed, func(r Record) error {
		failed = append(failed, r.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{seq}, failed)

	require.NoError(t, o.Delete(seq))
	_, err = o.Get(seq)
	assert.Error(t, err)
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()

	o, err := Open(dir, nil)
	require.NoError(t, err)
	_, err = o.Append("orders", "a", nil)
	require.NoError(t, err)
	last, err := o.Append("orders", "b", nil)
	require.NoError(t, err)
	require.NoError(t, o.Close())

	o, err = Open(dir, nil)
	require.NoError(t, err)
	defer o.Close()

	next, err := o.Append("orders", "c", nil)
	require.NoError(t, err)
	assert.Greater(t, next, last)
	assert.Len(t, collectPending(t, o), 3)
}

func TestPublisherEncodesJSON(t *testing.T) {
	o, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer o.Close()

	p := o.Publisher("orders")
	require.NoError(t, p.Publish(context.Background(), "ord-1", map[string]string{"orderId": "ord-1"}))

	recs := collectPending(t, o)
	require.Len(t, recs, 1)
	assert.Equal(t, "orders", recs[0].Topic)
	assert.Equal(t, "ord-1", recs[0].Key)
	assert.JSONEq(t, `{"orderId":"ord-1"}`, string(recs[0].Payload))
}

func TestPublisherRefusesCancelledContext(t *testing.T) {
	o, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = o.Publisher("orders").Publish(ctx, "ord-1", map[string]string{"orderId": "ord-1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, collectPending(t, o))
}

func TestDecodeRejectsTruncated(t *testing.T) {
	b := encodeRecord(Record{Topic: "orders", Key: "k", Payload: []byte("p")})
	_, err := decodeRecord(1, b[:16])
	assert.ErrorIs(t, err, ErrCorrupt)
}
