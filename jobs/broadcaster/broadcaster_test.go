package broadcaster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpipe/infra/outbox"
)

func openOutbox(t *testing.T) *outbox.Outbox {
	t.Helper()
	ob, err := outbox.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ob.Close() })
	return ob
}

func countState(t *testing.T, ob *outbox.Outbox, s outbox.State) int {
	t.Helper()
	n := 0
	require.NoError(t, ob.ScanByState(s, func(outbox.Record) error {
		n++
		return nil
	}))
	return n
}

func TestRelayDeletesOnAck(t *testing.T) {
	ob := openOutbox(t)
	_, err := ob.Append("orders", "ord-1", []byte(`{"orderId":"ord-1"}`))
	require.NoError(t, err)

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "orders" {
			return errors.New("wrong topic " + m.Topic)
		}
		k, _ := m.Key.Encode()
		if string(k) != "ord-1" {
			return errors.New("wrong key " + string(k))
		}
		return nil
	})

	b := New(ob, sp, Config{}, nil, nil)
	assert.Equal(t, 1, b.RelayOnce(context.Background()))
	assert.Equal(t, 0, countState(t, ob, outbox.StateNew))
	assert.Equal(t, 0, countState(t, ob, outbox.StateSent))
	require.NoError(t, sp.Close())
}

func TestRelayRetriesThenParks(t *testing.T) {
	ob := openOutbox(t)
	seq, err := ob.Append("orders", "ord-1", []byte("x"))
	require.NoError(t, err)

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	sp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	b := New(ob, sp, Config{MaxRetries: 2}, nil, nil)
	ctx := context.Background()

	assert.Equal(t, 0, b.RelayOnce(ctx))
	rec, err := ob.Get(seq)
	require.NoError(t, err)
	assert.Equal(t, outbox.StateNew, rec.State)
	assert.Equal(t, uint32(1), rec.Retries)

	assert.Equal(t, 0, b.RelayOnce(ctx))
	assert.Equal(t, 1, countState(t, ob, outbox.StateFailed))

	// parked records are not sent again
	assert.Equal(t, 0, b.RelayOnce(ctx))
	require.NoError(t, sp.Close())
}

func TestStartRelaysInBackground(t *testing.T) {
	ob := openOutbox(t)
	_, err := ob.Append("inventory-results", "ord-9", []byte("{}"))
	require.NoError(t, err)

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndSucceed()

	b := New(ob, sp, Config{Interval: 5 * time.Millisecond}, nil, nil)
	b.Start(context.Background())
	b.Start(context.Background())

	require.Eventually(t, func() bool {
		return countState(t, ob, outbox.StateNew) == 0 && countState(t, ob, outbox.StateSent) == 0
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())
}
