package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"sos-relay/internal/channel"
	"sos-relay/internal/models"
	"sos-relay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func openQueue(t *testing.T) *repository.SQLiteOfflineQueue {
	t.Helper()
	q, err := repository.OpenSQLiteOfflineQueue(context.Background(), filepath.Join(t.TempDir(), "offline.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func enqueue(t *testing.T, q *repository.SQLiteOfflineQueue, id string) int64 {
	t.Helper()
	seq, err := q.Enqueue(context.Background(), models.OutboundAlert{
		RecordID:   id,
		AlertInput: models.AlertInput{Name: "Asha", Location: "12.97,77.59", Message: "help " + id},
	})
	require.NoError(t, err)
	return seq
}

func TestOfflineDrainer_DrainsInOrderAndBackfills(t *testing.T) {
	q := openQueue(t)
	enqueue(t, q, "r1")
	enqueue(t, q, "r2")

	ledger := &fakeChannel{
		kind: models.ChannelLedger,
		send: func(_ context.Context, a models.OutboundAlert) (models.Receipt, error) {
			return models.Receipt{ChannelKind: models.ChannelLedger, ExternalID: models.StringPtr("0x" + a.RecordID)}, nil
		},
	}
	alerts := repository.NewMemoryAlertStore(nil)
	d := NewOfflineDrainer(q, ledger, fakePinger{}, alerts, time.Minute, 10, zap.NewNop())

	n, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	calls := ledger.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "r1", calls[0].RecordID)
	assert.Equal(t, "help r1", calls[0].Message)

	pending, err := q.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	rec, err := alerts.Get(context.Background(), "r2")
	require.NoError(t, err)
	assert.Equal(t, models.ChannelOffline, rec.ChannelKind)

	first, err := q.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "0xr1", *first.ExternalID)
}

func TestOfflineDrainer_StopsAtTransientFailure(t *testing.T) {
	q := openQueue(t)
	enqueue(t, q, "r1")
	enqueue(t, q, "r2")

	ledger := &fakeChannel{
		kind: models.ChannelLedger,
		send: func(context.Context, models.OutboundAlert) (models.Receipt, error) {
			return models.Receipt{}, channel.Transient(models.ChannelLedger, "broadcast", errors.New("503"))
		},
	}
	d := NewOfflineDrainer(q, ledger, nil, nil, time.Minute, 10, zap.NewNop())

	n, err := d.DrainOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, ledger.Calls(), 1)

	pending, err := q.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestOfflineDrainer_ParksPermanentFailures(t *testing.T) {
	q := openQueue(t)
	bad := enqueue(t, q, "bad")
	enqueue(t, q, "good")

	ledger := &fakeChannel{
		kind: models.ChannelLedger,
		send: func(_ context.Context, a models.OutboundAlert) (models.Receipt, error) {
			if a.RecordID == "bad" {
				return models.Receipt{}, channel.Permanent(models.ChannelLedger, "broadcast", errors.New("execution reverted"))
			}
			return models.Receipt{ChannelKind: models.ChannelLedger, ExternalID: models.StringPtr("0x1")}, nil
		},
	}
	d := NewOfflineDrainer(q, ledger, fakePinger{}, repository.NewMemoryAlertStore(nil), time.Minute, 10, zap.NewNop())

	n, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	parked, err := q.Get(context.Background(), bad)
	require.NoError(t, err)
	assert.Equal(t, models.QueueFailed, parked.Status)
	assert.Contains(t, parked.FailureReason, "execution reverted")
}

func TestOfflineDrainer_UnconfirmedBroadcastIsNotRepeated(t *testing.T) {
	q := openQueue(t)
	seq := enqueue(t, q, "r1")

	broadcasts := 0
	ledger := &fakeChannel{
		kind: models.ChannelLedger,
		send: func(context.Context, models.OutboundAlert) (models.Receipt, error) {
			broadcasts++
			return models.Receipt{}, &channel.Error{
				Kind:       channel.TransientUpstream,
				Channel:    models.ChannelLedger,
				Op:         "confirm",
				ExternalID: fmt.Sprintf("0xtx%d", broadcasts),
				Err:        channel.ErrConfirmationTimeout,
			}
		},
	}
	log := &fakeReconcileLog{}
	d := NewOfflineDrainer(q, ledger, fakePinger{}, repository.NewMemoryAlertStore(nil), time.Minute, 10, zap.NewNop(),
		WithDrainReconciliation(log))

	for i := 0; i < 3; i++ {
		_, err := d.DrainOnce(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 1, broadcasts)

	entry, err := q.Get(context.Background(), seq)
	require.NoError(t, err)
	assert.Equal(t, models.QueueDrained, entry.Status)
	assert.Equal(t, "0xtx1", *entry.ExternalID)

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].RecordID)
	assert.Equal(t, models.ChannelLedger, entries[0].Kind)
	assert.Equal(t, "0xtx1", entries[0].ExternalID)
}

func TestOfflineDrainer_SkipsWhenUnreachable(t *testing.T) {
	q := openQueue(t)
	enqueue(t, q, "r1")

	ledger := &fakeChannel{kind: models.ChannelLedger}
	d := NewOfflineDrainer(q, ledger, fakePinger{err: errors.New("no route")}, nil, time.Minute, 10, zap.NewNop())

	n, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, ledger.Calls())
}

func TestOfflineDrainer_RunStopsWithContext(t *testing.T) {
	q := openQueue(t)
	enqueue(t, q, "r1")

	ledger := &fakeChannel{kind: models.ChannelLedger}
	d := NewOfflineDrainer(q, ledger, nil, nil, 5*time.Millisecond, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ledger.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
