package repository

import (
	"context"
	"path/filepath"
	"testing"

	"sos-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestQueue(t *testing.T, path string) *SQLiteOfflineQueue {
	q, err := OpenSQLiteOfflineQueue(context.Background(), path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func outbound(id, name string) models.OutboundAlert {
	return models.OutboundAlert{
		RecordID:   id,
		AlertInput: models.AlertInput{Name: name, Location: "12.97,77.59", Message: "help"},
	}
}

func TestSQLiteOfflineQueue_AppendOnly(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "offline.db"))
	ctx := context.Background()

	s1, err := q.Enqueue(ctx, outbound("r1", "Asha"))
	require.NoError(t, err)
	s2, err := q.Enqueue(ctx, outbound("r2", "Ravi"))
	require.NoError(t, err)
	assert.Greater(t, s2, s1)

	again, err := q.Enqueue(ctx, outbound("r1", "Asha"))
	require.NoError(t, err)
	assert.Equal(t, s1, again)

	pending, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "r1", pending[0].RecordID)
	assert.Equal(t, "r2", pending[1].RecordID)
	assert.Equal(t, models.QueuePending, pending[0].Status)
	assert.Equal(t, "Asha", pending[0].Outbound().Name)
	assert.False(t, pending[0].EnqueuedAt.IsZero())
}

func TestSQLiteOfflineQueue_Transitions(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "offline.db"))
	ctx := context.Background()

	s1, _ := q.Enqueue(ctx, outbound("r1", "Asha"))
	s2, _ := q.Enqueue(ctx, outbound("r2", "Ravi"))

	require.NoError(t, q.MarkDrained(ctx, s1, "0xabc"))
	require.NoError(t, q.MarkFailed(ctx, s2, "execution reverted"))

	// terminal states do not move again
	assert.ErrorIs(t, q.MarkDrained(ctx, s1, "0xdef"), ErrNotFound)

	drained, err := q.Get(ctx, s1)
	require.NoError(t, err)
	assert.Equal(t, models.QueueDrained, drained.Status)
	require.NotNil(t, drained.ExternalID)
	assert.Equal(t, "0xabc", *drained.ExternalID)
	assert.NotNil(t, drained.DrainedAt)

	failed, err := q.Get(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, models.QueueFailed, failed.Status)
	assert.Equal(t, "execution reverted", failed.FailureReason)

	pending, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err := q.CountByStatus(ctx, models.QueueDrained)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteOfflineQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.db")
	ctx := context.Background()

	q1, err := OpenSQLiteOfflineQueue(ctx, path, zap.NewNop())
	require.NoError(t, err)
	s1, err := q1.Enqueue(ctx, outbound("r1", "Asha"))
	require.NoError(t, err)
	require.NoError(t, q1.Close())

	q2 := openTestQueue(t, path)
	s2, err := q2.Enqueue(ctx, outbound("r2", "Ravi"))
	require.NoError(t, err)
	assert.Greater(t, s2, s1)

	pending, err := q2.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
