package repository

import (
	"context"
	"testing"
	"time"

	"sos-relay/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisReconciliationLog_RecordReadAck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	log := NewRedisReconciliationLog(client, "", "reconcilers", "c1", zap.NewNop())
	require.NoError(t, log.EnsureGroup(ctx))

	require.NoError(t, log.Record(ctx, models.ReconcileEntry{
		RecordID:   "rec-1",
		Kind:       models.ChannelLedger,
		ExternalID: "0xabc",
		Name:       "Asha",
		Reason:     "confirmation timeout",
	}))

	msgs, err := log.Read(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rec-1", msgs[0].Entry.RecordID)
	assert.Equal(t, "0xabc", msgs[0].Entry.ExternalID)
	assert.False(t, msgs[0].Entry.RecordedAt.IsZero())

	require.NoError(t, log.Ack(ctx, msgs[0].ID))
	pending, err := client.XPending(ctx, DefaultReconcileStream, "reconcilers").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestRedisReconciliationLog_SkipsMalformed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	log := NewRedisReconciliationLog(client, "test:reconcile", "g", "c", zap.NewNop())
	require.NoError(t, log.EnsureGroup(ctx))

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:reconcile",
		Values: map[string]interface{}{"data": "{not json"},
	}).Err())

	msgs, err := log.Read(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	pending, err := client.XPending(ctx, "test:reconcile", "g").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}
