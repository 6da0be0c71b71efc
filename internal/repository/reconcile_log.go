package repository

import (
	"context"
	"fmt"
	"time"

	rediscommon "sos-relay/internal/common/redis"
	"sos-relay/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultReconcileStream is the Redis stream holding unresolved sends.
const DefaultReconcileStream = "sos:reconcile"

// ReconcileMessage is one stream entry awaiting resolution.
type ReconcileMessage struct {
	ID    string
	Entry models.ReconcileEntry
}

// RedisReconciliationLog appends unresolved sends to a Redis stream and lets a
// consumer group work through them.
type RedisReconciliationLog struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *zap.Logger
}

// NewRedisReconciliationLog creates the log. stream "" uses DefaultReconcileStream.
func NewRedisReconciliationLog(client *redis.Client, stream, group, consumer string, logger *zap.Logger) *RedisReconciliationLog {
	if stream == "" {
		stream = DefaultReconcileStream
	}
	return &RedisReconciliationLog{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		logger:   logger,
	}
}

// Record appends entry to the stream.
func (l *RedisReconciliationLog) Record(ctx context.Context, entry models.ReconcileEntry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	id, err := rediscommon.PublishJSONToStream(ctx, l.client, l.stream, entry)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation entry for %s: %w", entry.RecordID, err)
	}
	l.logger.Info("Reconciliation entry recorded",
		zap.String("record_id", entry.RecordID),
		zap.String("external_id", entry.ExternalID),
		zap.String("stream_id", id),
	)
	return nil
}

// EnsureGroup creates the consumer group when missing.
func (l *RedisReconciliationLog) EnsureGroup(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, l.client, l.stream, l.group); err != nil {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", l.group, l.stream, err)
	}
	return nil
}

// Read returns up to count new entries, blocking up to block. Undecodable entries
// are acknowledged and skipped.
func (l *RedisReconciliationLog) Read(ctx context.Context, count int64, block time.Duration) ([]ReconcileMessage, error) {
	msgs, err := rediscommon.ReadFromStream(ctx, l.client, l.stream, l.group, l.consumer, count, block)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", l.stream, err)
	}

	out := make([]ReconcileMessage, 0, len(msgs))
	for _, msg := range msgs {
		var entry models.ReconcileEntry
		if err := msg.DecodeJSON(&entry); err != nil {
			l.logger.Error("Dropping malformed reconciliation entry",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			if ackErr := l.Ack(ctx, msg.ID); ackErr != nil {
				l.logger.Warn("Failed to ack malformed entry", zap.String("stream_id", msg.ID), zap.Error(ackErr))
			}
			continue
		}
		out = append(out, ReconcileMessage{ID: msg.ID, Entry: entry})
	}
	return out, nil
}

// Ack marks ids as resolved.
func (l *RedisReconciliationLog) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return rediscommon.Ack(ctx, l.client, l.stream, l.group, ids...)
}
