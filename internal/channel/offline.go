package channel

import (
	"context"
	"errors"

	"sos-relay/internal/models"

	"go.uber.org/zap"
)

// OfflineQueue is a durable append-only local queue. Enqueue never overwrites earlier entries.
type OfflineQueue interface {
	Enqueue(ctx context.Context, alert models.OutboundAlert) (int64, error)
}

// OfflineChannel stores alerts locally for later relay once connectivity returns.
type OfflineChannel struct {
	queue  OfflineQueue
	logger *zap.Logger
}

// NewOfflineChannel creates the offline channel.
func NewOfflineChannel(queue OfflineQueue, logger *zap.Logger) *OfflineChannel {
	return &OfflineChannel{queue: queue, logger: logger}
}

func (c *OfflineChannel) Kind() models.ChannelKind { return models.ChannelOffline }

// Send appends the alert to the queue. A local write failure is PermanentRejected.
func (c *OfflineChannel) Send(ctx context.Context, alert models.OutboundAlert) (models.Receipt, error) {
	if c.queue == nil {
		return models.Receipt{}, NotConfigured(models.ChannelOffline, "enqueue", errors.New("offline queue not configured"))
	}

	seq, err := c.queue.Enqueue(ctx, alert)
	if err != nil {
		c.logger.Error("Failed to enqueue offline alert",
			zap.String("record_id", alert.RecordID),
			zap.Error(err),
		)
		return models.Receipt{}, Permanent(models.ChannelOffline, "enqueue", err)
	}

	c.logger.Info("Alert queued offline",
		zap.String("record_id", alert.RecordID),
		zap.Int64("seq", seq),
	)

	return models.Receipt{ChannelKind: models.ChannelOffline}, nil
}
