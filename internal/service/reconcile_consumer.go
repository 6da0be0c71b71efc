package service

import (
	"context"
	"time"

	"sos-relay/internal/channel"
	"sos-relay/internal/models"
	"sos-relay/internal/repository"

	"go.uber.org/zap"
)

// ReconcileSource is the consumer side of the reconciliation log.
type ReconcileSource interface {
	Record(ctx context.Context, entry models.ReconcileEntry) error
	Read(ctx context.Context, count int64, block time.Duration) ([]repository.ReconcileMessage, error)
	Ack(ctx context.Context, ids ...string) error
}

// LedgerConfirmer waits for an already broadcast transaction.
type LedgerConfirmer interface {
	Confirm(ctx context.Context, txHash string) (models.Receipt, error)
}

// ReconcileConsumer resolves sends whose outcome was unknown when the dispatch
// ended and stores their records under the original id.
type ReconcileConsumer struct {
	source      ReconcileSource
	confirmer   LedgerConfirmer
	store       repository.AlertStore
	maxAttempts int
	block       time.Duration
	logger      *zap.Logger
}

// NewReconcileConsumer creates the consumer. confirmer may be nil when no ledger
// is configured; ledger entries are then retried until maxAttempts.
func NewReconcileConsumer(source ReconcileSource, confirmer LedgerConfirmer, alerts repository.AlertStore, maxAttempts int, logger *zap.Logger) *ReconcileConsumer {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &ReconcileConsumer{
		source:      source,
		confirmer:   confirmer,
		store:       alerts,
		maxAttempts: maxAttempts,
		block:       5 * time.Second,
		logger:      logger,
	}
}

// Run processes entries until ctx ends.
func (c *ReconcileConsumer) Run(ctx context.Context) error {
	c.logger.Info("Reconcile consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("Reconcile consumer stopped")
			return nil
		}
		if _, err := c.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Reconcile pass failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOnce reads one batch and resolves it. It returns the number of entries
// whose record was stored.
func (c *ReconcileConsumer) ProcessOnce(ctx context.Context) (int, error) {
	msgs, err := c.source.Read(ctx, 10, c.block)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, msg := range msgs {
		if c.handle(ctx, msg.Entry) {
			stored++
		}
		if err := c.source.Ack(ctx, msg.ID); err != nil {
			c.logger.Warn("Failed to ack reconciliation entry",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return stored, nil
}

// handle resolves entry. Entries that may still resolve are re-recorded with an
// incremented attempt count, so the original message can always be acked.
func (c *ReconcileConsumer) handle(ctx context.Context, entry models.ReconcileEntry) bool {
	receipt, err := c.resolve(ctx, entry)
	if err != nil {
		if channel.KindOf(err) == channel.PermanentRejected {
			c.logger.Error("Unresolved send was rejected, dropping",
				zap.String("record_id", entry.RecordID),
				zap.String("external_id", entry.ExternalID),
				zap.Error(err),
			)
			return false
		}
		c.retry(ctx, entry, err)
		return false
	}

	record := &models.AlertRecord{
		ID:          entry.RecordID,
		Name:        entry.Name,
		Location:    entry.Location,
		Message:     entry.Message,
		ChannelKind: entry.Kind,
		Receipt:     receipt,
	}
	if _, err := c.store.Append(ctx, record); err != nil {
		c.retry(ctx, entry, err)
		return false
	}

	c.logger.Info("Unresolved send reconciled",
		zap.String("record_id", entry.RecordID),
		zap.String("external_id", entry.ExternalID),
	)
	return true
}

func (c *ReconcileConsumer) resolve(ctx context.Context, entry models.ReconcileEntry) (models.Receipt, error) {
	if entry.Kind != models.ChannelLedger {
		// provider accepted the send; only the store write is missing
		return models.Receipt{ChannelKind: entry.Kind, ExternalID: models.StringPtr(entry.ExternalID)}, nil
	}
	if c.confirmer == nil {
		return models.Receipt{}, channel.NotConfigured(models.ChannelLedger, "confirm", channel.ErrLedgerNotConfigured)
	}
	return c.confirmer.Confirm(ctx, entry.ExternalID)
}

func (c *ReconcileConsumer) retry(ctx context.Context, entry models.ReconcileEntry, cause error) {
	entry.Attempts++
	if entry.Attempts >= c.maxAttempts {
		c.logger.Error("Giving up on unresolved send",
			zap.String("record_id", entry.RecordID),
			zap.String("external_id", entry.ExternalID),
			zap.Int("attempts", entry.Attempts),
			zap.Error(cause),
		)
		return
	}

	entry.Reason = cause.Error()
	entry.RecordedAt = time.Time{}
	if err := c.source.Record(ctx, entry); err != nil {
		c.logger.Error("Failed to requeue unresolved send",
			zap.String("record_id", entry.RecordID),
			zap.Error(err),
		)
	}
}
