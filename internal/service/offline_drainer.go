package service

import (
	"context"
	"fmt"
	"time"

	"sos-relay/internal/channel"
	"sos-relay/internal/models"
	"sos-relay/internal/repository"

	"go.uber.org/zap"
)

// DrainQueue is the drain side of the offline queue.
type DrainQueue interface {
	Pending(ctx context.Context, limit int) ([]models.QueuedAlert, error)
	MarkDrained(ctx context.Context, seq int64, externalID string) error
	MarkFailed(ctx context.Context, seq int64, reason string) error
}

// Pinger checks upstream connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OfflineDrainer relays queued offline alerts through the ledger once it is reachable.
type OfflineDrainer struct {
	queue    DrainQueue
	ledger   channel.Channel
	pinger   Pinger
	store    repository.AlertStore
	interval time.Duration
	batch    int
	logger   *zap.Logger

	reconcile ReconciliationRecorder
}

// DrainerOption configures optional collaborators.
type DrainerOption func(*OfflineDrainer)

// WithDrainReconciliation hands broadcast but unconfirmed entries to r.
func WithDrainReconciliation(r ReconciliationRecorder) DrainerOption {
	return func(d *OfflineDrainer) { d.reconcile = r }
}

// NewOfflineDrainer creates a drainer. pinger may be nil, in which case every
// tick attempts a drain.
func NewOfflineDrainer(queue DrainQueue, ledger channel.Channel, pinger Pinger, alerts repository.AlertStore, interval time.Duration, batch int, logger *zap.Logger, opts ...DrainerOption) *OfflineDrainer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	d := &OfflineDrainer{
		queue:    queue,
		ledger:   ledger,
		pinger:   pinger,
		store:    alerts,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drains on every interval until ctx ends.
func (d *OfflineDrainer) Run(ctx context.Context) error {
	d.logger.Info("Offline drainer started", zap.Duration("interval", d.interval))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Offline drainer stopped")
			return nil
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.logger.Warn("Offline drain pass failed", zap.Error(err))
			}
		}
	}
}

// DrainOnce relays pending entries oldest first. It stops at the first failure
// that may clear up on its own; an entry that can never be relayed is marked failed.
func (d *OfflineDrainer) DrainOnce(ctx context.Context) (int, error) {
	if d.pinger != nil {
		if err := d.pinger.Ping(ctx); err != nil {
			d.logger.Debug("Ledger unreachable, offline queue kept", zap.Error(err))
			return 0, nil
		}
	}

	entries, err := d.queue.Pending(ctx, d.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to read offline queue: %w", err)
	}

	drained := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return drained, ctx.Err()
		}

		receipt, err := d.ledger.Send(ctx, entry.Outbound())
		if err != nil {
			if channel.KindOf(err) == channel.PermanentRejected {
				d.logger.Error("Offline alert rejected by ledger, parking",
					zap.String("record_id", entry.RecordID),
					zap.Int64("seq", entry.Seq),
					zap.Error(err),
				)
				if markErr := d.queue.MarkFailed(ctx, entry.Seq, err.Error()); markErr != nil {
					return drained, fmt.Errorf("failed to park offline alert %d: %w", entry.Seq, markErr)
				}
				continue
			}
			if ce, ok := channel.AsError(err); ok && ce.ExternalID != "" {
				// broadcast already happened; confirm that tx instead of sending a new one
				if err := d.handOff(ctx, entry, ce); err != nil {
					return drained, err
				}
				drained++
				return drained, nil
			}
			// transient or unconfigured: keep order, retry next tick
			return drained, fmt.Errorf("offline alert %d not relayed: %w", entry.Seq, err)
		}

		txHash := receipt.ExternalIDValue()
		if err := d.queue.MarkDrained(ctx, entry.Seq, txHash); err != nil {
			return drained, fmt.Errorf("failed to mark offline alert %d drained: %w", entry.Seq, err)
		}
		drained++

		d.backfill(ctx, entry)

		d.logger.Info("Offline alert relayed",
			zap.String("record_id", entry.RecordID),
			zap.Int64("seq", entry.Seq),
			zap.String("tx_hash", txHash),
		)
	}
	return drained, nil
}

// handOff marks an entry whose transaction was broadcast but not confirmed as
// drained under that hash and records it for reconciliation.
func (d *OfflineDrainer) handOff(ctx context.Context, entry models.QueuedAlert, ce *channel.Error) error {
	if err := d.queue.MarkDrained(ctx, entry.Seq, ce.ExternalID); err != nil {
		return fmt.Errorf("failed to mark offline alert %d drained: %w", entry.Seq, err)
	}
	d.backfill(ctx, entry)

	if d.reconcile == nil {
		d.logger.Warn("Offline alert broadcast but unconfirmed, no reconciliation log",
			zap.String("record_id", entry.RecordID),
			zap.Int64("seq", entry.Seq),
			zap.String("tx_hash", ce.ExternalID),
			zap.Error(ce),
		)
		return nil
	}
	err := d.reconcile.Record(ctx, models.ReconcileEntry{
		RecordID:   entry.RecordID,
		Kind:       models.ChannelLedger,
		ExternalID: ce.ExternalID,
		Name:       entry.Name,
		Location:   entry.Location,
		Message:    entry.Message,
		Reason:     ce.Error(),
	})
	if err != nil {
		d.logger.Error("Failed to record unconfirmed offline alert",
			zap.String("record_id", entry.RecordID),
			zap.String("tx_hash", ce.ExternalID),
			zap.Error(err),
		)
		return nil
	}
	d.logger.Info("Offline alert broadcast, confirmation handed to reconciliation",
		zap.String("record_id", entry.RecordID),
		zap.Int64("seq", entry.Seq),
		zap.String("tx_hash", ce.ExternalID),
	)
	return nil
}

// backfill stores the offline record in case the original dispatch could not.
// The store ignores an id it already holds.
func (d *OfflineDrainer) backfill(ctx context.Context, entry models.QueuedAlert) {
	if d.store == nil {
		return
	}
	_, err := d.store.Append(ctx, &models.AlertRecord{
		ID:          entry.RecordID,
		Name:        entry.Name,
		Location:    entry.Location,
		Message:     entry.Message,
		ChannelKind: models.ChannelOffline,
		Receipt:     models.Receipt{ChannelKind: models.ChannelOffline},
	})
	if err != nil {
		d.logger.Error("Failed to backfill offline alert record",
			zap.String("record_id", entry.RecordID),
			zap.Error(err),
		)
	}
}
