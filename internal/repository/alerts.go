package repository

import (
	"context"
	"errors"
	"time"

	"sos-relay/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// AlertStore persists AlertRecords. Records are insert-only.
type AlertStore interface {
	// Append stores rec idempotently by rec.ID and writes the storage-assigned
	// CreatedAt back into rec. Appending an existing id is a no-op that returns
	// the id and the original CreatedAt.
	Append(ctx context.Context, rec *models.AlertRecord) (string, error)
	// QueryWindow returns records with from <= CreatedAt <= to, newest first,
	// ties broken by id descending.
	QueryWindow(ctx context.Context, from, to time.Time) ([]*models.AlertRecord, error)
	Get(ctx context.Context, id string) (*models.AlertRecord, error)
}

func validateRecord(rec *models.AlertRecord) error {
	if rec == nil {
		return errors.New("alert record is nil")
	}
	if rec.ID == "" {
		return errors.New("alert record id is required")
	}
	if rec.ChannelKind == "" {
		return errors.New("alert record channel is required")
	}
	return nil
}
