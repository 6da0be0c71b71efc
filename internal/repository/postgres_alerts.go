package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sos-relay/internal/models"

	"go.uber.org/zap"
)

const alertsSchema = `
CREATE TABLE IF NOT EXISTS sos_alerts (
	id           UUID PRIMARY KEY,
	name         TEXT NOT NULL,
	location     TEXT NOT NULL,
	message      TEXT NOT NULL,
	channel      TEXT NOT NULL,
	external_id  TEXT,
	confirmed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sos_alerts_created_at ON sos_alerts (created_at DESC, id DESC);
`

// PostgresAlertStore is the AlertStore backed by the sos_alerts table.
type PostgresAlertStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAlertStore creates the store.
func NewPostgresAlertStore(db *sql.DB, logger *zap.Logger) *PostgresAlertStore {
	return &PostgresAlertStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the table and index when missing.
func (s *PostgresAlertStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, alertsSchema); err != nil {
		return fmt.Errorf("failed to create sos_alerts schema: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) Append(ctx context.Context, rec *models.AlertRecord) (string, error) {
	if err := validateRecord(rec); err != nil {
		return "", err
	}

	query := `
		INSERT INTO sos_alerts (id, name, location, message, channel, external_id, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`

	var confirmedAt sql.NullTime
	if rec.Receipt.ConfirmedAt != nil {
		confirmedAt = sql.NullTime{Time: *rec.Receipt.ConfirmedAt, Valid: true}
	}

	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.Location,
		rec.Message,
		string(rec.ChannelKind),
		nullString(rec.Receipt.ExternalID),
		confirmedAt,
	).Scan(&createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		// Already stored by an earlier attempt with the same id.
		err = s.db.QueryRowContext(ctx, `SELECT created_at FROM sos_alerts WHERE id = $1`, rec.ID).Scan(&createdAt)
		if err == nil {
			s.logger.Debug("Alert already stored", zap.String("record_id", rec.ID))
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to append alert %s: %w", rec.ID, err)
	}

	rec.CreatedAt = createdAt
	return rec.ID, nil
}

func (s *PostgresAlertStore) QueryWindow(ctx context.Context, from, to time.Time) ([]*models.AlertRecord, error) {
	if to.Before(from) {
		return []*models.AlertRecord{}, nil
	}

	query := `
		SELECT id, name, location, message, channel, external_id, confirmed_at, created_at
		FROM sos_alerts
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	records := make([]*models.AlertRecord, 0)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return records, nil
}

func (s *PostgresAlertStore) Get(ctx context.Context, id string) (*models.AlertRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}

	query := `
		SELECT id, name, location, message, channel, external_id, confirmed_at, created_at
		FROM sos_alerts
		WHERE id = $1
	`

	rec, err := scanAlert(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.AlertRecord, error) {
	var rec models.AlertRecord
	var channel string
	var externalID sql.NullString
	var confirmedAt sql.NullTime

	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Location,
		&rec.Message,
		&channel,
		&externalID,
		&confirmedAt,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.ChannelKind = models.ChannelKind(channel)
	rec.Receipt.ChannelKind = rec.ChannelKind
	if externalID.Valid {
		v := externalID.String
		rec.Receipt.ExternalID = &v
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		rec.Receipt.ConfirmedAt = &t
	}
	return &rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
