package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sos-relay/internal/models"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const offlineQueueSchema = `
CREATE TABLE IF NOT EXISTS offline_queue (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id      TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL,
	location       TEXT NOT NULL,
	message        TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	external_id    TEXT,
	failure_reason TEXT,
	enqueued_at    INTEGER NOT NULL,
	drained_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_offline_queue_status ON offline_queue (status, seq);
`

// SQLiteOfflineQueue is a durable append-only queue in a local SQLite file. Entries
// are never overwritten; draining only moves an entry's status forward.
type SQLiteOfflineQueue struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLiteOfflineQueue opens (or creates) the queue at path and applies the schema.
func OpenSQLiteOfflineQueue(ctx context.Context, path string, logger *zap.Logger) (*SQLiteOfflineQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline queue %s: %w", path, err)
	}
	// single writer; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warn("Could not enable WAL mode for offline queue", zap.Error(err))
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		logger.Warn("Could not set busy timeout for offline queue", zap.Error(err))
	}
	if _, err := db.ExecContext(ctx, offlineQueueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create offline queue schema: %w", err)
	}

	return &SQLiteOfflineQueue{db: db, logger: logger}, nil
}

// Enqueue appends alert and returns its sequence number. Enqueueing a record id
// that is already present returns the existing sequence number.
func (q *SQLiteOfflineQueue) Enqueue(ctx context.Context, alert models.OutboundAlert) (int64, error) {
	if alert.RecordID == "" {
		return 0, errors.New("record id is required")
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO offline_queue (record_id, name, location, message, status, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		alert.RecordID,
		alert.Name,
		alert.Location,
		alert.Message,
		string(models.QueuePending),
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue alert %s: %w", alert.RecordID, err)
	}

	var seq int64
	if err := q.db.QueryRowContext(ctx, `SELECT seq FROM offline_queue WHERE record_id = ?`, alert.RecordID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read sequence for alert %s: %w", alert.RecordID, err)
	}
	return seq, nil
}

// Pending returns up to limit pending entries, oldest first.
func (q *SQLiteOfflineQueue) Pending(ctx context.Context, limit int) ([]models.QueuedAlert, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT seq, record_id, name, location, message, status, external_id, failure_reason, enqueued_at, drained_at
		FROM offline_queue
		WHERE status = ?
		ORDER BY seq ASC
		LIMIT ?`, string(models.QueuePending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending alerts: %w", err)
	}
	defer rows.Close()

	out := make([]models.QueuedAlert, 0)
	for rows.Next() {
		entry, err := scanQueued(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queued alert: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Get returns the entry with seq.
func (q *SQLiteOfflineQueue) Get(ctx context.Context, seq int64) (models.QueuedAlert, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT seq, record_id, name, location, message, status, external_id, failure_reason, enqueued_at, drained_at
		FROM offline_queue
		WHERE seq = ?`, seq)
	entry, err := scanQueued(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueuedAlert{}, ErrNotFound
	}
	return entry, err
}

// MarkDrained records that seq was relayed, with the relay's external id.
func (q *SQLiteOfflineQueue) MarkDrained(ctx context.Context, seq int64, externalID string) error {
	return q.transition(ctx, seq, models.QueueDrained, `external_id = ?, drained_at = ?`, externalID, time.Now().UTC().UnixNano())
}

// MarkFailed parks seq so it is not retried.
func (q *SQLiteOfflineQueue) MarkFailed(ctx context.Context, seq int64, reason string) error {
	return q.transition(ctx, seq, models.QueueFailed, `failure_reason = ?`, reason)
}

func (q *SQLiteOfflineQueue) transition(ctx context.Context, seq int64, to models.QueueStatus, set string, args ...interface{}) error {
	query := `UPDATE offline_queue SET status = ?, ` + set + ` WHERE seq = ? AND status = ?`
	params := append([]interface{}{string(to)}, args...)
	params = append(params, seq, string(models.QueuePending))

	res, err := q.db.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("failed to mark offline alert %d %s: %w", seq, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark offline alert %d %s: %w", seq, to, err)
	}
	if n == 0 {
		return fmt.Errorf("offline alert %d is not pending: %w", seq, ErrNotFound)
	}
	return nil
}

// CountByStatus returns the number of entries in status.
func (q *SQLiteOfflineQueue) CountByStatus(ctx context.Context, status models.QueueStatus) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count offline alerts: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (q *SQLiteOfflineQueue) Close() error {
	return q.db.Close()
}

func scanQueued(row rowScanner) (models.QueuedAlert, error) {
	var entry models.QueuedAlert
	var status string
	var externalID, failureReason sql.NullString
	var enqueuedAt int64
	var drainedAt sql.NullInt64

	if err := row.Scan(
		&entry.Seq,
		&entry.RecordID,
		&entry.Name,
		&entry.Location,
		&entry.Message,
		&status,
		&externalID,
		&failureReason,
		&enqueuedAt,
		&drainedAt,
	); err != nil {
		return models.QueuedAlert{}, err
	}

	entry.Status = models.QueueStatus(status)
	entry.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	if externalID.Valid && externalID.String != "" {
		v := externalID.String
		entry.ExternalID = &v
	}
	if failureReason.Valid {
		entry.FailureReason = failureReason.String
	}
	if drainedAt.Valid {
		t := time.Unix(0, drainedAt.Int64).UTC()
		entry.DrainedAt = &t
	}
	return entry, nil
}
