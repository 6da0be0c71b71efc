package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sos-relay/internal/crypto"
	"sos-relay/internal/geo"
	"sos-relay/internal/models"
	"sos-relay/internal/repository"
	"sos-relay/internal/store"

	"go.uber.org/zap"
)

const todayCacheKeyPrefix = "sos:today:"

// QueryService answers responder queries over stored alerts.
type QueryService struct {
	store     repository.AlertStore
	encrypter crypto.Encrypter
	cache     store.KV
	cacheTTL  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// QueryOption configures a QueryService.
type QueryOption func(*QueryService)

// WithCache caches listings in kv for ttl. ttl <= 0 disables caching.
func WithCache(kv store.KV, ttl time.Duration) QueryOption {
	return func(q *QueryService) {
		q.cache = kv
		q.cacheTTL = ttl
	}
}

// WithClock overrides the clock that defines "today".
func WithClock(now func() time.Time) QueryOption {
	return func(q *QueryService) { q.now = now }
}

// NewQueryService creates the service. A nil encrypter means identity.
func NewQueryService(alerts repository.AlertStore, encrypter crypto.Encrypter, logger *zap.Logger, opts ...QueryOption) *QueryService {
	if encrypter == nil {
		encrypter = crypto.Noop{}
	}
	q := &QueryService{
		store:     alerts,
		encrypter: encrypter,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Today returns alerts created between local midnight and now, newest first.
// The cache holds records as stored, so sealed messages stay sealed in Redis.
func (q *QueryService) Today(ctx context.Context) ([]models.EnrichedAlert, error) {
	now := q.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if !q.cachingEnabled() {
		return q.Window(ctx, midnight, now)
	}

	key := todayCacheKeyPrefix + midnight.Format("2006-01-02")
	var records []*models.AlertRecord
	err := store.GetJSON(ctx, q.cache, key, &records)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			q.logger.Warn("Alert cache read failed, querying store", zap.Error(err))
		}
		records, err = q.query(ctx, midnight, now)
		if err != nil {
			return nil, err
		}
		if err := store.SetJSON(ctx, q.cache, key, records, q.cacheTTL); err != nil {
			q.logger.Warn("Alert cache write failed", zap.Error(err))
		}
	}
	return q.enrichAll(records), nil
}

// Window returns enriched alerts with from <= CreatedAt <= to, newest first.
func (q *QueryService) Window(ctx context.Context, from, to time.Time) ([]models.EnrichedAlert, error) {
	records, err := q.query(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return q.enrichAll(records), nil
}

func (q *QueryService) query(ctx context.Context, from, to time.Time) ([]*models.AlertRecord, error) {
	records, err := q.store.QueryWindow(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	return records, nil
}

func (q *QueryService) enrichAll(records []*models.AlertRecord) []models.EnrichedAlert {
	out := make([]models.EnrichedAlert, 0, len(records))
	for _, rec := range records {
		out = append(out, q.enrich(rec))
	}
	return out
}

// Get returns one enriched alert.
func (q *QueryService) Get(ctx context.Context, id string) (models.EnrichedAlert, error) {
	rec, err := q.store.Get(ctx, id)
	if err != nil {
		return models.EnrichedAlert{}, err
	}
	return q.enrich(rec), nil
}

// enrich never fails: a message that does not decrypt is shown as stored, and a
// location that does not parse gets no coordinate or map link.
func (q *QueryService) enrich(rec *models.AlertRecord) models.EnrichedAlert {
	alert := models.EnrichedAlert{AlertRecord: *rec}

	if plain, err := q.encrypter.Decrypt(rec.Message); err == nil {
		alert.Message = plain
	} else {
		q.logger.Debug("Message did not decrypt, returning stored text",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}

	coord, err := geo.Parse(rec.Location)
	if err != nil {
		q.logger.Debug("Stored location does not parse",
			zap.String("record_id", rec.ID),
			zap.String("location", rec.Location),
		)
		return alert
	}
	link := geo.MapLink(coord)
	alert.Coordinate = &coord
	alert.MapLink = &link
	return alert
}

func (q *QueryService) cachingEnabled() bool {
	return q.cache != nil && q.cacheTTL > 0
}
