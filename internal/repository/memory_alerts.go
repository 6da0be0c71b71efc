package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"sos-relay/internal/models"
)

// MemoryAlertStore keeps records in process memory when no database is configured.
type MemoryAlertStore struct {
	mu      sync.RWMutex
	records map[string]models.AlertRecord
	now     func() time.Time
}

// NewMemoryAlertStore creates an empty store. now assigns CreatedAt; nil uses time.Now.
func NewMemoryAlertStore(now func() time.Time) *MemoryAlertStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryAlertStore{
		records: map[string]models.AlertRecord{},
		now:     now,
	}
}

func (s *MemoryAlertStore) Append(_ context.Context, rec *models.AlertRecord) (string, error) {
	if err := validateRecord(rec); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
		return rec.ID, nil
	}

	rec.CreatedAt = s.now()
	s.records[rec.ID] = cloneRecord(*rec)
	return rec.ID, nil
}

func (s *MemoryAlertStore) QueryWindow(_ context.Context, from, to time.Time) ([]*models.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AlertRecord, 0)
	for _, rec := range s.records {
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		c := cloneRecord(rec)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryAlertStore) Get(_ context.Context, id string) (*models.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneRecord(rec)
	return &c, nil
}

// Len returns the number of stored records.
func (s *MemoryAlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(rec models.AlertRecord) models.AlertRecord {
	if rec.Receipt.ExternalID != nil {
		v := *rec.Receipt.ExternalID
		rec.Receipt.ExternalID = &v
	}
	if rec.Receipt.ConfirmedAt != nil {
		t := *rec.Receipt.ConfirmedAt
		rec.Receipt.ConfirmedAt = &t
	}
	return rec
}
