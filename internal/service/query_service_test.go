package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sos-relay/internal/crypto"
	"sos-relay/internal/models"
	"sos-relay/internal/repository"
	"sos-relay/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time { return c.t }

func seed(t *testing.T, s *repository.MemoryAlertStore, clock *manualClock, at time.Time, rec models.AlertRecord) {
	t.Helper()
	clock.t = at
	if rec.ChannelKind == "" {
		rec.ChannelKind = models.ChannelOffline
	}
	_, err := s.Append(context.Background(), &rec)
	require.NoError(t, err)
}

func TestQueryService_TodayNewestFirst(t *testing.T) {
	clock := &manualClock{}
	alerts := repository.NewMemoryAlertStore(clock.Now)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)

	seed(t, alerts, clock, day.Add(-time.Hour), models.AlertRecord{ID: "yesterday", Location: "1,1", Message: "m"})
	seed(t, alerts, clock, day.Add(1*time.Hour), models.AlertRecord{ID: "one", Location: "12.97,77.59", Message: "m1"})
	seed(t, alerts, clock, day.Add(2*time.Hour), models.AlertRecord{ID: "two", Location: "12.97,77.59", Message: "m2"})
	seed(t, alerts, clock, day.Add(3*time.Hour), models.AlertRecord{ID: "three", Location: "12.97,77.59", Message: "m3"})

	clock.t = day.Add(4 * time.Hour)
	q := NewQueryService(alerts, nil, zap.NewNop(), WithClock(clock.Now))

	got, err := q.Today(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "three", got[0].ID)
	assert.Equal(t, "two", got[1].ID)
	assert.Equal(t, "one", got[2].ID)

	require.NotNil(t, got[0].MapLink)
	assert.Equal(t, "https://www.openstreetmap.org/?mlat=12.97&mlon=77.59#map=15/12.97/77.59", *got[0].MapLink)
	require.NotNil(t, got[0].Coordinate)
	assert.Equal(t, 77.59, got[0].Coordinate.Longitude)
}

func TestQueryService_UnparsableLocationKeepsListing(t *testing.T) {
	clock := &manualClock{}
	alerts := repository.NewMemoryAlertStore(clock.Now)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)

	seed(t, alerts, clock, day.Add(time.Hour), models.AlertRecord{ID: "bad", Location: "somewhere", Message: "m"})
	seed(t, alerts, clock, day.Add(2*time.Hour), models.AlertRecord{ID: "good", Location: "1.5,2.5", Message: "m"})

	clock.t = day.Add(3 * time.Hour)
	q := NewQueryService(alerts, nil, zap.NewNop(), WithClock(clock.Now))

	got, err := q.Today(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotNil(t, got[0].MapLink)
	assert.Equal(t, "bad", got[1].ID)
	assert.Nil(t, got[1].MapLink)
	assert.Nil(t, got[1].Coordinate)
}

func TestQueryService_DecryptsWithFallback(t *testing.T) {
	enc, err := crypto.NewAESGCM([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	sealed, err := enc.Encrypt("secret help")
	require.NoError(t, err)

	clock := &manualClock{}
	alerts := repository.NewMemoryAlertStore(clock.Now)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)
	seed(t, alerts, clock, day.Add(time.Hour), models.AlertRecord{ID: "legacy", Location: "1,2", Message: "plain text"})
	seed(t, alerts, clock, day.Add(2*time.Hour), models.AlertRecord{ID: "sealed", Location: "1,2", Message: sealed})

	clock.t = day.Add(3 * time.Hour)
	q := NewQueryService(alerts, enc, zap.NewNop(), WithClock(clock.Now))

	got, err := q.Today(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "secret help", got[0].Message)
	assert.Equal(t, "plain text", got[1].Message)
}

func TestQueryService_CachesListing(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := store.NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	clock := &manualClock{}
	alerts := repository.NewMemoryAlertStore(clock.Now)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)
	seed(t, alerts, clock, day.Add(time.Hour), models.AlertRecord{ID: "one", Location: "1,2", Message: "m"})

	clock.t = day.Add(2 * time.Hour)
	q := NewQueryService(alerts, nil, zap.NewNop(), WithClock(clock.Now), WithCache(kv, time.Second))

	first, err := q.Today(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	seed(t, alerts, clock, day.Add(2*time.Hour), models.AlertRecord{ID: "two", Location: "1,2", Message: "m"})

	cached, err := q.Today(context.Background())
	require.NoError(t, err)
	assert.Len(t, cached, 1)
	assert.Equal(t, "one", cached[0].ID)
	require.NotNil(t, cached[0].MapLink)

	mr.FastForward(2 * time.Second)
	fresh, err := q.Today(context.Background())
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestQueryService_CacheHoldsSealedMessages(t *testing.T) {
	enc, err := crypto.NewAESGCM([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	sealed, err := enc.Encrypt("secret help")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	kv := store.NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	clock := &manualClock{}
	alerts := repository.NewMemoryAlertStore(clock.Now)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)
	seed(t, alerts, clock, day.Add(time.Hour), models.AlertRecord{ID: "sealed", Location: "1,2", Message: sealed})

	clock.t = day.Add(2 * time.Hour)
	q := NewQueryService(alerts, enc, zap.NewNop(), WithClock(clock.Now), WithCache(kv, time.Minute))

	first, err := q.Today(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "secret help", first[0].Message)

	raw, err := mr.Get(todayCacheKeyPrefix + "2024-05-01")
	require.NoError(t, err)
	assert.NotContains(t, raw, "secret help")
	assert.Contains(t, raw, sealed)

	cached, err := q.Today(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "secret help", cached[0].Message)
	require.NotNil(t, cached[0].MapLink)
}

func TestQueryService_CacheFailureFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := store.NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	mr.Close()

	clock := &manualClock{}
	alerts := repository.NewMemoryAlertStore(clock.Now)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)
	seed(t, alerts, clock, day.Add(time.Hour), models.AlertRecord{ID: "one", Location: "1,2", Message: "m"})

	clock.t = day.Add(2 * time.Hour)
	q := NewQueryService(alerts, nil, zap.NewNop(), WithClock(clock.Now), WithCache(kv, time.Second))

	got, err := q.Today(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

type erroringStore struct {
	repository.AlertStore
}

func (erroringStore) QueryWindow(context.Context, time.Time, time.Time) ([]*models.AlertRecord, error) {
	return nil, errors.New("db down")
}

func TestQueryService_StoreError(t *testing.T) {
	q := NewQueryService(erroringStore{}, nil, zap.NewNop())
	_, err := q.Today(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
