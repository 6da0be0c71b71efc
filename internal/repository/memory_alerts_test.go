package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"sos-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func TestMemoryAlertStore_WindowNewestFirst(t *testing.T) {
	clock := &stepClock{}
	store := NewMemoryAlertStore(clock.Now)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)

	for _, h := range []int{1, 2, 3} {
		clock.Set(day.Add(time.Duration(h) * time.Hour))
		_, err := store.Append(ctx, &models.AlertRecord{
			ID:          fmt.Sprintf("rec-%02d", h),
			ChannelKind: models.ChannelOffline,
		})
		require.NoError(t, err)
	}
	// yesterday, outside the window
	clock.Set(day.Add(-time.Minute))
	_, err := store.Append(ctx, &models.AlertRecord{ID: "old", ChannelKind: models.ChannelOffline})
	require.NoError(t, err)

	records, err := store.QueryWindow(ctx, day, day.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "rec-03", records[0].ID)
	assert.Equal(t, "rec-02", records[1].ID)
	assert.Equal(t, "rec-01", records[2].ID)
	for _, r := range records {
		assert.False(t, r.CreatedAt.Before(day))
	}
}

func TestMemoryAlertStore_WindowBoundsInclusive(t *testing.T) {
	clock := &stepClock{}
	store := NewMemoryAlertStore(clock.Now)
	ctx := context.Background()
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	clock.Set(from)
	_, _ = store.Append(ctx, &models.AlertRecord{ID: "from", ChannelKind: models.ChannelSMS})
	clock.Set(to)
	_, _ = store.Append(ctx, &models.AlertRecord{ID: "to", ChannelKind: models.ChannelSMS})
	clock.Set(to.Add(time.Nanosecond))
	_, _ = store.Append(ctx, &models.AlertRecord{ID: "after", ChannelKind: models.ChannelSMS})

	records, err := store.QueryWindow(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "to", records[0].ID)
	assert.Equal(t, "from", records[1].ID)
}

func TestMemoryAlertStore_TieBreakByID(t *testing.T) {
	at := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	store := NewMemoryAlertStore(func() time.Time { return at })
	ctx := context.Background()

	for _, id := range []string{"b", "c", "a"} {
		_, err := store.Append(ctx, &models.AlertRecord{ID: id, ChannelKind: models.ChannelSMS})
		require.NoError(t, err)
	}

	records, err := store.QueryWindow(ctx, at, at)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{records[0].ID, records[1].ID, records[2].ID})
}

func TestMemoryAlertStore_AppendIdempotent(t *testing.T) {
	clock := &stepClock{t: time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)}
	store := NewMemoryAlertStore(clock.Now)
	ctx := context.Background()

	first := &models.AlertRecord{ID: "x", Name: "first", ChannelKind: models.ChannelSMS}
	_, err := store.Append(ctx, first)
	require.NoError(t, err)

	clock.Set(clock.Now().Add(time.Hour))
	second := &models.AlertRecord{ID: "x", Name: "second", ChannelKind: models.ChannelSMS}
	_, err = store.Append(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryAlertStore_ConcurrentAppends(t *testing.T) {
	store := NewMemoryAlertStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append(ctx, &models.AlertRecord{ID: fmt.Sprintf("r%d", i%25), ChannelKind: models.ChannelSMS})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, store.Len())
}
