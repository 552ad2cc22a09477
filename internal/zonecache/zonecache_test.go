package zonecache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sajda/internal/errors"
	"sajda/internal/models"
)

type memStore struct {
	mu    sync.Mutex
	z     models.CachedZone
	ok    bool
	saves int
	err   error
}

func (m *memStore) LoadZoneCache(context.Context) (models.CachedZone, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.z, m.ok, nil
}

func (m *memStore) SaveZoneCache(_ context.Context, z models.CachedZone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.z, m.ok = z, true
	return nil
}

func zone(code string) models.CachedZone {
	return models.CachedZone{Zone: models.Zone{Code: code}}
}

func TestLoadIsInstant(t *testing.T) {
	store := &memStore{z: zone("JHR02"), ok: true}
	c := New(store, zerolog.Nop())

	_, ok := c.Current()
	assert.False(t, ok)

	require.NoError(t, c.Load(context.Background()))
	got, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "JHR02", got.Code)
}

func TestUpdateOnlyWhenDifferent(t *testing.T) {
	store := &memStore{}
	c := New(store, zerolog.Nop())
	ch, cancel := c.Subscribe()
	defer cancel()
	ctx := context.Background()

	changed, err := c.Update(ctx, zone("WLY01"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "WLY01", (<-ch).Code)

	changed, err = c.Update(ctx, zone("WLY01"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, store.saves)
	select {
	case z := <-ch:
		t.Fatalf("unexpected notification for %s", z.Code)
	default:
	}

	changed, err = c.Update(ctx, zone("SGR01"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "SGR01", (<-ch).Code)
}

func TestUpdateSameZoneMovesAnchor(t *testing.T) {
	store := &memStore{}
	c := New(store, zerolog.Nop())
	ctx := context.Background()
	first := time.Date(2024, 6, 14, 9, 0, 0, 0, time.UTC)

	_, err := c.Update(ctx, models.CachedZone{Zone: models.Zone{Code: "SGR01"}, Latitude: 3.07, Longitude: 101.52, UpdatedAt: first})
	require.NoError(t, err)

	ch, cancel := c.Subscribe()
	defer cancel()

	moved := models.CachedZone{Zone: models.Zone{Code: "SGR01"}, Latitude: 3.15, Longitude: 101.60, UpdatedAt: first.Add(time.Hour)}
	changed, err := c.Update(ctx, moved)
	require.NoError(t, err)
	assert.False(t, changed)

	got, _ := c.Current()
	assert.Equal(t, 3.15, got.Latitude)
	assert.Equal(t, 101.60, got.Longitude)
	assert.Equal(t, first.Add(time.Hour), got.UpdatedAt)

	assert.Equal(t, 2, store.saves)
	assert.Equal(t, 3.15, store.z.Latitude)
	select {
	case z := <-ch:
		t.Fatalf("anchor move must not notify, got %s", z.Code)
	default:
	}
}

func TestSubscriberKeepsLatest(t *testing.T) {
	c := New(&memStore{}, zerolog.Nop())
	ch, cancel := c.Subscribe()
	defer cancel()

	for _, code := range []string{"A", "B", "C"} {
		_, err := c.Update(context.Background(), zone(code))
		require.NoError(t, err)
	}
	assert.Equal(t, "C", (<-ch).Code)
}

func TestUpdatePersistFailureKeepsMemory(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	c := New(store, zerolog.Nop())

	changed, err := c.Update(context.Background(), zone("PRK01"))
	assert.True(t, changed)
	assert.Error(t, err)

	got, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "PRK01", got.Code)
}

func TestUpdateRejectsEmpty(t *testing.T) {
	c := New(&memStore{}, zerolog.Nop())
	_, err := c.Update(context.Background(), zone(""))
	assert.Error(t, err)
}
