// Package zonecache holds the current prayer zone, persisted across restarts.
package zonecache

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"sajda/internal/errors"
	"sajda/internal/models"
)

type Persister interface {
	LoadZoneCache(ctx context.Context) (models.CachedZone, bool, error)
	SaveZoneCache(ctx context.Context, z models.CachedZone) error
}

// Cache is read by everyone and written only by the location resolver.
type Cache struct {
	store Persister
	log   zerolog.Logger

	mu      sync.RWMutex
	current models.CachedZone
	loaded  bool
	subs    map[int]chan models.Zone
	nextID  int
}

func New(store Persister, logger zerolog.Logger) *Cache {
	return &Cache{
		store: store,
		log:   logger.With().Str("component", "zonecache").Logger(),
		subs:  make(map[int]chan models.Zone),
	}
}

// Load reads the persisted zone. A missing row is not an error.
func (c *Cache) Load(ctx context.Context) error {
	z, ok, err := c.store.LoadZoneCache(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	c.mu.Lock()
	c.current, c.loaded = z, true
	c.mu.Unlock()
	c.log.Info().Str("zone", z.Code).Time("updated_at", z.UpdatedAt).Msg("zone loaded from cache")
	return nil
}

func (c *Cache) Current() (models.CachedZone, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.loaded
}

// Update stores z and reports whether the zone code changed. Subscribers
// hear about code changes only; a new fix inside the same zone just moves
// the persisted anchor coordinates.
func (c *Cache) Update(ctx context.Context, z models.CachedZone) (bool, error) {
	if z.Code == "" {
		return false, errors.New("zone cache: empty zone code")
	}

	c.mu.Lock()
	if c.loaded && c.current.Code == z.Code {
		if c.current.Latitude == z.Latitude && c.current.Longitude == z.Longitude {
			c.mu.Unlock()
			return false, nil
		}
		c.current.Latitude, c.current.Longitude = z.Latitude, z.Longitude
		c.current.UpdatedAt = z.UpdatedAt
		if z.DisplayName != "" {
			c.current.DisplayName = z.DisplayName
		}
		anchored := c.current
		c.mu.Unlock()

		c.log.Debug().Str("zone", z.Code).Float64("lat", z.Latitude).Float64("lng", z.Longitude).Msg("zone anchor moved")
		return false, errors.Wrap(c.store.SaveZoneCache(ctx, anchored), "persist zone anchor")
	}
	prev := c.current.Code
	c.current, c.loaded = z, true
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- z.Zone
	}
	c.mu.Unlock()

	c.log.Info().Str("from", prev).Str("to", z.Code).Msg("zone changed")
	if err := c.store.SaveZoneCache(ctx, z); err != nil {
		return true, errors.Wrap(err, "persist zone")
	}
	return true, nil
}

// Subscribe returns a channel that always holds the latest changed zone.
func (c *Cache) Subscribe() (<-chan models.Zone, func()) {
	ch := make(chan models.Zone, 1)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}
