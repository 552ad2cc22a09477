// Package location produces the best available position: native, then IP,
// then a fixed default. Resolution never fails.
package location

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"sajda/internal/authz"
	"sajda/internal/models"
)

type IPSource interface {
	Locate(ctx context.Context) (models.LocationFix, error)
}

type ZoneLookup interface {
	LookupZone(ctx context.Context, lat, lng float64) (models.Zone, error)
}

type ZoneStore interface {
	Current() (models.CachedZone, bool)
	Update(ctx context.Context, z models.CachedZone) (bool, error)
}

type Options struct {
	Provider Provider
	Authz    *authz.Machine
	IP       IPSource
	Zones    ZoneLookup
	Cache    ZoneStore

	NativeTimeout time.Duration
	AuthTimeout   time.Duration
	// RelookupDistanceKm skips the zone lookup for fixes this close to the
	// position the cached zone came from.
	RelookupDistanceKm float64

	DefaultLatitude  float64
	DefaultLongitude float64
	DefaultZone      models.Zone

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

type Resolver struct {
	opts  Options
	clock clockwork.Clock
	log   zerolog.Logger
	group singleflight.Group

	mu   sync.RWMutex
	last models.LocationFix
	has  bool
}

func NewResolver(opts Options) *Resolver {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Provider == nil {
		opts.Provider = unsupportedProvider{}
	}
	return &Resolver{
		opts:  opts,
		clock: opts.Clock,
		log:   opts.Logger.With().Str("component", "location").Logger(),
	}
}

// Resolve returns a fix from the first tier that succeeds. Concurrent callers
// share one resolution, which always runs to its own bounded end even if the
// caller's context is cancelled.
func (r *Resolver) Resolve(ctx context.Context) models.LocationFix {
	v, _, _ := r.group.Do("resolve", func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx)), nil
	})
	return v.(models.LocationFix)
}

// LastFix is the most recent resolution result.
func (r *Resolver) LastFix() (models.LocationFix, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.has
}

func (r *Resolver) resolve(ctx context.Context) models.LocationFix {
	start := r.clock.Now()

	fix, ok := r.native(ctx)
	if !ok {
		fix, ok = r.ip(ctx)
	}
	if ok {
		r.refreshZone(ctx, fix)
	} else {
		fix = r.defaultFix()
		r.seedDefaultZone(ctx)
	}

	r.mu.Lock()
	r.last, r.has = fix, true
	r.mu.Unlock()

	r.log.Info().
		Str("source", string(fix.Source)).
		Float64("lat", fix.Latitude).
		Float64("lng", fix.Longitude).
		Dur("took", r.clock.Since(start)).
		Msg("location resolved")
	return fix
}

func (r *Resolver) native(ctx context.Context) (models.LocationFix, bool) {
	p := r.opts.Provider
	if !p.Supported() || r.opts.Authz == nil {
		return models.LocationFix{}, false
	}

	switch status := r.opts.Authz.Check(); status {
	case models.StatusAuthorized:
	case models.StatusNotDetermined:
		status, err := r.opts.Authz.RequestAndAwait(ctx, r.opts.AuthTimeout)
		if status != models.StatusAuthorized {
			r.log.Info().Err(err).Stringer("status", status).Msg("native location not authorized")
			return models.LocationFix{}, false
		}
	default:
		r.log.Debug().Stringer("status", status).Msg("skipping native location")
		return models.LocationFix{}, false
	}

	fix, err := p.RequestFix(ctx, r.opts.NativeTimeout)
	if err != nil {
		r.log.Warn().Err(err).Str("provider", p.Name()).Msg("native fix failed")
		return models.LocationFix{}, false
	}
	if !fix.Valid() {
		return models.LocationFix{}, false
	}
	return fix, true
}

func (r *Resolver) ip(ctx context.Context) (models.LocationFix, bool) {
	if r.opts.IP == nil {
		return models.LocationFix{}, false
	}
	fix, err := r.opts.IP.Locate(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("ip fallback exhausted")
		return models.LocationFix{}, false
	}
	return fix, fix.Valid()
}

func (r *Resolver) defaultFix() models.LocationFix {
	return models.LocationFix{
		Latitude:   r.opts.DefaultLatitude,
		Longitude:  r.opts.DefaultLongitude,
		Source:     models.SourceDefault,
		ResolvedAt: r.clock.Now(),
	}
}

func (r *Resolver) refreshZone(ctx context.Context, fix models.LocationFix) {
	if r.opts.Zones == nil || r.opts.Cache == nil {
		return
	}
	if cached, ok := r.opts.Cache.Current(); ok && r.opts.RelookupDistanceKm > 0 {
		d := DistanceKm(cached.Latitude, cached.Longitude, fix.Latitude, fix.Longitude)
		if d < r.opts.RelookupDistanceKm {
			r.log.Debug().Float64("km", d).Str("zone", cached.Code).Msg("fix near cached zone, skipping lookup")
			return
		}
	}

	zone, err := r.opts.Zones.LookupZone(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		r.log.Warn().Err(err).Msg("zone lookup failed, keeping cached zone")
		return
	}
	r.store(ctx, models.CachedZone{
		Zone:      zone,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		UpdatedAt: r.clock.Now(),
	})
}

// seedDefaultZone only fills an empty cache; a stale real zone beats the default.
func (r *Resolver) seedDefaultZone(ctx context.Context) {
	if r.opts.Cache == nil {
		return
	}
	if _, ok := r.opts.Cache.Current(); ok {
		return
	}
	r.store(ctx, models.CachedZone{
		Zone:      r.opts.DefaultZone,
		Latitude:  r.opts.DefaultLatitude,
		Longitude: r.opts.DefaultLongitude,
		UpdatedAt: r.clock.Now(),
	})
}

func (r *Resolver) store(ctx context.Context, z models.CachedZone) {
	changed, err := r.opts.Cache.Update(ctx, z)
	if err != nil {
		r.log.Error().Err(err).Str("zone", z.Code).Msg("zone cache update failed")
	}
	if changed {
		r.log.Info().Str("zone", z.Code).Str("name", z.DisplayName).Msg("zone updated")
	}
}
