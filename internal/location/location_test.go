package location

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sajda/internal/authz"
	"sajda/internal/config"
	"sajda/internal/errors"
	"sajda/internal/models"
	"sajda/internal/zonecache"
)

// ---------- fakes -----------------------------------------------------------

type fakeBridge struct {
	mu     sync.Mutex
	auth   int
	result NativeResult
	delay  time.Duration
	// grantAfter flips auth to 0 this long after RequestAuthorization.
	grantAfter time.Duration
	fixCalls   atomic.Int32
}

func (b *fakeBridge) CheckAuthorization() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.auth
}

func (b *fakeBridge) RequestAuthorization() {
	if b.grantAfter == 0 {
		return
	}
	go func() {
		time.Sleep(b.grantAfter)
		b.mu.Lock()
		b.auth = 0
		b.mu.Unlock()
	}()
}

func (b *fakeBridge) CurrentLocation(ctx context.Context) NativeResult {
	b.fixCalls.Add(1)
	if b.delay > 0 {
		// ignores ctx on purpose, like a stuck OS call
		time.Sleep(b.delay)
	}
	return b.result
}

type fakeIP struct {
	fix   models.LocationFix
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeIP) Locate(context.Context) (models.LocationFix, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return f.fix, f.err
}

type fakeZones struct {
	zone  models.Zone
	err   error
	calls atomic.Int32
}

func (f *fakeZones) LookupZone(context.Context, float64, float64) (models.Zone, error) {
	f.calls.Add(1)
	return f.zone, f.err
}

type nopPersister struct{}

func (nopPersister) LoadZoneCache(context.Context) (models.CachedZone, bool, error) {
	return models.CachedZone{}, false, nil
}
func (nopPersister) SaveZoneCache(context.Context, models.CachedZone) error { return nil }

type harness struct {
	bridge *fakeBridge
	ip     *fakeIP
	zones  *fakeZones
	cache  *zonecache.Cache
	res    *Resolver
}

func newHarness(t *testing.T, bridge *fakeBridge) *harness {
	t.Helper()
	h := &harness{
		bridge: bridge,
		ip:     &fakeIP{err: errors.Network(ipLookupOp, errors.New("offline"))},
		zones:  &fakeZones{zone: models.Zone{Code: "SGR01", DisplayName: "Gombak"}},
		cache:  zonecache.New(nopPersister{}, zerolog.Nop()),
	}

	var provider Provider = unsupportedProvider{}
	if bridge != nil {
		provider = NewBridgeProvider("test", bridge, false, clockwork.NewRealClock())
	}
	machine := authz.New(authz.Options{
		Platform:     provider,
		PollInterval: 5 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	h.res = NewResolver(Options{
		Provider:           provider,
		Authz:              machine,
		IP:                 h.ip,
		Zones:              h.zones,
		Cache:              h.cache,
		NativeTimeout:      500 * time.Millisecond,
		AuthTimeout:        500 * time.Millisecond,
		RelookupDistanceKm: 5,
		DefaultLatitude:    config.DefaultLatitude,
		DefaultLongitude:   config.DefaultLongitude,
		DefaultZone:        models.Zone{Code: config.DefaultZoneCode, DisplayName: config.DefaultZoneName},
		Logger:             zerolog.Nop(),
	})
	return h
}

// ---------- provider --------------------------------------------------------

func TestBridgeProviderMapsErrors(t *testing.T) {
	ctx := context.Background()
	b := &fakeBridge{result: NativeResult{ErrorCode: 1, ErrorMessage: "denied by user"}}
	p := NewBridgeProvider("test", b, false, clockwork.NewRealClock())

	_, err := p.RequestFix(ctx, time.Second)
	assert.True(t, errors.Is(err, errors.ErrLocationDenied))

	b.result = NativeResult{}
	_, err = p.RequestFix(ctx, time.Second)
	assert.True(t, errors.Is(err, errors.ErrLocationUnknown), "null island is a failure")

	b.result = NativeResult{Latitude: 1.5, Longitude: 103.7, Accuracy: 30}
	fix, err := p.RequestFix(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.SourceNative, fix.Source)
	assert.Equal(t, 30.0, fix.AccuracyMeters)
}

func TestBridgeProviderTimeout(t *testing.T) {
	b := &fakeBridge{delay: time.Second, result: NativeResult{Latitude: 1, Longitude: 1}}
	p := NewBridgeProvider("test", b, false, clockwork.NewRealClock())

	start := time.Now()
	_, err := p.RequestFix(context.Background(), 30*time.Millisecond)
	assert.True(t, errors.Is(err, errors.ErrLocationTimeout))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestUnsupportedProvider(t *testing.T) {
	p := unsupportedProvider{}
	assert.False(t, p.Supported())
	assert.Equal(t, models.StatusUnsupported, p.Status())
	_, err := p.RequestFix(context.Background(), time.Second)
	assert.True(t, errors.Is(err, errors.ErrLocationUnsupported))
}

// ---------- ip locator ------------------------------------------------------

func TestIPLocatorRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"latitude": 5.41, "longitude": 100.33, "city": "George Town"}`))
	}))
	defer srv.Close()

	l := &IPLocator{URL: srv.URL, Attempts: 3, AttemptTimeout: time.Second, Backoff: 20 * time.Millisecond, Logger: zerolog.Nop()}

	start := time.Now()
	fix, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, models.SourceIP, fix.Source)
	assert.InDelta(t, 5.41, fix.Latitude, 1e-9)
	// 20ms then 40ms of backoff
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestIPLocatorDefaultBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()

	var mu sync.Mutex
	var calledAt []time.Duration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calledAt = append(calledAt, clock.Since(start))
		n := len(calledAt)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"latitude": 1.49, "longitude": 103.74}`))
	}))
	defer srv.Close()

	cfg := config.Default().Location
	l := &IPLocator{
		URL:            srv.URL,
		Attempts:       cfg.IPAttempts,
		AttemptTimeout: cfg.IPAttemptTimeout,
		Backoff:        cfg.IPBackoff,
		Clock:          clock,
		Logger:         zerolog.Nop(),
	}

	type result struct {
		fix models.LocationFix
		err error
	}
	done := make(chan result, 1)
	go func() {
		fix, err := l.Locate(context.Background())
		done <- result{fix, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		t.Fatal("locate did not return")
	}
	require.NoError(t, res.err)
	assert.Equal(t, models.SourceIP, res.fix.Source)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{0, time.Second, 3 * time.Second}, calledAt)
}

func TestIPLocatorRejectsNullIsland(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"latitude": 0, "longitude": 0}`))
	}))
	defer srv.Close()

	l := &IPLocator{URL: srv.URL, Attempts: 2, AttemptTimeout: time.Second, Backoff: time.Millisecond, Logger: zerolog.Nop()}
	_, err := l.Locate(context.Background())
	assert.True(t, errors.Is(err, errors.ErrNetworkInvalidResponse))
	assert.EqualValues(t, 2, calls.Load())
}

func TestIPLocatorAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	l := &IPLocator{URL: srv.URL, Attempts: 1, AttemptTimeout: 30 * time.Millisecond, Logger: zerolog.Nop()}
	_, err := l.Locate(context.Background())
	assert.True(t, errors.Is(err, errors.ErrNetworkTimeout))
}

// ---------- resolver --------------------------------------------------------

func TestResolveNativeAuthorized(t *testing.T) {
	h := newHarness(t, &fakeBridge{auth: 0, result: NativeResult{Latitude: 3.07, Longitude: 101.52}})

	fix := h.res.Resolve(context.Background())
	assert.Equal(t, models.SourceNative, fix.Source)
	assert.EqualValues(t, 0, h.ip.calls.Load())

	z, ok := h.cache.Current()
	require.True(t, ok)
	assert.Equal(t, "SGR01", z.Code)
}

func TestResolveNotDeterminedThenGranted(t *testing.T) {
	h := newHarness(t, &fakeBridge{
		auth:       2,
		grantAfter: 50 * time.Millisecond,
		result:     NativeResult{Latitude: 3.07, Longitude: 101.52},
	})

	start := time.Now()
	fix := h.res.Resolve(context.Background())
	assert.Equal(t, models.SourceNative, fix.Source)
	// auth wait ends at the grant, well before its 500ms bound
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestResolveAuthAndFixBoundsAreSeparate(t *testing.T) {
	// grant lands late in the 500ms auth bound and the fix takes most of the
	// 500ms native bound: together they exceed either bound alone
	h := newHarness(t, &fakeBridge{
		auth:       2,
		grantAfter: 400 * time.Millisecond,
		delay:      400 * time.Millisecond,
		result:     NativeResult{Latitude: 3.07, Longitude: 101.52},
	})

	start := time.Now()
	fix := h.res.Resolve(context.Background())
	assert.Equal(t, models.SourceNative, fix.Source)
	assert.Greater(t, time.Since(start), h.res.opts.AuthTimeout)
	assert.EqualValues(t, 0, h.ip.calls.Load())
}

func TestResolveDeniedFallsBackToIP(t *testing.T) {
	h := newHarness(t, &fakeBridge{auth: 1})
	h.ip.err = nil
	h.ip.fix = models.LocationFix{Latitude: 5.41, Longitude: 100.33, Source: models.SourceIP}

	fix := h.res.Resolve(context.Background())
	assert.Equal(t, models.SourceIP, fix.Source)
	assert.EqualValues(t, 0, h.bridge.fixCalls.Load())
}

func TestResolveAllFailUsesDefault(t *testing.T) {
	h := newHarness(t, nil)

	fix := h.res.Resolve(context.Background())
	assert.Equal(t, models.SourceDefault, fix.Source)
	assert.Equal(t, config.DefaultLatitude, fix.Latitude)
	assert.Equal(t, config.DefaultLongitude, fix.Longitude)
	assert.EqualValues(t, 0, h.zones.calls.Load())

	z, ok := h.cache.Current()
	require.True(t, ok)
	assert.Equal(t, config.DefaultZoneCode, z.Code)

	last, ok := h.res.LastFix()
	require.True(t, ok)
	assert.Equal(t, fix, last)
}

func TestResolveDefaultKeepsStaleZone(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.cache.Update(context.Background(), models.CachedZone{Zone: models.Zone{Code: "KDH01"}})
	require.NoError(t, err)

	h.res.Resolve(context.Background())
	z, _ := h.cache.Current()
	assert.Equal(t, "KDH01", z.Code)
}

func TestResolveSameZoneDoesNotNotify(t *testing.T) {
	h := newHarness(t, nil)
	h.ip.err = nil
	h.ip.fix = models.LocationFix{Latitude: 3.07, Longitude: 101.52, Source: models.SourceIP}
	h.res.opts.RelookupDistanceKm = 0

	ch, cancel := h.cache.Subscribe()
	defer cancel()

	h.res.Resolve(context.Background())
	<-ch
	h.res.Resolve(context.Background())

	assert.EqualValues(t, 2, h.zones.calls.Load())
	select {
	case <-ch:
		t.Fatal("same zone must not notify")
	default:
	}
}

func TestResolveSkipsLookupNearCachedFix(t *testing.T) {
	h := newHarness(t, nil)
	h.ip.err = nil
	h.ip.fix = models.LocationFix{Latitude: 3.0700, Longitude: 101.5200, Source: models.SourceIP}

	h.res.Resolve(context.Background())
	h.ip.fix = models.LocationFix{Latitude: 3.0750, Longitude: 101.5250, Source: models.SourceIP}
	h.res.Resolve(context.Background())

	assert.EqualValues(t, 1, h.zones.calls.Load())
}

func TestResolveSharesInFlight(t *testing.T) {
	h := newHarness(t, nil)
	h.ip.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.res.Resolve(context.Background())
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, h.ip.calls.Load())
}

func TestDistanceKm(t *testing.T) {
	// Kuala Lumpur to Putrajaya, about 24 km
	d := DistanceKm(3.1390, 101.6869, 2.9264, 101.6964)
	assert.InDelta(t, 23.7, d, 1.5)
	assert.Zero(t, DistanceKm(1, 1, 1, 1))
}
