package location

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"sajda/internal/authz"
	"sajda/internal/errors"
	"sajda/internal/models"
)

// Provider is the native location capability for one platform.
type Provider interface {
	authz.Platform
	Name() string
	// RequestFix returns a native fix or a *errors.LocationError, bounded by timeout.
	RequestFix(ctx context.Context, timeout time.Duration) (models.LocationFix, error)
}

// NativeResult is what the host bridge reports for a position request.
// ErrorCode 0 is success; 1 denied, 2 timeout, 3 failed, 4 unavailable.
type NativeResult struct {
	Latitude     float64
	Longitude    float64
	Accuracy     float64
	ErrorCode    int
	ErrorMessage string
}

// NativeBridge is implemented by the host application around the OS APIs.
type NativeBridge interface {
	// CheckAuthorization returns 0 authorized, 1 denied, 2 not determined,
	// 3 restricted, 4 disabled.
	CheckAuthorization() int
	RequestAuthorization()
	// CurrentLocation blocks until the OS answers or ctx ends.
	CurrentLocation(ctx context.Context) NativeResult
}

// Unsupported is the provider for builds with no native host.
func Unsupported() Provider { return unsupportedProvider{} }

// NewBridgeProvider wraps an explicit bridge regardless of OS.
func NewBridgeProvider(name string, b NativeBridge, uiThread bool, clock clockwork.Clock) Provider {
	return &bridgeProvider{name: name, bridge: b, uiThread: uiThread, clock: clock}
}

type bridgeProvider struct {
	name     string
	bridge   NativeBridge
	uiThread bool
	clock    clockwork.Clock
}

func (p *bridgeProvider) Name() string           { return p.name }
func (p *bridgeProvider) Supported() bool        { return true }
func (p *bridgeProvider) RequiresUIThread() bool { return p.uiThread }

func (p *bridgeProvider) Status() models.AuthorizationStatus {
	return models.StatusFromCode(p.bridge.CheckAuthorization())
}

func (p *bridgeProvider) Request() error {
	p.bridge.RequestAuthorization()
	return nil
}

func (p *bridgeProvider) RequestFix(ctx context.Context, timeout time.Duration) (models.LocationFix, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// the bridge may ignore ctx, so the wait is bounded here as well
	done := make(chan NativeResult, 1)
	go func() { done <- p.bridge.CurrentLocation(ctx) }()

	var res NativeResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return models.LocationFix{}, errors.NewLocationError(errors.LocationTimeout, ctx.Err())
	}

	if res.ErrorCode != 0 {
		return models.LocationFix{}, errors.NewLocationError(nativeErrorKind(res.ErrorCode), errors.New(res.ErrorMessage))
	}
	if models.IsNullIsland(res.Latitude, res.Longitude) {
		return models.LocationFix{}, errors.NewLocationError(errors.LocationUnknown, errors.New("null island fix"))
	}
	return models.LocationFix{
		Latitude:       res.Latitude,
		Longitude:      res.Longitude,
		AccuracyMeters: res.Accuracy,
		Source:         models.SourceNative,
		ResolvedAt:     p.clock.Now(),
	}, nil
}

func nativeErrorKind(code int) errors.LocationKind {
	switch code {
	case 1:
		return errors.LocationDenied
	case 2:
		return errors.LocationTimeout
	case 4:
		return errors.LocationUnsupported
	default:
		return errors.LocationUnknown
	}
}

type unsupportedProvider struct{}

func (unsupportedProvider) Name() string           { return "unsupported" }
func (unsupportedProvider) Supported() bool        { return false }
func (unsupportedProvider) RequiresUIThread() bool { return false }
func (unsupportedProvider) Request() error         { return errors.ErrLocationUnsupported }

func (unsupportedProvider) Status() models.AuthorizationStatus {
	return models.StatusUnsupported
}

func (unsupportedProvider) RequestFix(context.Context, time.Duration) (models.LocationFix, error) {
	return models.LocationFix{}, errors.ErrLocationUnsupported
}
