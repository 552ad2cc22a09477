package location

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"sajda/internal/errors"
	"sajda/internal/models"
)

const ipLookupOp = "ip lookup"

// IPLocator resolves an approximate position from the public IP.
type IPLocator struct {
	URL            string
	Attempts       int
	AttemptTimeout time.Duration
	// Backoff is the wait after the first failure; it doubles each attempt.
	Backoff time.Duration

	Client *http.Client
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

type ipResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Locate makes up to Attempts HTTP calls and returns the first plausible fix.
func (l *IPLocator) Locate(ctx context.Context) (models.LocationFix, error) {
	attempts := max(l.Attempts, 1)
	clock := l.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := l.Backoff << (attempt - 2)
			select {
			case <-clock.After(wait):
			case <-ctx.Done():
				return models.LocationFix{}, errors.Network(ipLookupOp, ctx.Err())
			}
		}

		lat, lng, err := l.once(ctx)
		if err == nil {
			return models.LocationFix{
				Latitude:   lat,
				Longitude:  lng,
				Source:     models.SourceIP,
				ResolvedAt: clock.Now(),
			}, nil
		}
		lastErr = err
		l.Logger.Warn().Err(err).Int("attempt", attempt).Int("of", attempts).Msg("ip geolocation failed")
	}
	return models.LocationFix{}, lastErr
}

func (l *IPLocator) once(ctx context.Context) (float64, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return 0, 0, errors.InvalidResponse(ipLookupOp, err)
	}
	req.Header.Set("Accept", "application/json")

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, errors.Network(ipLookupOp, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, 0, errors.InvalidResponse(ipLookupOp, errors.Errorf("status %d", resp.StatusCode))
	}

	var body ipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, errors.InvalidResponse(ipLookupOp, err)
	}
	if body.Latitude == nil || body.Longitude == nil {
		return 0, 0, errors.InvalidResponse(ipLookupOp, errors.New("missing coordinates"))
	}
	if models.IsNullIsland(*body.Latitude, *body.Longitude) {
		return 0, 0, errors.InvalidResponse(ipLookupOp, errors.New("null island"))
	}
	return *body.Latitude, *body.Longitude, nil
}
