// Package timetable fetches monthly prayer times for a zone and keeps the
// scheduler supplied with today's and tomorrow's.
package timetable

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sajda/internal/errors"
	"sajda/internal/models"
)

// Client talks to the waktusolat API.
type Client struct {
	baseURL string
	http    *http.Client
	loc     *time.Location
	log     zerolog.Logger

	zonesMu sync.Mutex
	zones   map[string]zoneInfo
}

type zoneInfo struct {
	Code     string `json:"jakimCode"`
	State    string `json:"negeri"`
	District string `json:"daerah"`
}

type solatResponse struct {
	Zone    string      `json:"zone"`
	Year    int         `json:"year"`
	Month   string      `json:"month"` // "JAN"
	Prayers []datapoint `json:"prayers"`
}

type datapoint struct {
	Day     int    `json:"day"`
	Hijri   string `json:"hijri"`
	Fajr    int64  `json:"fajr"`
	Syuruk  int64  `json:"syuruk"`
	Dhuhr   int64  `json:"dhuhr"`
	Asr     int64  `json:"asr"`
	Maghrib int64  `json:"maghrib"`
	Isha    int64  `json:"isha"`
}

func NewClient(baseURL string, timeout time.Duration, loc *time.Location, logger zerolog.Logger) *Client {
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		loc:     loc,
		log:     logger.With().Str("component", "waktusolat").Logger(),
	}
}

// LookupZone maps a coordinate to its zone.
func (c *Client) LookupZone(ctx context.Context, lat, lng float64) (models.Zone, error) {
	var res solatResponse
	path := fmt.Sprintf("/v2/solat/gps/%s/%s",
		strconv.FormatFloat(lat, 'f', 6, 64), strconv.FormatFloat(lng, 'f', 6, 64))
	if err := c.get(ctx, "zone lookup", path, nil, &res); err != nil {
		return models.Zone{}, err
	}
	if res.Zone == "" {
		return models.Zone{}, errors.InvalidResponse("zone lookup", errors.New("empty zone"))
	}
	return models.Zone{Code: res.Zone, DisplayName: c.displayName(ctx, res.Zone)}, nil
}

// FetchMonth returns every day of the given month for a zone.
func (c *Client) FetchMonth(ctx context.Context, zone string, year int, month time.Month) ([]models.PrayerDay, error) {
	const op = "prayer times"
	q := url.Values{}
	q.Set("year", strconv.Itoa(year))
	q.Set("month", strconv.Itoa(int(month)))

	var res solatResponse
	if err := c.get(ctx, op, "/v2/solat/"+url.PathEscape(zone), q, &res); err != nil {
		return nil, err
	}
	if len(res.Prayers) == 0 {
		return nil, errors.InvalidResponse(op, errors.New("no prayers"))
	}

	if res.Year != 0 {
		year = res.Year
	}
	if m, err := time.Parse("Jan", titleMonth(res.Month)); err == nil {
		month = m.Month()
	}

	days := make([]models.PrayerDay, 0, len(res.Prayers))
	for _, p := range res.Prayers {
		day := models.PrayerDay{
			Date:       time.Date(year, month, p.Day, 0, 0, 0, 0, c.loc).Format(models.DateLayout),
			ZoneCode:   zone,
			Fajr:       c.at(p.Fajr),
			Syuruk:     c.at(p.Syuruk),
			Dhuhr:      c.at(p.Dhuhr),
			Asr:        c.at(p.Asr),
			Maghrib:    c.at(p.Maghrib),
			Isha:       c.at(p.Isha),
			HijriLabel: p.Hijri,
		}
		if err := day.Validate(); err != nil {
			return nil, errors.InvalidResponse(op, err)
		}
		days = append(days, day)
	}
	return days, nil
}

// Zones lists every known zone.
func (c *Client) Zones(ctx context.Context) ([]models.Zone, error) {
	var list []zoneInfo
	if err := c.get(ctx, "zones", "/zones", nil, &list); err != nil {
		return nil, err
	}

	c.zonesMu.Lock()
	c.zones = make(map[string]zoneInfo, len(list))
	for _, z := range list {
		c.zones[z.Code] = z
	}
	c.zonesMu.Unlock()

	out := make([]models.Zone, 0, len(list))
	for _, z := range list {
		out = append(out, models.Zone{Code: z.Code, DisplayName: z.label()})
	}
	return out, nil
}

// label renders "daerah, negeri".
func (z zoneInfo) label() string {
	switch {
	case z.District != "" && z.State != "":
		return z.District + ", " + z.State
	case z.District != "":
		return z.District
	case z.State != "":
		return z.State
	default:
		return z.Code
	}
}

// displayName falls back to the code when the zone list is unavailable.
func (c *Client) displayName(ctx context.Context, code string) string {
	c.zonesMu.Lock()
	loaded := c.zones != nil
	c.zonesMu.Unlock()

	if !loaded {
		if _, err := c.Zones(ctx); err != nil {
			c.log.Warn().Err(err).Msg("zone list unavailable")
			return code
		}
	}

	c.zonesMu.Lock()
	defer c.zonesMu.Unlock()
	if z, ok := c.zones[code]; ok {
		return z.label()
	}
	return code
}

func (c *Client) at(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).In(c.loc)
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.InvalidResponse(op, err)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("url", u).Msg("request")
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Network(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errors.InvalidResponse(op, errors.Errorf("status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.InvalidResponse(op, err)
	}
	return nil
}

func titleMonth(s string) string {
	if len(s) < 3 {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:3])
}
