package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"sajda/internal/messages"
	"sajda/internal/models"
)

const relocateTimeout = time.Minute

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)

	g := s.echo.Group("/api")
	g.GET("/next", s.next)
	g.GET("/today", s.today)
	g.GET("/snapshot", s.snapshot)
	g.GET("/location", s.locationState)
	g.POST("/location/refresh", s.relocate)
	g.GET("/events", s.events)
	g.POST("/audio/stop", s.stopAudio)
	if s.host != nil {
		s.hostRoutes(g)
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type nextResponse struct {
	models.NextPrayer
	Title string `json:"title"`
}

func (s *Server) next(c echo.Context) error {
	n := s.schedule.Snapshot().Next
	return c.JSON(http.StatusOK, nextResponse{NextPrayer: n, Title: messages.Tray(n.Label, n.Remaining)})
}

type todayResponse struct {
	Zone models.Zone       `json:"zone"`
	Day  *models.PrayerDay `json:"day"`
}

func (s *Server) today(c echo.Context) error {
	day := s.schedule.Snapshot().Today
	if day == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "prayer times not loaded yet")
	}
	zone, _ := s.zones.Current()
	return c.JSON(http.StatusOK, todayResponse{Zone: zone.Zone, Day: day})
}

func (s *Server) snapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, s.schedule.Snapshot())
}

type locationResponse struct {
	Authorization models.AuthorizationStatus `json:"authorization"`
	Zone          *models.CachedZone         `json:"zone,omitempty"`
	LastFix       *models.LocationFix        `json:"last_fix,omitempty"`
}

func (s *Server) locationResponse() locationResponse {
	resp := locationResponse{Authorization: s.authz.Status()}
	if z, ok := s.zones.Current(); ok {
		resp.Zone = &z
	}
	if f, ok := s.location.LastFix(); ok {
		resp.LastFix = &f
	}
	return resp
}

func (s *Server) locationState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.locationResponse())
}

func (s *Server) relocate(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), relocateTimeout)
	defer cancel()

	s.location.Resolve(ctx)
	return c.JSON(http.StatusOK, s.locationResponse())
}

func (s *Server) stopAudio(c echo.Context) error {
	if err := s.audio.StopAudio(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// events streams countdown updates and triggers as server-sent events.
func (s *Server) events(c echo.Context) error {
	countdown, stopCountdown := s.schedule.SubscribeCountdown()
	defer stopCountdown()
	triggers, stopEvents := s.schedule.SubscribeEvents()
	defer stopEvents()

	res := c.Response()
	openStream(res)

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case cd, ok := <-countdown:
			if !ok {
				return nil
			}
			err = writeEvent(res, "countdown", cd)
		case ev, ok := <-triggers:
			if !ok {
				return nil
			}
			err = writeEvent(res, string(ev.Kind), ev)
		case <-keepAlive.C:
			_, err = fmt.Fprint(res, ": ping\n\n")
			res.Flush()
		}
		if err != nil {
			s.log.Debug().Err(err).Msg("event stream closed")
			return nil
		}
	}
}

func openStream(res *echo.Response) {
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()
}

func writeEvent(res *echo.Response, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
