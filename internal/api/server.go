// Package api is the loopback HTTP bridge a desktop host polls for the
// countdown, today's times and the location state.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"sajda/internal/errors"
	"sajda/internal/location"
	"sajda/internal/models"
	"sajda/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

type Schedule interface {
	Snapshot() scheduler.Snapshot
	SubscribeCountdown() (<-chan models.Countdown, func())
	SubscribeEvents() (<-chan models.Event, func())
}

type ZoneSource interface {
	Current() (models.CachedZone, bool)
}

type Authorization interface {
	Status() models.AuthorizationStatus
}

type FixSource interface {
	LastFix() (models.LocationFix, bool)
	Resolve(ctx context.Context) models.LocationFix
}

// HostBridge is the native location surface a desktop host drives.
type HostBridge interface {
	Attach(platform string) (<-chan location.HostCommand, func(), error)
	SetAuthorization(code int)
	DeliverFix(id string, res location.NativeResult) error
}

type AudioControl interface {
	StopAudio() error
}

type Options struct {
	Addr          string
	Schedule      Schedule
	Zones         ZoneSource
	Authorization Authorization
	Location      FixSource
	Host          HostBridge // nil leaves the host routes unmounted
	Audio         AudioControl
	Logger        zerolog.Logger
}

type Server struct {
	addr string
	echo *echo.Echo
	log  zerolog.Logger

	schedule Schedule
	zones    ZoneSource
	authz    Authorization
	location FixSource
	host     HostBridge
	audio    AudioControl

	// keepAlive is the SSE comment interval.
	keepAlive time.Duration
}

func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		addr:      opts.Addr,
		echo:      e,
		log:       opts.Logger.With().Str("component", "api").Logger(),
		schedule:  opts.Schedule,
		zones:     opts.Zones,
		authz:     opts.Authorization,
		location:  opts.Location,
		host:      opts.Host,
		audio:     opts.Audio,
		keepAlive: 15 * time.Second,
	}

	e.Use(middleware.Recover())
	e.Use(requestLogger(s.log))
	s.routes()
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens in the background.
func (s *Server) Start() {
	s.log.Info().Str("addr", s.addr).Msg("starting HTTP server")
	go func() {
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.log.Info().Msg("shutting down HTTP server")
	return errors.WithStack(s.echo.Shutdown(ctx))
}

func requestLogger(l zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			ev := l.Debug()
			switch {
			case status >= 500:
				ev = l.Error()
			case status >= 400:
				ev = l.Warn()
			}
			ev.Str("method", req.Method).
				Str("uri", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Err(err).
				Msg("request")
			return nil
		}
	}
}
