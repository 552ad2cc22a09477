package logger

import (
	"io"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sajda/internal/config"
)

// New builds the process logger and installs it as the zerolog global.
func New(cfg *config.Config) zerolog.Logger {
	return build(cfg.Log, os.Stderr)
}

func build(cfg config.Log, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	w := out
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	l := zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = l
	return l
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Gocron adapts zerolog to gocron.Logger.
type Gocron struct {
	l zerolog.Logger
}

var _ gocron.Logger = (*Gocron)(nil)

func NewGocron(l zerolog.Logger) *Gocron {
	return &Gocron{l: Component(l, "gocron")}
}

func (g *Gocron) Debug(msg string, args ...any) { g.l.Debug().Fields(args).Msg(msg) }
func (g *Gocron) Info(msg string, args ...any)  { g.l.Info().Fields(args).Msg(msg) }
func (g *Gocron) Warn(msg string, args ...any)  { g.l.Warn().Fields(args).Msg(msg) }
func (g *Gocron) Error(msg string, args ...any) { g.l.Error().Fields(args).Msg(msg) }
