package main

import (
	"context"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-co-op/gocron/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"sajda/internal/api"
	"sajda/internal/authz"
	"sajda/internal/config"
	"sajda/internal/handlers"
	"sajda/internal/location"
	"sajda/internal/logger"
	"sajda/internal/messages"
	"sajda/internal/models"
	"sajda/internal/notify"
	"sajda/internal/scheduler"
	"sajda/internal/storage"
	"sajda/internal/timetable"
	"sajda/internal/utils"
	"sajda/internal/zonecache"
)

const (
	queueSize = 32
	// retention for fired events and cached prayer days
	retentionDays = 45
)

func injectInfra() fx.Option {
	return fx.Provide(
		func() (*config.Config, error) { return config.Load() },
		logger.New,
		func(cfg *config.Config) (*time.Location, error) { return cfg.TimeLocation() },
		func() clockwork.Clock { return clockwork.NewRealClock() },
		newStorage,
		newCron,
	)
}

func injectLocation() fx.Option {
	return fx.Provide(
		location.NewHostBridge,
		newLocationProvider,
		newAuthz,
		newIPLocator,
		newTimetableClient,
		newCalculator,
		newZoneCache,
		newResolver,
	)
}

func injectSinks() fx.Option {
	return fx.Provide(
		newBot,
		newMQTTClient,
		newMQTTPublisher,
		newNotifier,
		func(l zerolog.Logger) *notify.LogPlayer { return notify.NewLogPlayer(messages.AudioDir, l) },
	)
}

func injectScheduler() fx.Option {
	return fx.Provide(
		newDispatcher,
		func(db *storage.DB, l zerolog.Logger) *scheduler.FiredLog {
			return scheduler.NewFiredLog(db, queueSize, l)
		},
		newEngine,
		newRefresher,
	)
}

// ---------- infra ----------------------------------------------------------

func newStorage(lc fx.Lifecycle, cfg *config.Config) (*storage.DB, error) {
	db, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(db.Close))
	return db, nil
}

func newCron(clock clockwork.Clock, loc *time.Location, l zerolog.Logger) (gocron.Scheduler, error) {
	return gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(loc),
		gocron.WithLogger(logger.NewGocron(l)),
	)
}

// ---------- location -------------------------------------------------------

// newLocationProvider uses the desktop host as the native tier; the host can
// only attach through the loopback API.
func newLocationProvider(cfg *config.Config, b *location.HostBridge, clock clockwork.Clock) location.Provider {
	if !cfg.API.Enabled {
		return location.Unsupported()
	}
	return location.NewHostProvider(b, clock)
}

func newAuthz(p location.Provider, b *location.HostBridge, clock clockwork.Clock, l zerolog.Logger) *authz.Machine {
	m := authz.New(authz.Options{Platform: p, Dispatcher: b.Dispatch, Clock: clock, Logger: l})
	b.OnAuthorization(m.Notify)
	return m
}

func newIPLocator(cfg *config.Config, clock clockwork.Clock, l zerolog.Logger) *location.IPLocator {
	return &location.IPLocator{
		URL:            cfg.Location.IPURL,
		Attempts:       cfg.Location.IPAttempts,
		AttemptTimeout: cfg.Location.IPAttemptTimeout,
		Backoff:        cfg.Location.IPBackoff,
		Client:         &http.Client{},
		Clock:          clock,
		Logger:         logger.Component(l, "ipgeo"),
	}
}

func newTimetableClient(cfg *config.Config, loc *time.Location, l zerolog.Logger) *timetable.Client {
	return timetable.NewClient(cfg.Prayer.APIBaseURL, cfg.Prayer.HTTPTimeout, loc, l)
}

// newCalculator returns nil when calculated fallback times are disabled.
func newCalculator(cfg *config.Config, loc *time.Location) (timetable.DayCalculator, error) {
	if !cfg.Calculation.Enabled {
		return nil, nil
	}
	return timetable.NewCalculator(cfg.Calculation.Method, cfg.Calculation.Madhab, loc)
}

func newZoneCache(db *storage.DB, l zerolog.Logger) *zonecache.Cache {
	return zonecache.New(db, l)
}

func newResolver(
	cfg *config.Config,
	p location.Provider,
	m *authz.Machine,
	ip *location.IPLocator,
	tt *timetable.Client,
	cache *zonecache.Cache,
	clock clockwork.Clock,
	l zerolog.Logger,
) *location.Resolver {
	return location.NewResolver(location.Options{
		Provider:           p,
		Authz:              m,
		IP:                 ip,
		Zones:              tt,
		Cache:              cache,
		NativeTimeout:      cfg.Location.NativeTimeout,
		AuthTimeout:        cfg.Location.AuthTimeout,
		RelookupDistanceKm: cfg.Location.RelookupDistanceKm,
		DefaultLatitude:    cfg.Location.DefaultLatitude,
		DefaultLongitude:   cfg.Location.DefaultLongitude,
		DefaultZone:        models.Zone{Code: cfg.Location.DefaultZone, DisplayName: cfg.Location.DefaultZoneName},
		Clock:              clock,
		Logger:             l,
	})
}

// ---------- sinks ----------------------------------------------------------

// newBot returns nil when Telegram is disabled.
func newBot(cfg *config.Config, l zerolog.Logger) (*tgbotapi.BotAPI, error) {
	if !cfg.Telegram.Enabled {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}
	l.Info().Str("bot", bot.Self.UserName).Msg("telegram authorized")
	return bot, nil
}

// newMQTTClient returns nil when MQTT is disabled.
func newMQTTClient(lc fx.Lifecycle, cfg *config.Config, l zerolog.Logger) (mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		return nil, nil
	}
	c, err := notify.NewMQTTClient(cfg.MQTT, l)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() { c.Disconnect(250) }))
	return c, nil
}

func newMQTTPublisher(c mqtt.Client, cfg *config.Config, l zerolog.Logger) *notify.MQTTPublisher {
	if c == nil {
		return nil
	}
	return notify.NewMQTTPublisher(c, cfg.MQTT.TopicPrefix, l)
}

func newNotifier(bot *tgbotapi.BotAPI, db *storage.DB, l zerolog.Logger) scheduler.Notifier {
	fan := notify.Fanout{notify.NewLogNotifier(l)}
	if bot != nil {
		fan = append(fan, notify.NewTelegramNotifier(bot, db, l))
	}
	return fan
}

// ---------- scheduler ------------------------------------------------------

func newDispatcher(n scheduler.Notifier, p *notify.LogPlayer, pub *notify.MQTTPublisher, l zerolog.Logger) *scheduler.Dispatcher {
	var publisher scheduler.Publisher
	if pub != nil {
		publisher = pub
	}
	return scheduler.NewDispatcher(n, p, publisher, queueSize, l)
}

func newEngine(
	cfg *config.Config,
	clock clockwork.Clock,
	loc *time.Location,
	d *scheduler.Dispatcher,
	fired *scheduler.FiredLog,
	l zerolog.Logger,
) *scheduler.Engine {
	var recorder scheduler.Recorder
	if cfg.Scheduler.PersistFired {
		recorder = fired
	}
	return scheduler.New(scheduler.Options{
		Clock:         clock,
		Location:      loc,
		Settings:      cfg.Settings,
		WakeThreshold: cfg.Scheduler.WakeThreshold,
		Sink:          d,
		Recorder:      recorder,
		Logger:        l,
	})
}

func newRefresher(
	tt *timetable.Client,
	db *storage.DB,
	cache *zonecache.Cache,
	e *scheduler.Engine,
	calc timetable.DayCalculator,
	clock clockwork.Clock,
	loc *time.Location,
	l zerolog.Logger,
) *timetable.Refresher {
	return timetable.NewRefresher(tt, db, cache, e, calc, clock, loc, l)
}

// ---------- lifecycle ------------------------------------------------------

type runParams struct {
	fx.In
	fx.Lifecycle

	Config     *config.Config
	Logger     zerolog.Logger
	Clock      clockwork.Clock
	Location   *time.Location
	DB         *storage.DB
	Cron       gocron.Scheduler
	Cache      *zonecache.Cache
	Resolver   *location.Resolver
	Engine     *scheduler.Engine
	Dispatcher *scheduler.Dispatcher
	FiredLog   *scheduler.FiredLog
	Refresher  *timetable.Refresher
	Player     *notify.LogPlayer
	Bot        *tgbotapi.BotAPI
	MQTT       *notify.MQTTPublisher
}

func run(p runParams) {
	log := p.Logger
	runCtx, cancel := context.WithCancel(context.Background())

	p.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Cache.Load(ctx); err != nil {
				return err
			}
			if p.Config.Scheduler.PersistFired {
				if err := p.Engine.Restore(ctx, p.DB); err != nil {
					return err
				}
			}
			p.FiredLog.Start(runCtx)
			p.Dispatcher.Start(runCtx)

			if err := registerJobs(runCtx, p); err != nil {
				return err
			}
			p.Cron.Start()

			go p.Refresher.Run(runCtx)
			if p.MQTT != nil {
				updates, _ := p.Engine.SubscribeCountdown()
				go p.MQTT.RunCountdown(runCtx, updates)
			}
			if p.Bot != nil {
				h := handlers.New(handlers.Options{
					Bot:      p.Bot,
					Chats:    p.DB,
					Schedule: p.Engine,
					Zones:    p.Cache,
					Audio:    p.Dispatcher,
					Relocate: p.Resolver,
					Logger:   log,
				})
				go h.Listen(runCtx)
			}
			log.Info().Str("tz", p.Location.String()).Msg("sajda started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			err := p.Cron.Shutdown()
			p.Dispatcher.Stop()
			p.FiredLog.Stop()
			utils.LogFor(log, "stop audio", p.Player.Stop())
			return err
		},
	})
}

func registerJobs(ctx context.Context, p runParams) error {
	if _, err := p.Engine.Register(p.Cron, p.Config.Scheduler.Tick); err != nil {
		return err
	}

	if _, err := p.Cron.NewJob(
		gocron.DurationJob(p.Config.Location.RefreshInterval),
		gocron.NewTask(func() { p.Resolver.Resolve(ctx) }),
		gocron.WithName("location-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		return err
	}

	if _, err := p.Cron.NewJob(
		gocron.DurationJob(p.Config.Prayer.RefreshInterval),
		gocron.NewTask(func() { p.Refresher.Refresh(ctx) }),
		gocron.WithName("timetable-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return err
	}

	_, err := p.Cron.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(func() { prune(ctx, p) }),
		gocron.WithName("prune"),
	)
	return err
}

func prune(ctx context.Context, p runParams) {
	cutoff := p.Clock.Now().In(p.Location).AddDate(0, 0, -retentionDays).Format(models.DateLayout)

	n, err := p.DB.PruneFired(ctx, cutoff)
	if !utils.LogFor(p.Logger, "prune fired events", err) && n > 0 {
		p.Logger.Info().Int64("rows", n).Msg("pruned fired events")
	}
	n, err = p.DB.PrunePrayerDays(ctx, cutoff)
	if !utils.LogFor(p.Logger, "prune prayer days", err) && n > 0 {
		p.Logger.Info().Int64("rows", n).Msg("pruned prayer days")
	}
}

type apiParams struct {
	fx.In
	fx.Lifecycle

	Config     *config.Config
	Logger     zerolog.Logger
	Engine     *scheduler.Engine
	Cache      *zonecache.Cache
	Authz      *authz.Machine
	Resolver   *location.Resolver
	Host       *location.HostBridge
	Dispatcher *scheduler.Dispatcher
}

func serveAPI(p apiParams) {
	if !p.Config.API.Enabled {
		return
	}
	s := api.New(api.Options{
		Addr:          p.Config.API.Addr,
		Schedule:      p.Engine,
		Zones:         p.Cache,
		Authorization: p.Authz,
		Location:      p.Resolver,
		Host:          p.Host,
		Audio:         p.Dispatcher,
		Logger:        p.Logger,
	})
	p.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Shutdown,
	})
}
