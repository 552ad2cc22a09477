package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	envPrefix  = "SAJDA_"
	configName = "config.yaml"

	// telegramSecretPath is where Docker secrets mount the bot token.
	telegramSecretPath = "/run/secrets/telegram_bot_token"
)

// Fallback position used when neither native nor IP resolution succeeds:
// Kuala Lumpur, in federal-territory zone WLY01.
const (
	DefaultLatitude  = 3.1390
	DefaultLongitude = 101.6869
	DefaultZoneCode  = "WLY01"
	DefaultZoneName  = "Kuala Lumpur, Putrajaya"
)

type Config struct {
	Env         string      `koanf:"env"`
	Log         Log         `koanf:"log"`
	Storage     Storage     `koanf:"storage"`
	Location    Location    `koanf:"location"`
	Prayer      Prayer      `koanf:"prayer"`
	Calculation Calculation `koanf:"calculation"`
	Scheduler   Scheduler   `koanf:"scheduler"`
	Settings    Settings    `koanf:"settings"`
	Telegram    Telegram    `koanf:"telegram"`
	MQTT        MQTT        `koanf:"mqtt"`
	API         API         `koanf:"api"`
}

type Log struct {
	Level  string `koanf:"level"  validate:"oneof=trace debug info warn error"`
	Pretty bool   `koanf:"pretty"`
}

type Storage struct {
	Path string `koanf:"path" validate:"required"`
}

type Location struct {
	NativeTimeout    time.Duration `koanf:"nativeTimeout"    validate:"gt=0"`
	AuthTimeout      time.Duration `koanf:"authTimeout"      validate:"gt=0"`
	IPURL            string        `koanf:"ipUrl"            validate:"required,url"`
	IPAttempts       int           `koanf:"ipAttempts"       validate:"min=1,max=10"`
	IPAttemptTimeout time.Duration `koanf:"ipAttemptTimeout" validate:"gt=0"`
	IPBackoff        time.Duration `koanf:"ipBackoff"        validate:"gte=0"`
	// RelookupDistanceKm skips the zone lookup when the new fix is this close
	// to the one the cached zone was resolved from.
	RelookupDistanceKm float64       `koanf:"relookupDistanceKm" validate:"gte=0"`
	RefreshInterval    time.Duration `koanf:"refreshInterval"    validate:"gt=0"`
	DefaultLatitude    float64       `koanf:"defaultLatitude"    validate:"gte=-90,lte=90"`
	DefaultLongitude   float64       `koanf:"defaultLongitude"   validate:"gte=-180,lte=180"`
	DefaultZone        string        `koanf:"defaultZone"        validate:"required"`
	DefaultZoneName    string        `koanf:"defaultZoneName"`
}

type Prayer struct {
	APIBaseURL      string        `koanf:"apiBaseUrl"      validate:"required,url"`
	HTTPTimeout     time.Duration `koanf:"httpTimeout"     validate:"gt=0"`
	RefreshInterval time.Duration `koanf:"refreshInterval" validate:"gt=0"`
}

// Calculation configures the computed times used when no zone timetable
// can be read or fetched.
type Calculation struct {
	Enabled bool   `koanf:"enabled"`
	Method  string `koanf:"method"  validate:"oneof=JAKIM MUIS Kemenag MWL ISNA Egypt UmmAlQura Karachi"`
	Madhab  string `koanf:"madhab"  validate:"oneof=shafii hanafi"`
}

type Scheduler struct {
	Tick          time.Duration `koanf:"tick"          validate:"gt=0"`
	WakeThreshold time.Duration `koanf:"wakeThreshold" validate:"gte=0"`
	PersistFired  bool          `koanf:"persistFired"`
	Timezone      string        `koanf:"timezone"`
}

// Settings are the user-facing preferences the scheduler reads.
type Settings struct {
	// AudioModes maps a prayer name to adhan, chime or mute.
	AudioModes       map[string]string `koanf:"audioModes"`
	AdhanVoice       string            `koanf:"adhanVoice"       validate:"oneof=Nasser Ahmed"`
	RemindersEnabled bool              `koanf:"remindersEnabled"`
	RandomReminders  bool              `koanf:"randomReminders"`
	ReminderTimes    []string          `koanf:"reminderTimes"`
	AlKahfEnabled    bool              `koanf:"alKahfEnabled"`
}

// AudioMode returns the configured mode for a prayer, mute by default.
func (s Settings) AudioMode(prayer string) string {
	if m, ok := s.AudioModes[prayer]; ok && m != "" {
		return m
	}
	return "mute"
}

type Telegram struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token"`
}

type MQTT struct {
	Enabled     bool   `koanf:"enabled"`
	Broker      string `koanf:"broker"      validate:"required_if=Enabled true"`
	ClientID    string `koanf:"clientId"`
	TopicPrefix string `koanf:"topicPrefix"`
}

type API struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"required_if=Enabled true"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Env: "development",
		Log: Log{Level: "info", Pretty: true},
		Storage: Storage{
			Path: "sajda.db",
		},
		Location: Location{
			NativeTimeout:      10 * time.Second,
			AuthTimeout:        10 * time.Second,
			IPURL:              "https://ipapi.co/json/",
			IPAttempts:         3,
			IPAttemptTimeout:   5 * time.Second,
			IPBackoff:          time.Second,
			RelookupDistanceKm: 5,
			RefreshInterval:    time.Hour,
			DefaultLatitude:    DefaultLatitude,
			DefaultLongitude:   DefaultLongitude,
			DefaultZone:        DefaultZoneCode,
			DefaultZoneName:    DefaultZoneName,
		},
		Prayer: Prayer{
			APIBaseURL:      "https://api.waktusolat.app",
			HTTPTimeout:     10 * time.Second,
			RefreshInterval: time.Minute,
		},
		Calculation: Calculation{
			Enabled: true,
			Method:  "JAKIM",
			Madhab:  "shafii",
		},
		Scheduler: Scheduler{
			Tick:          time.Second,
			WakeThreshold: 5 * time.Second,
			PersistFired:  true,
			Timezone:      "Local",
		},
		Settings: Settings{
			AudioModes:       map[string]string{},
			AdhanVoice:       "Nasser",
			RemindersEnabled: true,
			RandomReminders:  true,
			ReminderTimes:    []string{"09:00", "21:00"},
			AlKahfEnabled:    true,
		},
		MQTT: MQTT{
			ClientID:    "sajda",
			TopicPrefix: "sajda",
		},
		API: API{
			Addr: "127.0.0.1:7777",
		},
	}
}

// Load reads config.yaml from the first search path that has one, then
// overlays SAJDA_* environment variables on top of the defaults.
func Load(searchPaths ...string) (*Config, error) {
	if len(searchPaths) == 0 {
		searchPaths = []string{".", "config", "../config"}
	}

	k := koanf.New(".")
	for _, dir := range searchPaths {
		candidate := filepath.Join(dir, configName)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := k.Load(file.Provider(candidate), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "read %s", candidate)
		}
		break
	}

	existing := k.Raw()
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return canonicalizeEnvKey(strings.TrimPrefix(key, envPrefix), existing), value
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables")
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			ZeroFields:       true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = secretToken(telegramSecretPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return errors.New("invalid configuration: telegram enabled without a token")
	}
	if _, err := c.TimeLocation(); err != nil {
		return err
	}
	return nil
}

// TimeLocation resolves Scheduler.Timezone.
func (c *Config) TimeLocation() (*time.Location, error) {
	switch c.Scheduler.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timezone %q", c.Scheduler.Timezone)
	}
	return loc, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func secretToken(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// canonicalizeEnvKey turns LOCATION_IPTIMEOUT into location.ipTimeout,
// reusing the casing of keys already loaded from YAML so the env value
// overrides instead of sitting next to it.
func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}
		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (string, map[string]any, bool) {
	for key, value := range current {
		if !strings.EqualFold(key, segment) {
			continue
		}
		next, _ := value.(map[string]any)
		return key, next, true
	}
	return "", nil, false
}
