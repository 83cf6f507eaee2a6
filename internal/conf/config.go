// Package conf loads storyapp settings from config.yaml, STORYAPP_* environment
// variables and built-in defaults.
package conf

import (
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/storyapp/storyapp/internal/errors"
)

// Settings is the complete application configuration.
type Settings struct {
	API       APISettings       `mapstructure:"api" yaml:"api"`
	Worker    WorkerSettings    `mapstructure:"worker" yaml:"worker"`
	Page      PageSettings      `mapstructure:"page" yaml:"page"`
	Broadcast BroadcastSettings `mapstructure:"broadcast" yaml:"broadcast"`
	Notify    NotifySettings    `mapstructure:"notify" yaml:"notify"`
	Telemetry TelemetrySettings `mapstructure:"telemetry" yaml:"telemetry"`
	Log       LogSettings       `mapstructure:"log" yaml:"log"`
}

// APISettings describes the Story API backend.
type APISettings struct {
	BaseURL             string   `mapstructure:"base_url" yaml:"base_url"`
	SubscribeEndpoint   string   `mapstructure:"subscribe_endpoint" yaml:"subscribe_endpoint"`
	UnsubscribeEndpoint string   `mapstructure:"unsubscribe_endpoint" yaml:"unsubscribe_endpoint"`
	VAPIDPublicKey      string   `mapstructure:"vapid_public_key" yaml:"vapid_public_key"`
	Timeout             Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit           float64  `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst           int      `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// PrecacheEntry is one build-time asset installed before activation.
type PrecacheEntry struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Revision string `mapstructure:"revision" yaml:"revision"`
}

// NotificationDefaults are used when a push payload omits a field.
type NotificationDefaults struct {
	Title string `mapstructure:"title" yaml:"title"`
	Body  string `mapstructure:"body" yaml:"body"`
	Icon  string `mapstructure:"icon" yaml:"icon"`
	Badge string `mapstructure:"badge" yaml:"badge"`
}

// WorkerSettings configures the worker process.
type WorkerSettings struct {
	Listen           string               `mapstructure:"listen" yaml:"listen"`
	PublicURL        string               `mapstructure:"public_url" yaml:"public_url"`
	Version          string               `mapstructure:"version" yaml:"version"`
	Precache         []PrecacheEntry      `mapstructure:"precache" yaml:"precache"`
	CacheBackend     string               `mapstructure:"cache_backend" yaml:"cache_backend"` // memory, sqlite or mysql
	CacheDSN         string               `mapstructure:"cache_dsn" yaml:"cache_dsn"`
	NetworkTimeout   Duration             `mapstructure:"network_timeout" yaml:"network_timeout"`
	NotificationTTL  Duration             `mapstructure:"notification_ttl" yaml:"notification_ttl"`
	PushRateLimit    float64              `mapstructure:"push_rate_limit" yaml:"push_rate_limit"`
	AllowedOrigins   []string             `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	Notification     NotificationDefaults `mapstructure:"notification" yaml:"notification"`
	ShutdownDeadline Duration             `mapstructure:"shutdown_deadline" yaml:"shutdown_deadline"`
}

// PageSettings configures the page process.
type PageSettings struct {
	Listen        string `mapstructure:"listen" yaml:"listen"`
	URL           string `mapstructure:"url" yaml:"url"`
	SessionSecret string `mapstructure:"session_secret" yaml:"session_secret"`
	WorkerURL     string `mapstructure:"worker_url" yaml:"worker_url"`
	Language      string `mapstructure:"language" yaml:"language"`
	PushStoreDSN  string `mapstructure:"push_store_dsn" yaml:"push_store_dsn"` // empty keeps subscriptions in memory
}

// BroadcastSettings selects the worker/page broadcast channel.
type BroadcastSettings struct {
	Kind        string `mapstructure:"kind" yaml:"kind"` // local or mqtt
	Broker      string `mapstructure:"broker" yaml:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
}

// NotifySettings lists shoutrrr service URLs used for OS-level display.
type NotifySettings struct {
	URLs []string `mapstructure:"urls" yaml:"urls"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	SentryDSN string `mapstructure:"sentry_dsn" yaml:"sentry_dsn"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://story-api.dicoding.dev/v1")
	v.SetDefault("api.subscribe_endpoint", "/notifications/subscribe")
	v.SetDefault("api.unsubscribe_endpoint", "/notifications/subscribe")
	v.SetDefault("api.vapid_public_key", "BCCs2eonMI-6H2ctvFaWg-UYdDv387Vno_bzUzALpB442r2lCnsHmtrx8biyPi_E-1fSGABK_Qs_GlvPoJJqxbk")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.rate_limit", 5.0)
	v.SetDefault("api.rate_burst", 10)

	v.SetDefault("worker.listen", ":8081")
	v.SetDefault("worker.public_url", "http://localhost:8081")
	v.SetDefault("worker.version", "v1")
	v.SetDefault("worker.cache_backend", "memory")
	v.SetDefault("worker.cache_dsn", "storyapp-cache.db")
	v.SetDefault("worker.network_timeout", "0s")
	v.SetDefault("worker.notification_ttl", "24h")
	v.SetDefault("worker.push_rate_limit", 20.0)
	v.SetDefault("worker.notification.title", "Story App")
	v.SetDefault("worker.notification.body", "You have a new notification")
	v.SetDefault("worker.notification.icon", "/icons/icon-192x192.png")
	v.SetDefault("worker.notification.badge", "/icons/badge-72x72.png")
	v.SetDefault("worker.shutdown_deadline", "10s")

	v.SetDefault("page.listen", ":8080")
	v.SetDefault("page.url", "http://localhost:8080")
	v.SetDefault("page.worker_url", "http://localhost:8081")
	v.SetDefault("page.language", "id")

	v.SetDefault("broadcast.kind", "local")
	v.SetDefault("broadcast.topic_prefix", "storyapp")
	v.SetDefault("broadcast.client_id", "storyapp")

	v.SetDefault("log.level", "info")
}

// Load reads settings from configFile (optional) and the environment.
// An empty configFile searches for config.yaml in the working directory.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STORYAPP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("file", configFile).
				Build()
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks values that have no sensible fallback. A malformed
// api.base_url is accepted on purpose: backend route predicates fail closed.
func (s *Settings) Validate() error {
	switch s.Worker.CacheBackend {
	case "memory", "sqlite", "mysql":
	default:
		return validationError("worker.cache_backend", s.Worker.CacheBackend)
	}
	switch s.Broadcast.Kind {
	case "local":
	case "mqtt":
		if s.Broadcast.Broker == "" {
			return validationError("broadcast.broker", "")
		}
	default:
		return validationError("broadcast.kind", s.Broadcast.Kind)
	}
	if s.Worker.PublicURL == "" {
		return validationError("worker.public_url", "")
	}
	for i, e := range s.Worker.Precache {
		if e.URL == "" {
			return validationError("worker.precache", i)
		}
	}
	return nil
}

// Location resolves the configured log timezone, falling back to local time.
func (s *Settings) Location() *time.Location {
	if s.Log.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(s.Log.Timezone)
	if err != nil {
		return nil
	}
	return loc
}

func validationError(key string, value any) error {
	return errors.Newf("invalid configuration value for %s", key).
		Component("conf").
		Category(errors.CategoryValidation).
		Context("key", key).
		Context("value", value).
		Build()
}

const redacted = "<redacted>"

// WriteYAML writes s in config file form with secrets masked. The output
// loads back through Load.
func (s *Settings) WriteYAML(w io.Writer) error {
	out := *s
	for _, secret := range []*string{
		&out.Page.SessionSecret,
		&out.Broadcast.Password,
		&out.Telemetry.SentryDSN,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}
	if len(s.Notify.URLs) > 0 {
		// shoutrrr URLs embed tokens
		out.Notify.URLs = make([]string, len(s.Notify.URLs))
		for i := range out.Notify.URLs {
			out.Notify.URLs[i] = redacted
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return enc.Close()
}
