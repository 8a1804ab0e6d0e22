// Package config loads and validates restock checker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Check    CheckConfig    `mapstructure:"check"`
	Light    LightConfig    `mapstructure:"light"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Store    StoreConfig    `mapstructure:"store"`
	Server   ServerConfig   `mapstructure:"server"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig locates the target list and the JSON documents written by runs.
type PathsConfig struct {
	Targets    string `mapstructure:"targets"`
	State      string `mapstructure:"state"`
	LightState string `mapstructure:"light_state"`
	Headers    string `mapstructure:"headers"`
	Queue      string `mapstructure:"queue"`
}

// HTTPConfig configures the conditional fetcher.
type HTTPConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	AcceptLanguage string        `mapstructure:"accept_language"`
}

// CheckConfig governs the executor and the notification cooldown.
type CheckConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Jitter      time.Duration `mapstructure:"jitter"`
	Shuffle     bool          `mapstructure:"shuffle"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// LightConfig tunes the fast escalating pass.
type LightConfig struct {
	Detection        string        `mapstructure:"detection"`
	Jitter           time.Duration `mapstructure:"jitter"`
	EscalateOnChange bool          `mapstructure:"escalate_on_change"`
}

// HeadlessConfig configures the chromedp renderer used by confirm runs.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	DomainQPS   float64       `mapstructure:"domain_qps"`
}

// NotifyConfig selects and configures the notification backend.
type NotifyConfig struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	LINE    LINEConfig   `mapstructure:"line"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
}

// LINEConfig holds LINE Messaging API credentials.
type LINEConfig struct {
	ChannelAccessToken string        `mapstructure:"channel_access_token"`
	To                 string        `mapstructure:"to"`
	Endpoint           string        `mapstructure:"endpoint"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// PubSubConfig holds metadata for restock event publication.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// StoreConfig selects the state backend.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// ServerConfig controls the watch-mode HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// WatchConfig holds cron expressions for daemon mode. When Mode is "light"
// the light pass runs on Schedule and confirm runs on ConfirmSchedule.
type WatchConfig struct {
	Mode            string `mapstructure:"mode"`
	Schedule        string `mapstructure:"schedule"`
	ConfirmSchedule string `mapstructure:"confirm_schedule"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESTOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.targets", "targets.json")
	v.SetDefault("paths.state", "state.json")
	v.SetDefault("paths.light_state", "light_state.json")
	v.SetDefault("paths.headers", "headers_cache.json")
	v.SetDefault("paths.queue", "needs_confirm.json")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; restockwatch/1.0)")
	v.SetDefault("http.timeout", 12*time.Second)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.accept_language", "ja,en;q=0.8")
	v.SetDefault("check.concurrency", 8)
	v.SetDefault("check.jitter", time.Duration(0))
	v.SetDefault("check.shuffle", false)
	v.SetDefault("check.cooldown", 300*time.Second)
	v.SetDefault("light.detection", DetectionKeywords)
	v.SetDefault("light.jitter", 20*time.Second)
	v.SetDefault("light.escalate_on_change", false)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", 30*time.Second)
	v.SetDefault("headless.domain_qps", 1.0)
	v.SetDefault("notify.backend", NotifyLINE)
	v.SetDefault("notify.prefix", "🔔 再入荷")
	v.SetDefault("notify.line.endpoint", "https://api.line.me/v2/bot/message/push")
	v.SetDefault("notify.line.timeout", 10*time.Second)
	v.SetDefault("store.backend", StoreJSON)
	v.SetDefault("store.sqlite_path", "restockwatch.db")
	v.SetDefault("store.postgres_table", "restock_state")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("watch.mode", WatchCheck)
	v.SetDefault("watch.schedule", "@every 5m")
	v.SetDefault("watch.confirm_schedule", "@every 10m")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// bindLegacyEnv keeps the historical variable names working alongside the
// RESTOCK_ prefixed ones.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"notify.line.channel_access_token": {"RESTOCK_NOTIFY_LINE_CHANNEL_ACCESS_TOKEN", "LINE_CHANNEL_ACCESS_TOKEN"},
		"notify.line.to":                   {"RESTOCK_NOTIFY_LINE_TO", "LINE_TO_USER_ID"},
		"notify.prefix":                    {"RESTOCK_NOTIFY_PREFIX", "NOTIFY_PREFIX"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Detection engines for the light pass.
const (
	DetectionKeywords = "keywords"
	DetectionCSS      = "css"
)

// Notification backends.
const (
	NotifyLINE   = "line"
	NotifyPubSub = "pubsub"
	NotifyLog    = "log"
)

// State backends.
const (
	StoreJSON     = "json"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Watch modes.
const (
	WatchCheck = "check"
	WatchLight = "light"
)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.Targets) == "" {
		return errors.New("paths.targets must be set")
	}
	if c.Paths.State == "" || c.Paths.Headers == "" {
		return errors.New("paths.state and paths.headers must be set")
	}
	if c.Paths.LightState == "" || c.Paths.Queue == "" {
		return errors.New("paths.light_state and paths.queue must be set")
	}
	if c.Paths.LightState == c.Paths.State {
		return errors.New("paths.light_state must differ from paths.state")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Check.Concurrency <= 0 {
		return fmt.Errorf("check.concurrency must be > 0")
	}
	if c.Check.Jitter < 0 || c.Light.Jitter < 0 {
		return fmt.Errorf("jitter must be >= 0")
	}
	if c.Check.Cooldown < 0 {
		return fmt.Errorf("check.cooldown must be >= 0")
	}
	switch c.Light.Detection {
	case DetectionKeywords, DetectionCSS:
	default:
		return fmt.Errorf("light.detection %q must be %q or %q", c.Light.Detection, DetectionKeywords, DetectionCSS)
	}
	if c.Headless.Enabled {
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
		}
		if c.Headless.NavTimeout <= 0 {
			return fmt.Errorf("headless.nav_timeout must be > 0 when headless is enabled")
		}
	}
	switch c.Notify.Backend {
	case NotifyLINE, NotifyLog:
	case NotifyPubSub:
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicID == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic_id must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown notify.backend %q", c.Notify.Backend)
	}
	switch c.Store.Backend {
	case StoreJSON:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite backend")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Watch.Mode {
	case WatchCheck, WatchLight:
	default:
		return fmt.Errorf("watch.mode %q must be %q or %q", c.Watch.Mode, WatchCheck, WatchLight)
	}
	return nil
}
