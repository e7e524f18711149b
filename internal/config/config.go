package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Cron      CronConfig      `mapstructure:"cron"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	SeenCache SeenCacheConfig `mapstructure:"seen_cache"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Search    SearchConfig    `mapstructure:"search"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Pipeline   string `mapstructure:"pipeline"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

type PipelineConfig struct {
	SourceTimeout   time.Duration `mapstructure:"source_timeout"`
	Concurrency     int           `mapstructure:"concurrency"`
	Retries         int           `mapstructure:"retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	DefaultTimezone string        `mapstructure:"default_timezone"`
	UserAgent       string        `mapstructure:"user_agent"`
}

type SourcesConfig struct {
	Eventbrite EventbriteConfig `mapstructure:"eventbrite"`
	Meetup     MeetupConfig     `mapstructure:"meetup"`
	Facebook   ScrapeConfig     `mapstructure:"facebook"`
	Blog       ScrapeConfig     `mapstructure:"blog"`
	Forum      ScrapeConfig     `mapstructure:"forum"`
}

type EventbriteConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	MaxPages int           `mapstructure:"max_pages"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MeetupConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ScrapeConfig covers the HTML-scraped sources; each URL is one page to parse.
type ScrapeConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URLs    []string      `mapstructure:"urls"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SeenCacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxKeys       int           `mapstructure:"max_keys"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

type AlertsConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Throttle   time.Duration `mapstructure:"throttle"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	ScanBatch int `mapstructure:"scan_batch"`
	MaxScan   int `mapstructure:"max_scan"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEETUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.pipeline", "0 0 */6 * * *")
	v.SetDefault("cron.run_on_start", false)

	v.SetDefault("pipeline.source_timeout", "2m")
	v.SetDefault("pipeline.concurrency", 5)
	v.SetDefault("pipeline.retries", 0)
	v.SetDefault("pipeline.retry_backoff", "5s")
	v.SetDefault("pipeline.default_timezone", "UTC")
	v.SetDefault("pipeline.user_agent", "meetup-ingestor/1.0")

	v.SetDefault("sources.eventbrite.enabled", true)
	v.SetDefault("sources.eventbrite.base_url", "https://www.eventbriteapi.com/v3")
	v.SetDefault("sources.eventbrite.api_key", "")
	v.SetDefault("sources.eventbrite.max_pages", 5)
	v.SetDefault("sources.eventbrite.timeout", "15s")
	v.SetDefault("sources.meetup.enabled", true)
	v.SetDefault("sources.meetup.base_url", "https://api.meetup.com")
	v.SetDefault("sources.meetup.api_key", "")
	v.SetDefault("sources.meetup.timeout", "15s")
	v.SetDefault("sources.facebook.enabled", true)
	v.SetDefault("sources.facebook.timeout", "45s")
	v.SetDefault("sources.blog.enabled", true)
	v.SetDefault("sources.blog.timeout", "20s")
	v.SetDefault("sources.forum.enabled", true)
	v.SetDefault("sources.forum.timeout", "20s")

	v.SetDefault("seen_cache.backend", "none")
	v.SetDefault("seen_cache.ttl", "168h")
	v.SetDefault("seen_cache.max_keys", 50000)
	v.SetDefault("seen_cache.redis_addr", "localhost:6379")
	v.SetDefault("seen_cache.redis_db", 0)
	v.SetDefault("seen_cache.key_prefix", "meetup:seen:")

	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.throttle", "5m")
	v.SetDefault("alerts.timeout", "5s")

	v.SetDefault("search.scan_batch", 500)
	v.SetDefault("search.max_scan", 20000)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	applyLegacyEnv(&cfg)

	return cfg, nil
}

// applyLegacyEnv honours the plain credential variables older deployments set.
func applyLegacyEnv(cfg *Config) {
	if strings.TrimSpace(cfg.Sources.Eventbrite.APIKey) == "" {
		cfg.Sources.Eventbrite.APIKey = strings.TrimSpace(os.Getenv("EVENTBRITE_API_KEY"))
	}
	if strings.TrimSpace(cfg.Sources.Meetup.APIKey) == "" {
		cfg.Sources.Meetup.APIKey = strings.TrimSpace(os.Getenv("MEETUP_API_KEY"))
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		cfg.DB.DSN = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
}
