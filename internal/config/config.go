// Package config loads and validates spider configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webspider/internal/spider"
	"github.com/JakeFAU/webspider/internal/urlcanon"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Spider   SpiderConfig   `mapstructure:"spider"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SpiderConfig holds the scan defaults and politeness settings.
type SpiderConfig struct {
	UserAgent          string   `mapstructure:"user_agent"`
	MaxDepth           int      `mapstructure:"max_depth"`
	Concurrency        int      `mapstructure:"concurrency"`
	RequestsPerSecond  float64  `mapstructure:"requests_per_second"`
	Burst              int      `mapstructure:"burst"`
	RespectRobots      bool     `mapstructure:"respect_robots"`
	ParameterHandling  string   `mapstructure:"parameter_handling"`
	HandleOData        bool     `mapstructure:"handle_odata"`
	MaxDurationMinutes int      `mapstructure:"max_duration_minutes"`
	MaxChildren        int      `mapstructure:"max_children"`
	Includes           []string `mapstructure:"includes"`
	Excludes           []string `mapstructure:"excludes"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// StorageConfig selects the message store.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	BoltPath string `mapstructure:"bolt_path"`
	Table    string `mapstructure:"table"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ProgressConfig tunes the scan event hub.
type ProgressConfig struct {
	BufferSize      int `mapstructure:"buffer_size"`
	MaxBatchEvents  int `mapstructure:"max_batch_events"`
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("spider.user_agent", "webspider/0.1")
	v.SetDefault("spider.max_depth", 5)
	v.SetDefault("spider.concurrency", 2)
	v.SetDefault("spider.requests_per_second", 0)
	v.SetDefault("spider.burst", 1)
	v.SetDefault("spider.respect_robots", true)
	v.SetDefault("spider.parameter_handling", "use_all")
	v.SetDefault("spider.handle_odata", false)
	v.SetDefault("spider.max_duration_minutes", 0)
	v.SetDefault("spider.max_children", 0)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.bolt_path", "webspider.db")
	v.SetDefault("storage.table", "spider_messages")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.flush_interval_ms", 250)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Spider.Concurrency <= 0 {
		return fmt.Errorf("spider.concurrency must be > 0")
	}
	if c.Spider.MaxDepth < 0 {
		return fmt.Errorf("spider.max_depth must be >= 0")
	}
	if c.Spider.RequestsPerSecond < 0 {
		return fmt.Errorf("spider.requests_per_second must be >= 0")
	}
	if _, err := urlcanon.ParseParamHandling(c.Spider.ParameterHandling); err != nil {
		return fmt.Errorf("spider.parameter_handling: %w", err)
	}
	for _, pattern := range append(append([]string(nil), c.Spider.Includes...), c.Spider.Excludes...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("spider scope pattern %q: %w", pattern, err)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBolt:
		if c.Storage.BoltPath == "" {
			return fmt.Errorf("storage.bolt_path must be set for the bolt driver")
		}
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	return nil
}

// RequestTimeout is the per-request fetch timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ScanOptions converts the spider section into scan defaults.
func (c Config) ScanOptions() (spider.Options, error) {
	handling, err := urlcanon.ParseParamHandling(c.Spider.ParameterHandling)
	if err != nil {
		return spider.Options{}, fmt.Errorf("spider.parameter_handling: %w", err)
	}
	return spider.Options{
		MaxDepth:    c.Spider.MaxDepth,
		Concurrency: c.Spider.Concurrency,
		Handling:    handling,
		ODataAware:  c.Spider.HandleOData,
		MaxDuration: time.Duration(c.Spider.MaxDurationMinutes) * time.Minute,
		MaxChildren: c.Spider.MaxChildren,
	}, nil
}
