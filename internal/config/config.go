package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"ndx-relay/internal/logging"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendBuntDB   = "buntdb"
	BackendPostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`

	location *time.Location
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DiscordConfig identifies the notification channel and the bot posting to it.
type DiscordConfig struct {
	Token            string `mapstructure:"token"`
	Channel          string `mapstructure:"channel"`
	Bot              string `mapstructure:"bot"`
	DisableVerifyBot bool   `mapstructure:"disable_verify_bot"`
	Marker           string `mapstructure:"marker"`
	QueueSize        int    `mapstructure:"queue_size"`
}

// RelayConfig governs the daily gate and the downstream trading bots.
type RelayConfig struct {
	Timezone       string        `mapstructure:"timezone"`
	Endpoints      []string      `mapstructure:"endpoints"`
	NotifyPath     string        `mapstructure:"notify_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	KeyTTL         time.Duration `mapstructure:"key_ttl"`
}

// StoreConfig selects the dedup store.
type StoreConfig struct {
	Backend string       `mapstructure:"backend"`
	Redis   RedisConfig  `mapstructure:"redis"`
	BuntDB  BuntDBConfig `mapstructure:"buntdb"`
}

// RedisConfig covers Redis connectivity.
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	TLSFallback bool          `mapstructure:"tls_fallback"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// BuntDBConfig points at the embedded store file.
type BuntDBConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. When DSN is set relays
// are audited there regardless of the dedup backend.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SupervisorConfig bounds the restart delay of the chat source.
type SupervisorConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// legacyEnv maps keys to the environment variable names used by earlier
// deployments.
var legacyEnv = map[string]string{
	"discord.token":              "DISCORD_TOKEN",
	"discord.channel":            "DISCORD_NOTIFICATIONS_CHANNEL",
	"discord.bot":                "DISCORD_NOTIFICATIONS_BOT",
	"discord.disable_verify_bot": "DISCORD_NOTIFICATIONS_DISABLE_VERIFY_BOT",
	"relay.endpoints":            "TRADING_BOT_API_URLS",
	"store.redis.url":            "REDIS_URL",
}

const envPrefix = "NDXRELAY"

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func bindEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ndxrelay")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("discord.disable_verify_bot", false)
	v.SetDefault("discord.marker", "NDX")
	v.SetDefault("discord.queue_size", 64)

	v.SetDefault("relay.timezone", "")
	v.SetDefault("relay.notify_path", "/notify")
	v.SetDefault("relay.request_timeout", "10s")
	v.SetDefault("relay.key_ttl", "48h")

	v.SetDefault("store.backend", BackendRedis)
	v.SetDefault("store.redis.tls_fallback", true)
	v.SetDefault("store.redis.dial_timeout", "5s")
	v.SetDefault("store.buntdb.path", "ndxrelay.db")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("supervisor.min_delay", "5s")
	v.SetDefault("supervisor.max_delay", "60s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalize() {
	c.Relay.Endpoints = NormalizeEndpoints(c.Relay.Endpoints)
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Relay.NotifyPath != "" && !strings.HasPrefix(c.Relay.NotifyPath, "/") {
		c.Relay.NotifyPath = "/" + c.Relay.NotifyPath
	}
}

// NormalizeEndpoints trims whitespace and trailing slashes and drops blanks,
// keeping order.
func NormalizeEndpoints(endpoints []string) []string {
	trimmed := lo.Map(endpoints, func(e string, _ int) string {
		return strings.TrimRight(strings.TrimSpace(e), "/")
	})
	return lo.Compact(trimmed)
}

// Validate performs sanity checks on the values every command needs.
func (c *Config) Validate() error {
	if c.Discord.Channel == "" {
		return fmt.Errorf("discord.channel must be configured")
	}
	if c.Discord.Bot == "" && !c.Discord.DisableVerifyBot {
		return fmt.Errorf("discord.bot must be configured")
	}
	if c.Relay.Timezone == "" {
		return fmt.Errorf("relay.timezone must be configured")
	}
	loc, err := time.LoadLocation(c.Relay.Timezone)
	if err != nil {
		return fmt.Errorf("relay.timezone: %w", err)
	}
	c.location = loc

	if len(c.Relay.Endpoints) == 0 {
		return fmt.Errorf("relay.endpoints must list at least one url")
	}
	if c.Relay.RequestTimeout <= 0 {
		return fmt.Errorf("relay.request_timeout must be greater than zero")
	}
	if c.Relay.KeyTTL < 0 {
		return fmt.Errorf("relay.key_ttl cannot be negative")
	}

	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("store.redis.url must be configured")
		}
	case BackendBuntDB:
		if c.Store.BuntDB.Path == "" {
			return fmt.Errorf("store.buntdb.path must be configured")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be configured for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q not supported", c.Store.Backend)
	}

	if c.Supervisor.MinDelay <= 0 || c.Supervisor.MaxDelay < c.Supervisor.MinDelay {
		return fmt.Errorf("supervisor delays must satisfy 0 < min_delay <= max_delay")
	}
	return nil
}

// RequireToken is checked by commands that connect to Discord.
func (c *Config) RequireToken() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token must be configured")
	}
	return nil
}

// Location returns the reference timezone resolved by Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}
