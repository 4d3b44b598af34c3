package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"

	"github.com/reshetovitsme/rss-notify/internal/shared/errors"
	"github.com/reshetovitsme/rss-notify/internal/shared/store"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RSS_NOTIFY_"

type Config struct {
	Platform         Platform `koanf:"platform"`
	DiscordToken     string   `koanf:"discord_token"`
	TelegramBotToken string   `koanf:"telegram_bot_token"`
	TelegramChats    []int64  `koanf:"-"`

	DatabaseDriver  string `koanf:"database_driver"`
	DatabaseDSN     string `koanf:"database_dsn"`
	ConnectAttempts uint64 `koanf:"connect_attempts"`

	HTTPPort string `koanf:"http_port"`

	PollInterval      time.Duration `koanf:"poll_interval"`
	LivenessInterval  time.Duration `koanf:"liveness_interval"`
	RetentionInterval time.Duration `koanf:"retention_interval"`
	RetentionAge      time.Duration `koanf:"retention_age"`
	FetchTimeout      time.Duration `koanf:"fetch_timeout"`
	LookbackMonths    int           `koanf:"lookback_months"`
	CategoryName      string        `koanf:"category_name"`
	UserAgent         string        `koanf:"user_agent"`

	LogLevel string `koanf:"log_level"`
	AppEnv   AppEnv `koanf:"app_env"`
}

var defaults = map[string]any{
	"platform":           "discord",
	"database_driver":    "sqlite",
	"database_dsn":       "./data/rss-notify.db",
	"connect_attempts":   5,
	"http_port":          "8080",
	"poll_interval":      "1m",
	"liveness_interval":  "1m",
	"retention_interval": "1h",
	"retention_age":      "720h",
	"fetch_timeout":      "30s",
	"lookback_months":    1,
	"category_name":      "RSS FEEDS",
	"user_agent":         "rss-notify/1.0",
	"log_level":          "info",
	"app_env":            "production",
}

// Load reads the configuration from path, or from the first config file
// found in the working directory when path is empty, then from environment
// variables prefixed with EnvPrefix. Missing keys get their defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	configFile, found := path, path != ""
	if !found {
		configFiles := []string{
			"config.yaml",
			"config.yml",
			"config.json",
			"config.toml",
		}
		configFile, found = lo.Find(configFiles, func(file string) bool {
			_, err := os.Stat(file)
			return err == nil
		})
	}

	if found {
		var parser koanf.Parser
		ext := filepath.Ext(configFile)

		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		case ".toml":
			parser = toml.Parser()
		default:
			return nil, oops.Errorf("unsupported config file extension: %s", ext)
		}

		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, oops.With("config_file", configFile).Wrap(err)
		}
	}

	// Environment variables override config file values
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, oops.With("context", "loading environment variables").Wrap(err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.With("context", "unmarshaling config").Wrap(err)
	}

	chats, err := parseChats(k.Get("telegram_chats"))
	if err != nil {
		return nil, err
	}
	cfg.TelegramChats = chats

	platform, err := ParsePlatform(k.String("platform"))
	if err != nil {
		return nil, oops.With("platform", k.String("platform")).Wrap(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err))
	}
	cfg.Platform = platform

	if appEnv, err := ParseAppEnv(k.String("app_env")); err == nil {
		cfg.AppEnv = appEnv
	} else {
		cfg.AppEnv = AppEnvProduction
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	if _, err := store.ParseDialect(c.DatabaseDriver); err != nil {
		return oops.With("database_driver", c.DatabaseDriver).Wrap(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err))
	}
	if c.DatabaseDSN == "" {
		return oops.Wrap(fmt.Errorf("%w: database_dsn is required", errors.ErrInvalidConfig))
	}

	durations := map[string]time.Duration{
		"poll_interval":      c.PollInterval,
		"liveness_interval":  c.LivenessInterval,
		"retention_interval": c.RetentionInterval,
		"retention_age":      c.RetentionAge,
		"fetch_timeout":      c.FetchTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			return oops.With("key", key, "value", d).Wrap(fmt.Errorf("%w: %s must be positive", errors.ErrInvalidConfig, key))
		}
	}
	if c.LookbackMonths <= 0 {
		return oops.With("lookback_months", c.LookbackMonths).Wrap(fmt.Errorf("%w: lookback_months must be positive", errors.ErrInvalidConfig))
	}
	return nil
}

// ValidatePlatform checks the credentials of the selected platform. Only
// commands that connect to the platform call it.
func (c *Config) ValidatePlatform() error {
	switch c.Platform {
	case PlatformDiscord:
		if c.DiscordToken == "" {
			return oops.With("platform", c.Platform).Wrap(errors.ErrMissingToken)
		}
	case PlatformTelegram:
		if c.TelegramBotToken == "" {
			return oops.With("platform", c.Platform).Wrap(errors.ErrMissingToken)
		}
		if len(c.TelegramChats) == 0 {
			return oops.Wrap(fmt.Errorf("%w: telegram_chats is required", errors.ErrInvalidConfig))
		}
	default:
		return oops.With("platform", c.Platform).Wrap(errors.ErrInvalidConfig)
	}
	return nil
}

// StructuredLogs reports whether logs are written as JSON, which is the
// case in production.
func (c *Config) StructuredLogs() bool {
	return c.AppEnv == AppEnvProduction
}

// Dialect returns the configured database dialect.
func (c *Config) Dialect() store.Dialect {
	d, _ := store.ParseDialect(c.DatabaseDriver)
	return d
}

func parseChats(raw any) ([]int64, error) {
	switch v := raw.(type) {
	case nil:
		return []int64{}, nil
	case string:
		return ParseChatIDs(v)
	case []any:
		ids := make([]int64, 0, len(v))
		for _, item := range v {
			switch val := item.(type) {
			case int:
				ids = append(ids, int64(val))
			case int64:
				ids = append(ids, val)
			case float64:
				ids = append(ids, int64(val))
			default:
				parsed, err := ParseChatIDs(fmt.Sprint(val))
				if err != nil {
					return nil, err
				}
				ids = append(ids, parsed...)
			}
		}
		return ids, nil
	default:
		return ParseChatIDs(fmt.Sprint(v))
	}
}

// ParseChatIDs parses a comma separated list of chat ids. Blank items are
// skipped.
func ParseChatIDs(s string) ([]int64, error) {
	ids := []int64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, oops.With("chat_id", part).Wrap(fmt.Errorf("%w: invalid telegram chat id", errors.ErrInvalidConfig))
		}
		ids = append(ids, id)
	}
	return ids, nil
}
