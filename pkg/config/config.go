// Package config loads sitecache settings from defaults, an optional YAML
// file and the environment, in that order of precedence (last wins).
//
// Environment variables use the SITECACHE_ prefix with "_" separating
// levels, e.g. SITECACHE_STORE_URL or SITECACHE_RATELIMIT_DEFAULT_MAXREQUESTS.
// The bare REDIS_URL variable is honored for the store address; a
// SITECACHE_STORE_URL overrides it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/sitecache/pkg/cache"
	"github.com/Sternrassler/sitecache/pkg/logging"
	"github.com/Sternrassler/sitecache/pkg/ratelimit"
	"github.com/Sternrassler/sitecache/pkg/session"
	"github.com/Sternrassler/sitecache/pkg/store"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix of sitecache environment variables.
	EnvPrefix = "SITECACHE_"

	// RedisURLEnv is the conventional store address variable.
	RedisURLEnv = "REDIS_URL"

	delimiter = "."
)

// CacheConfig holds request cache settings.
type CacheConfig struct {
	// DefaultTTL applies when a caller passes no TTL.
	DefaultTTL time.Duration `koanf:"defaultttl"`
}

// SessionConfig holds session cache settings.
type SessionConfig struct {
	// TTL is the sliding session lifetime.
	TTL time.Duration `koanf:"ttl"`
}

// Config is the complete sitecache configuration.
type Config struct {
	Store     store.Config     `koanf:"store"`
	Cache     CacheConfig      `koanf:"cache"`
	RateLimit ratelimit.Config `koanf:"ratelimit"`
	Session   SessionConfig    `koanf:"session"`
	Log       logging.Config   `koanf:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store:     store.DefaultConfig(),
		Cache:     CacheConfig{DefaultTTL: cache.DefaultTTL},
		RateLimit: ratelimit.DefaultConfig(),
		Session:   SessionConfig{TTL: session.DefaultTTL},
		Log:       logging.DefaultConfig(),
	}
}

// Load builds the configuration. path may be empty; a missing file is not
// an error.
func Load(path string) (Config, error) {
	k := koanf.New(delimiter)
	def := Default()

	if err := k.Load(structs.ProviderWithDelim(def, "koanf", delimiter), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := loadFromFile(k, path); err != nil {
		return Config{}, err
	}
	if err := loadFromEnv(k); err != nil {
		return Config{}, err
	}

	cfg := def
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{FlatPaths: false}); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Log.Output = def.Log.Output

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache: default ttl must be positive (got %s)", c.Cache.DefaultTTL)
	}
	if err := c.RateLimit.Default.Validate(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session: ttl must be positive (got %s)", c.Session.TTL)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func loadFromFile(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	return nil
}

func loadFromEnv(k *koanf.Koanf) error {
	// REDIS_URL first so SITECACHE_STORE_URL wins.
	redisURL := env.Provider(RedisURLEnv, delimiter, func(s string) string {
		if s != RedisURLEnv {
			return ""
		}
		return "store.url"
	})
	if err := k.Load(redisURL, nil); err != nil {
		return err
	}

	prefixed := env.Provider(EnvPrefix, delimiter, func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", delimiter)
	})
	return k.Load(prefixed, nil)
}
