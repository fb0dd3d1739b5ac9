package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultURL is used when no store address is configured.
const DefaultURL = "redis://localhost:6379"

// Config holds the connection settings for the remote store.
type Config struct {
	// URL is a redis:// or rediss:// URL. A bare host:port is accepted.
	URL string `koanf:"url"`

	// ConnectTimeout bounds a single handshake (dial + PING).
	ConnectTimeout time.Duration `koanf:"connecttimeout"`

	// MaxRetries is the number of retries after the first failed handshake.
	MaxRetries int `koanf:"maxretries"`

	// RetryStep is multiplied by the retry number to get the delay before it.
	RetryStep time.Duration `koanf:"retrystep"`

	// MaxRetryDelay caps the delay between two handshakes.
	MaxRetryDelay time.Duration `koanf:"maxretrydelay"`

	// FailFastWindow is how long Conn keeps returning the last connection
	// error before it starts a new attempt cycle.
	FailFastWindow time.Duration `koanf:"failfastwindow"`
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		URL:            DefaultURL,
		ConnectTimeout: 10 * time.Second,
		MaxRetries:     10,
		RetryStep:      100 * time.Millisecond,
		MaxRetryDelay:  3 * time.Second,
		FailFastWindow: 5 * time.Second,
	}
}

// Validate checks the settings for values the manager cannot work with.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive (got %s)", c.ConnectTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.RetryStep < 0 || c.MaxRetryDelay < 0 || c.FailFastWindow < 0 {
		return fmt.Errorf("retry delays and fail-fast window must not be negative")
	}
	if _, err := c.Options(); err != nil {
		return err
	}
	return nil
}

// Options parses the URL into go-redis client options.
func (c Config) Options() (*redis.Options, error) {
	addr := c.URL
	if addr == "" {
		addr = DefaultURL
	}
	// host:port without a scheme
	if !strings.HasPrefix(addr, "redis://") && !strings.HasPrefix(addr, "rediss://") {
		addr = "redis://" + addr
	}

	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if c.ConnectTimeout > 0 {
		opts.DialTimeout = c.ConnectTimeout
	}
	return opts, nil
}

// retryDelay returns the delay before retry n (1-based).
func (c Config) retryDelay(n uint) time.Duration {
	d := time.Duration(n) * c.RetryStep
	if d > c.MaxRetryDelay {
		return c.MaxRetryDelay
	}
	return d
}
