// Package ratelimit implements a sliding-window rate limiter on top of Redis
// sorted sets. Each identifier owns one sorted set whose members are request
// tokens scored by their timestamp in milliseconds; only members inside the
// trailing window count toward the quota.
package ratelimit

import (
	"fmt"
	"time"
)

// DefaultPrefix is the key namespace of limiter windows.
const DefaultPrefix = "rate-limit"

// RemainingUnknown is reported as Result.Remaining when the store could not
// be consulted.
const RemainingUnknown = -1

// expiryBuffer is added to the window for the store-side expiry of a window
// key, so abandoned keys clean themselves up.
const expiryBuffer = time.Second

// Policy describes one quota.
type Policy struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int `koanf:"maxrequests"`

	// Window is the length of the sliding window.
	Window time.Duration `koanf:"window"`

	// Prefix is the key namespace; the window key is "prefix:identifier".
	Prefix string `koanf:"prefix"`
}

// DefaultPolicy returns 100 requests per minute under DefaultPrefix.
func DefaultPolicy() Policy {
	return Policy{
		MaxRequests: 100,
		Window:      time.Minute,
		Prefix:      DefaultPrefix,
	}
}

// Validate checks the policy for values the limiter cannot work with.
func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive (got %d)", p.MaxRequests)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("window must be at least 1ms (got %s)", p.Window)
	}
	return nil
}

// withDefaults fills zero fields from def.
func (p Policy) withDefaults(def Policy) Policy {
	if p.MaxRequests <= 0 {
		p.MaxRequests = def.MaxRequests
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.Prefix == "" {
		p.Prefix = def.Prefix
	}
	return p
}

// Key returns the window key for identifier.
func (p Policy) Key(identifier string) string {
	return windowKey(p.Prefix, identifier)
}

func windowKey(prefix, identifier string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":" + identifier
}

// Config holds the limiter settings loaded from configuration.
type Config struct {
	// Default is the policy used by Allow and for zero Policy fields.
	Default Policy `koanf:"default"`

	// FailClosed denies requests while the store is unreachable instead of
	// letting them through unmetered.
	FailClosed bool `koanf:"failclosed"`

	// Atomic runs each check as one server-side script, making the quota
	// exact under concurrency at the cost of scripting support.
	Atomic bool `koanf:"atomic"`
}

// DefaultConfig returns the fail-open, pipelined default configuration.
func DefaultConfig() Config {
	return Config{Default: DefaultPolicy()}
}

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Limit is the policy's MaxRequests.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the window, or
	// RemainingUnknown when the store was unavailable.
	Remaining int `json:"remaining"`

	// ResetTime is when the window frees up a slot.
	ResetTime time.Time `json:"resetTime"`

	// RetryAfter is the number of whole seconds to wait, set on denials.
	RetryAfter int `json:"retryAfter,omitempty"`
}

// Unknown reports whether the result was produced without the store.
func (r Result) Unknown() bool {
	return r.Remaining == RemainingUnknown
}

// retryAfterSeconds rounds the wait between nowMs and resetMs up to seconds.
func retryAfterSeconds(nowMs, resetMs int64) int {
	diff := resetMs - nowMs
	if diff <= 0 {
		return 0
	}
	return int((diff + 999) / 1000)
}
