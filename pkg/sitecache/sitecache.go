// Package sitecache wires the store connection, request cache, rate limiter,
// session cache and invalidation utilities into one Layer.
//
// Handlers receive the Layer (or the component they need) explicitly; there
// is no package-level connection.
package sitecache

import (
	"context"
	"fmt"

	"github.com/Sternrassler/sitecache/pkg/cache"
	"github.com/Sternrassler/sitecache/pkg/config"
	"github.com/Sternrassler/sitecache/pkg/invalidate"
	"github.com/Sternrassler/sitecache/pkg/logging"
	"github.com/Sternrassler/sitecache/pkg/ratelimit"
	"github.com/Sternrassler/sitecache/pkg/session"
	"github.com/Sternrassler/sitecache/pkg/store"
	"github.com/rs/zerolog"
)

// Layer holds every component sharing one store connection.
type Layer struct {
	Store       *store.Manager
	KV          *store.KV
	Cache       *cache.Cache
	Limiter     *ratelimit.Limiter
	Sessions    *session.Store
	Invalidator *invalidate.Invalidator

	logger zerolog.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	storeOpts   []store.Option
	limiterOpts []ratelimit.Option
	sessionOpts []session.Option
	inval       []invalidate.Option
}

// WithStoreOptions passes options to the connection manager.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *options) { o.storeOpts = append(o.storeOpts, opts...) }
}

// WithLimiterOptions passes options to the rate limiter.
func WithLimiterOptions(opts ...ratelimit.Option) Option {
	return func(o *options) { o.limiterOpts = append(o.limiterOpts, opts...) }
}

// WithSessionOptions passes options to the session cache.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// WithInvalidatorOptions passes options to the invalidator.
func WithInvalidatorOptions(opts ...invalidate.Option) Option {
	return func(o *options) { o.inval = append(o.inval, opts...) }
}

// New builds a Layer from cfg. It does not contact the store; the first
// operation connects lazily.
func New(cfg config.Config, logger zerolog.Logger, opts ...Option) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	manager, err := store.NewManager(cfg.Store, logging.Component(logger, logging.ComponentStore), o.storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("store manager: %w", err)
	}

	kv := store.NewKV(manager, logging.Component(logger, logging.ComponentStore))

	limiterOpts := append([]ratelimit.Option{ratelimit.WithConfig(cfg.RateLimit)}, o.limiterOpts...)
	sessionOpts := append([]session.Option{session.WithTTL(cfg.Session.TTL)}, o.sessionOpts...)
	invalOpts := append([]invalidate.Option{invalidate.WithRateLimitPrefix(cfg.RateLimit.Default.Prefix)}, o.inval...)

	return &Layer{
		Store:       manager,
		KV:          kv,
		Cache:       cache.New(kv, logging.Component(logger, logging.ComponentCache), cache.WithDefaultTTL(cfg.Cache.DefaultTTL)),
		Limiter:     ratelimit.New(manager, logging.Component(logger, logging.ComponentRateLimit), limiterOpts...),
		Sessions:    session.New(kv, logging.Component(logger, logging.ComponentSession), sessionOpts...),
		Invalidator: invalidate.New(kv, logging.Component(logger, logging.ComponentInvalidate), invalOpts...),
		logger:      logger,
	}, nil
}

// Ping connects if needed and round-trips a PING.
func (l *Layer) Ping(ctx context.Context) error {
	client, err := l.Store.Conn(ctx)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping %s: %w", l.Store.Addr(), err)
	}
	return nil
}

// Close releases the store connection. Components fail soft afterwards.
func (l *Layer) Close() error {
	l.logger.Info().Msg("Shutting down sitecache layer")
	return l.Store.Close()
}
