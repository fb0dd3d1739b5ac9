package invalidate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/sitecache/pkg/ratelimit"
	"github.com/Sternrassler/sitecache/pkg/session"
	"github.com/Sternrassler/sitecache/pkg/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DeleteChunkSize bounds the number of keys in one DEL command.
	DeleteChunkSize = 500

	// DefaultConcurrency is the number of DEL commands in flight at once.
	DefaultConcurrency = 4
)

// Stats holds key counts per namespace.
type Stats struct {
	TotalAPIKeys  int                  `json:"totalApiKeys"`
	Groups        map[string]int       `json:"groups"`
	RateLimitKeys int                  `json:"rateLimitKeys"`
	SessionKeys   map[session.Type]int `json:"sessionKeys"`
}

// Invalidator performs namespace-wide deletes.
type Invalidator struct {
	kv              *store.KV
	logger          zerolog.Logger
	groups          map[string]Group
	concurrency     int
	rateLimitPrefix string
}

// Option configures an Invalidator.
type Option func(*Invalidator)

// WithGroups registers additional groups. A group with a built-in name
// replaces the built-in one.
func WithGroups(groups ...Group) Option {
	return func(inv *Invalidator) {
		for _, g := range groups {
			inv.groups[g.Name] = g
		}
	}
}

// WithConcurrency sets how many delete chunks run in parallel.
func WithConcurrency(n int) Option {
	return func(inv *Invalidator) {
		if n > 0 {
			inv.concurrency = n
		}
	}
}

// WithRateLimitPrefix sets the rate limit namespace counted by Statistics.
func WithRateLimitPrefix(prefix string) Option {
	return func(inv *Invalidator) {
		if prefix != "" {
			inv.rateLimitPrefix = prefix
		}
	}
}

// New creates an Invalidator with the built-in groups.
func New(kv *store.KV, logger zerolog.Logger, opts ...Option) *Invalidator {
	if kv == nil {
		panic("store accessors cannot be nil")
	}
	inv := &Invalidator{
		kv:              kv,
		logger:          logger,
		groups:          make(map[string]Group),
		concurrency:     DefaultConcurrency,
		rateLimitPrefix: ratelimit.DefaultPrefix,
	}
	for _, g := range DefaultGroups() {
		inv.groups[g.Name] = g
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Group looks up a registered group by name.
func (inv *Invalidator) Group(name string) (Group, bool) {
	g, ok := inv.groups[name]
	return g, ok
}

// Groups returns the registered groups sorted by name.
func (inv *Invalidator) Groups() []Group {
	names := groupNames(inv.groups)
	out := make([]Group, 0, len(names))
	for _, name := range names {
		out = append(out, inv.groups[name])
	}
	return out
}

// InvalidateGroup deletes every key matching g.Pattern and returns the number
// of keys removed.
func (inv *Invalidator) InvalidateGroup(ctx context.Context, g Group) int64 {
	start := time.Now()

	keys := inv.kv.Keys(ctx, g.Pattern)
	if len(keys) == 0 {
		inv.logger.Info().Str("group", g.Name).Str("pattern", g.Pattern).Msg("No cache keys to invalidate")
		return 0
	}

	deleted := inv.deleteAll(ctx, keys)
	InvalidatedKeys.WithLabelValues(g.Name).Add(float64(deleted))

	inv.logger.Info().
		Str("group", g.Name).
		Str("pattern", g.Pattern).
		Int("matched", len(keys)).
		Int64("deleted", deleted).
		Dur("duration", time.Since(start)).
		Msg("Cache group invalidated")
	return deleted
}

// InvalidateByName invalidates a registered group.
func (inv *Invalidator) InvalidateByName(ctx context.Context, name string) (int64, error) {
	g, ok := inv.groups[name]
	if !ok {
		return 0, fmt.Errorf("unknown cache group %q", name)
	}
	return inv.InvalidateGroup(ctx, g), nil
}

// InvalidateProjects clears the projects group.
func (inv *Invalidator) InvalidateProjects(ctx context.Context) int64 {
	return inv.InvalidateGroup(ctx, Projects)
}

// InvalidateServices clears the services group.
func (inv *Invalidator) InvalidateServices(ctx context.Context) int64 {
	return inv.InvalidateGroup(ctx, Services)
}

// InvalidateBlog clears the blog group.
func (inv *Invalidator) InvalidateBlog(ctx context.Context) int64 {
	return inv.InvalidateGroup(ctx, Blog)
}

// InvalidateTestimonials clears the testimonials group.
func (inv *Invalidator) InvalidateTestimonials(ctx context.Context) int64 {
	return inv.InvalidateGroup(ctx, Testimonials)
}

// InvalidateTeam clears the team group.
func (inv *Invalidator) InvalidateTeam(ctx context.Context) int64 {
	return inv.InvalidateGroup(ctx, Team)
}

// InvalidateAllAPICaches deletes every request cache key, grouped or not.
func (inv *Invalidator) InvalidateAllAPICaches(ctx context.Context) int64 {
	return inv.InvalidateGroup(ctx, Group{Name: "all", Pattern: allAPIPattern})
}

// AllAPICacheKeys lists every request cache key.
func (inv *Invalidator) AllAPICacheKeys(ctx context.Context) []string {
	return inv.kv.Keys(ctx, allAPIPattern)
}

// InvalidateSpecific deletes one exact key (prefix included). It reports
// whether the key existed.
func (inv *Invalidator) InvalidateSpecific(ctx context.Context, fullKey string) bool {
	deleted := inv.kv.Del(ctx, fullKey) > 0
	inv.logger.Info().Str("key", fullKey).Bool("deleted", deleted).Msg("Cache key invalidated")
	return deleted
}

// Statistics counts keys per namespace and publishes the counts as gauges.
// Like every listing it scans the keyspace; keep it off request paths.
func (inv *Invalidator) Statistics(ctx context.Context) Stats {
	stats := Stats{
		TotalAPIKeys:  len(inv.kv.Keys(ctx, allAPIPattern)),
		Groups:        make(map[string]int, len(inv.groups)),
		RateLimitKeys: len(inv.kv.Keys(ctx, inv.rateLimitPrefix+":*")),
		SessionKeys:   make(map[session.Type]int, len(session.Types)),
	}
	CacheKeys.WithLabelValues("api").Set(float64(stats.TotalAPIKeys))
	CacheKeys.WithLabelValues(inv.rateLimitPrefix).Set(float64(stats.RateLimitKeys))

	for name, g := range inv.groups {
		n := len(inv.kv.Keys(ctx, g.Pattern))
		stats.Groups[name] = n
		CacheKeys.WithLabelValues("api:" + name).Set(float64(n))
	}
	for _, t := range session.Types {
		n := len(inv.kv.Keys(ctx, session.KeyPrefix+":"+string(t)+":*"))
		stats.SessionKeys[t] = n
		CacheKeys.WithLabelValues(session.KeyPrefix + ":" + string(t)).Set(float64(n))
	}

	inv.logger.Debug().
		Int("api_keys", stats.TotalAPIKeys).
		Int("rate_limit_keys", stats.RateLimitKeys).
		Msg("Cache statistics collected")
	return stats
}

// deleteAll removes keys in chunks, running up to inv.concurrency chunks
// at once.
func (inv *Invalidator) deleteAll(ctx context.Context, keys []string) int64 {
	var deleted atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(inv.concurrency)
	for start := 0; start < len(keys); start += DeleteChunkSize {
		end := min(start+DeleteChunkSize, len(keys))
		chunk := keys[start:end]
		g.Go(func() error {
			deleted.Add(inv.kv.Del(ctx, chunk...))
			return nil
		})
	}
	_ = g.Wait()

	return deleted.Load()
}
