package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/sitecache/pkg/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limiting.
var (
	rateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitecache_ratelimit_decisions_total",
		Help: "Total number of rate limit decisions by outcome",
	}, []string{"decision"}) // "allowed", "denied", "fail_open", "fail_closed"

	rateLimitResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitecache_ratelimit_resets_total",
		Help: "Total number of rate limit windows deleted by resets",
	})
)

// Limiter is a sliding-window rate limiter shared across processes through
// the store.
//
// In the default pipelined mode trim+count and insert are two round trips,
// so concurrent checks for the same identifier can overshoot the limit
// slightly. Use WithAtomic for an exact quota.
type Limiter struct {
	conns      store.Conner
	logger     zerolog.Logger
	now        func() time.Time
	policy     Policy
	failClosed bool
	atomic     bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithDefaultPolicy sets the policy used by Allow and for zero Policy fields.
func WithDefaultPolicy(p Policy) Option {
	return func(l *Limiter) { l.policy = p.withDefaults(DefaultPolicy()) }
}

// WithFailClosed makes the limiter deny requests while the store is
// unreachable. The default is to fail open.
func WithFailClosed(failClosed bool) Option {
	return func(l *Limiter) { l.failClosed = failClosed }
}

// WithAtomic runs every check as a single server-side script.
func WithAtomic(atomic bool) Option {
	return func(l *Limiter) { l.atomic = atomic }
}

// WithConfig applies a loaded Config.
func WithConfig(cfg Config) Option {
	return func(l *Limiter) {
		WithDefaultPolicy(cfg.Default)(l)
		l.failClosed = cfg.FailClosed
		l.atomic = cfg.Atomic
	}
}

// New creates a rate limiter.
func New(conns store.Conner, logger zerolog.Logger, opts ...Option) *Limiter {
	if conns == nil {
		panic("store connection manager cannot be nil")
	}
	l := &Limiter{
		conns:  conns,
		logger: logger,
		now:    time.Now,
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow checks identifier against the default policy.
func (l *Limiter) Allow(ctx context.Context, identifier string) Result {
	return l.Check(ctx, identifier, l.policy)
}

// Check counts one request for identifier and decides whether it may
// proceed. A denied request is not recorded.
func (l *Limiter) Check(ctx context.Context, identifier string, policy Policy) Result {
	policy = policy.withDefaults(l.policy)
	key := policy.Key(identifier)
	now := l.now()

	client, err := l.conns.Conn(ctx)
	if err != nil {
		return l.degraded(key, policy, now, err)
	}

	var result Result
	if l.atomic {
		result, err = l.checkScript(ctx, client, key, policy, now)
	} else {
		result, err = l.checkPipelined(ctx, client, key, policy, now)
	}
	if err != nil {
		return l.degraded(key, policy, now, err)
	}

	if result.Allowed {
		rateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
		l.logger.Debug().
			Str("key", key).
			Int("remaining", result.Remaining).
			Msg("Rate limit check passed")
	} else {
		rateLimitDecisionsTotal.WithLabelValues("denied").Inc()
		l.logger.Info().
			Str("key", key).
			Int("limit", result.Limit).
			Int("retry_after", result.RetryAfter).
			Msg("Rate limit exceeded - denying request")
	}
	return result
}

func (l *Limiter) checkPipelined(ctx context.Context, client *redis.Client, key string, policy Policy, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	windowMs := policy.Window.Milliseconds()
	windowStart := nowMs - windowMs

	// Trim everything older than the window, then count what is left
	pipe := client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(windowStart, 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("trim window: %w", err)
	}
	count := int(card.Val())

	if count >= policy.MaxRequests {
		resetMs := nowMs + windowMs
		oldest, err := client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return Result{}, fmt.Errorf("read oldest request: %w", err)
		}
		if len(oldest) > 0 {
			resetMs = int64(oldest[0].Score) + windowMs
		}
		return denied(policy, nowMs, resetMs), nil
	}

	pipe = client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: newToken(nowMs)})
	pipe.PExpire(ctx, key, policy.Window+expiryBuffer)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("record request: %w", err)
	}

	return Result{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - count - 1,
		ResetTime: time.UnixMilli(nowMs + windowMs),
	}, nil
}

func (l *Limiter) checkScript(ctx context.Context, client *redis.Client, key string, policy Policy, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	windowMs := policy.Window.Milliseconds()
	windowStart := nowMs - windowMs

	reply, err := slidingWindowScript.Run(ctx, client, []string{key},
		nowMs,
		"("+strconv.FormatInt(windowStart, 10),
		windowMs,
		policy.MaxRequests,
		newToken(nowMs),
		(policy.Window + expiryBuffer).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run sliding window script: %w", err)
	}
	if len(reply) != 3 {
		return Result{}, fmt.Errorf("sliding window script returned %d values, want 3", len(reply))
	}

	allowed, count, resetMs := reply[0] == 1, int(reply[1]), reply[2]
	if !allowed {
		return denied(policy, nowMs, resetMs), nil
	}
	return Result{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - count - 1,
		ResetTime: time.UnixMilli(resetMs),
	}, nil
}

// Status reports the current window for identifier without counting a
// request.
func (l *Limiter) Status(ctx context.Context, identifier string, policy Policy) Result {
	policy = policy.withDefaults(l.policy)
	key := policy.Key(identifier)
	now := l.now()
	nowMs := now.UnixMilli()
	windowMs := policy.Window.Milliseconds()
	windowStart := strconv.FormatInt(nowMs-windowMs, 10)

	client, err := l.conns.Conn(ctx)
	if err != nil {
		return l.unknown(key, policy, now, err)
	}

	count64, err := client.ZCount(ctx, key, windowStart, "+inf").Result()
	if err != nil {
		return l.unknown(key, policy, now, err)
	}
	count := int(count64)

	resetMs := nowMs + windowMs
	if count > 0 {
		oldest, err := client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min:   windowStart,
			Max:   "+inf",
			Count: 1,
		}).Result()
		if err != nil {
			return l.unknown(key, policy, now, err)
		}
		if len(oldest) > 0 {
			resetMs = int64(oldest[0].Score) + windowMs
		}
	}

	if count >= policy.MaxRequests {
		return denied(policy, nowMs, resetMs)
	}
	return Result{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - count,
		ResetTime: time.UnixMilli(resetMs),
	}
}

// Reset deletes the window of identifier. It returns false when there was
// none or the store is unreachable.
func (l *Limiter) Reset(ctx context.Context, identifier, prefix string) bool {
	return l.BatchReset(ctx, []string{identifier}, prefix) > 0
}

// BatchReset deletes the windows of several identifiers and returns how many
// existed.
func (l *Limiter) BatchReset(ctx context.Context, identifiers []string, prefix string) int64 {
	if len(identifiers) == 0 {
		return 0
	}
	if prefix == "" {
		prefix = l.policy.Prefix
	}

	keys := make([]string, len(identifiers))
	for i, id := range identifiers {
		keys[i] = windowKey(prefix, id)
	}

	client, err := l.conns.Conn(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Int("identifiers", len(identifiers)).Msg("Rate limit reset failed")
		return 0
	}

	n, err := client.Del(ctx, keys...).Result()
	if err != nil {
		l.logger.Warn().Err(err).Int("identifiers", len(identifiers)).Msg("Rate limit reset failed")
		return 0
	}

	rateLimitResetsTotal.Add(float64(n))
	l.logger.Info().
		Str("prefix", prefix).
		Int("identifiers", len(identifiers)).
		Int64("deleted", n).
		Msg("Rate limit windows reset")
	return n
}

// degraded is the decision taken when the store could not be consulted.
func (l *Limiter) degraded(key string, policy Policy, now time.Time, err error) Result {
	if l.failClosed {
		rateLimitDecisionsTotal.WithLabelValues("fail_closed").Inc()
		l.logger.Warn().Str("key", key).Err(err).Msg("Rate limit store unavailable - failing closed")

		nowMs := now.UnixMilli()
		return denied(policy, nowMs, nowMs+policy.Window.Milliseconds())
	}

	rateLimitDecisionsTotal.WithLabelValues("fail_open").Inc()
	l.logger.Warn().Str("key", key).Err(err).Msg("Rate limit store unavailable - failing open")
	return l.unknownResult(policy, now)
}

// unknown is the status reported when the store could not be consulted.
func (l *Limiter) unknown(key string, policy Policy, now time.Time, err error) Result {
	l.logger.Warn().Str("key", key).Err(err).Msg("Rate limit status unavailable")
	if l.failClosed {
		nowMs := now.UnixMilli()
		return denied(policy, nowMs, nowMs+policy.Window.Milliseconds())
	}
	return l.unknownResult(policy, now)
}

func (l *Limiter) unknownResult(policy Policy, now time.Time) Result {
	return Result{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: RemainingUnknown,
		ResetTime: now.Add(policy.Window),
	}
}

func denied(policy Policy, nowMs, resetMs int64) Result {
	return Result{
		Allowed:    false,
		Limit:      policy.MaxRequests,
		Remaining:  0,
		ResetTime:  time.UnixMilli(resetMs),
		RetryAfter: retryAfterSeconds(nowMs, resetMs),
	}
}

// newToken returns a window member unique even for equal timestamps.
func newToken(nowMs int64) string {
	return strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
}
