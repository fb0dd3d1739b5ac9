//go:build integration

package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/sitecache/internal/testutil"
	"github.com/Sternrassler/sitecache/pkg/store"
	"github.com/rs/zerolog"
)

// setupRedis starts a Redis container and returns a limiter backed by it.
func setupRedis(t *testing.T, opts ...Option) (*store.Manager, *Limiter) {
	t.Helper()

	cfg := store.DefaultConfig()
	cfg.URL = testutil.StartRedisContainer(t)

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	manager, err := store.NewManager(cfg, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	return manager, New(manager, logger, opts...)
}

func TestLimiter_Integration_SlidingWindow(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			_, limiter := setupRedis(t, WithAtomic(mode.atomic))
			ctx := context.Background()
			policy := Policy{MaxRequests: 3, Window: time.Second}

			for i := 0; i < 3; i++ {
				if result := limiter.Check(ctx, "1.2.3.4", policy); !result.Allowed {
					t.Fatalf("request %d denied, want allowed", i+1)
				}
			}

			denied := limiter.Check(ctx, "1.2.3.4", policy)
			if denied.Allowed {
				t.Fatal("4th request allowed, want denied")
			}
			if denied.RetryAfter < 0 || denied.RetryAfter > 1 {
				t.Errorf("RetryAfter = %d, want 0..1", denied.RetryAfter)
			}

			time.Sleep(1100 * time.Millisecond)

			if result := limiter.Check(ctx, "1.2.3.4", policy); !result.Allowed {
				t.Error("request after the window denied, want allowed")
			}
		})
	}
}

func TestLimiter_Integration_WindowKeyExpires(t *testing.T) {
	manager, limiter := setupRedis(t)
	ctx := context.Background()

	limiter.Check(ctx, "visitor", Policy{MaxRequests: 5, Window: 2 * time.Second})

	client, err := manager.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn() error = %v", err)
	}

	ttl, err := client.PTTL(ctx, "rate-limit:visitor").Result()
	if err != nil {
		t.Fatalf("PTTL() error = %v", err)
	}
	if ttl <= 2*time.Second || ttl > 3*time.Second {
		t.Errorf("PTTL = %v, want window plus buffer", ttl)
	}
}

func TestLimiter_Integration_AtomicExactQuota(t *testing.T) {
	_, limiter := setupRedis(t, WithAtomic(true))
	policy := Policy{MaxRequests: 25, Window: time.Minute}

	var mu sync.Mutex
	allowed := 0

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Check(context.Background(), "burst", policy).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != policy.MaxRequests {
		t.Errorf("allowed = %d, want exactly %d", allowed, policy.MaxRequests)
	}
}
