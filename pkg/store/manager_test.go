package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/sitecache/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.RetryStep = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond
	cfg.FailFastWindow = 0
	return cfg
}

// countingFactory wraps redis.NewClient and counts how often it is called.
func countingFactory(calls *atomic.Int32) Option {
	return WithClientFactory(func(opts *redis.Options) *redis.Client {
		calls.Add(1)
		return redis.NewClient(opts)
	})
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 0

	_, err := NewManager(cfg, testutil.QuietLogger())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.URL = "redis://localhost:6379/not-a-db"
	_, err = NewManager(cfg, testutil.QuietLogger())
	assert.Error(t, err)
}

func TestNewManager_DoesNotDial(t *testing.T) {
	var calls atomic.Int32
	m, err := NewManager(testConfig(testutil.UnreachableURL(t)), testutil.QuietLogger(), countingFactory(&calls))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, int32(0), calls.Load())
}

func TestManager_Conn_ReusesOpenConnection(t *testing.T) {
	_, url := testutil.NewMiniredis(t)

	var calls atomic.Int32
	m, err := NewManager(testConfig(url), testutil.QuietLogger(), countingFactory(&calls))
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	first, err := m.Conn(ctx)
	require.NoError(t, err)
	second, err := m.Conn(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_Conn_ConcurrentFirstUse(t *testing.T) {
	_, url := testutil.NewMiniredis(t)

	var calls atomic.Int32
	m, err := NewManager(testConfig(url), testutil.QuietLogger(), countingFactory(&calls))
	require.NoError(t, err)
	defer m.Close()

	const callers = 50
	clients := make([]*redis.Client, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i], errs[i] = m.Conn(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, clients[0], clients[i])
	}
	assert.Equal(t, int32(1), calls.Load(), "only one connect attempt may run")
}

func TestManager_Conn_ExhaustsRetries(t *testing.T) {
	var events []Event
	var mu sync.Mutex
	listener := func(e Event, _ error) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	m, err := NewManager(testConfig(testutil.UnreachableURL(t)), testutil.QuietLogger(), WithListener(listener))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Conn(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.True(t, IsConnectionError(err))

	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 3, cerr.Attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Event{EventReconnecting, EventReconnecting, EventError}, events)
}

func TestManager_Conn_FailFastWindow(t *testing.T) {
	cfg := testConfig(testutil.UnreachableURL(t))
	cfg.MaxRetries = 0
	cfg.FailFastWindow = time.Hour

	var calls atomic.Int32
	m, err := NewManager(cfg, testutil.QuietLogger(), countingFactory(&calls))
	require.NoError(t, err)
	defer m.Close()

	_, first := m.Conn(context.Background())
	require.Error(t, first)

	_, second := m.Conn(context.Background())
	require.Error(t, second)
	assert.Same(t, first, second, "fail-fast returns the cached error")
	assert.Equal(t, int32(1), calls.Load())

	// Window over: the next call starts a new cycle.
	m.mu.Lock()
	m.failedAt = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()

	_, third := m.Conn(context.Background())
	require.Error(t, third)
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_Conn_RecoversAfterOutage(t *testing.T) {
	mr, url := testutil.NewMiniredis(t)

	closed := make(chan struct{}, 1)
	listener := func(e Event, _ error) {
		if e == EventClosed {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
	}

	m, err := NewManager(testConfig(url), testutil.QuietLogger(), WithListener(listener))
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	first, err := m.Conn(ctx)
	require.NoError(t, err)

	mr.Close()
	require.Error(t, first.Set(ctx, "k", "v", 0).Err())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected closed event after transport error")
	}

	require.NoError(t, mr.Restart())

	second, err := m.Conn(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NoError(t, second.Ping(ctx).Err())
}

func TestManager_Conn_CallerContext(t *testing.T) {
	cfg := testConfig(testutil.UnreachableURL(t))
	cfg.MaxRetries = 50
	cfg.RetryStep = 50 * time.Millisecond
	cfg.MaxRetryDelay = 50 * time.Millisecond

	m, err := NewManager(cfg, testutil.QuietLogger())
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Conn(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_Close(t *testing.T) {
	_, url := testutil.NewMiniredis(t)

	m, err := NewManager(testConfig(url), testutil.QuietLogger())
	require.NoError(t, err)

	_, err = m.Conn(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "Close is idempotent")

	_, err = m.Conn(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConfig_Options(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAddr string
		wantDB   int
	}{
		{name: "default", url: "", wantAddr: "localhost:6379"},
		{name: "host_port", url: "cache.internal:6380", wantAddr: "cache.internal:6380"},
		{name: "url_with_db", url: "redis://cache.internal:6379/3", wantAddr: "cache.internal:6379", wantDB: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.URL = tt.url

			opts, err := cfg.Options()
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, opts.Addr)
			assert.Equal(t, tt.wantDB, opts.DB)
			assert.Equal(t, cfg.ConnectTimeout, opts.DialTimeout)
		})
	}
}

func TestConfig_RetryDelay(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100*time.Millisecond, cfg.retryDelay(1))
	assert.Equal(t, 500*time.Millisecond, cfg.retryDelay(5))
	assert.Equal(t, 3*time.Second, cfg.retryDelay(100))
}
