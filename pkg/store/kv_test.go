package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/Sternrassler/sitecache/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type project struct {
	Slug   string   `json:"slug"`
	Title  string   `json:"title"`
	Tags   []string `json:"tags"`
	Active bool     `json:"active"`
}

func newTestKV(t *testing.T) (*miniredis.Miniredis, *KV) {
	t.Helper()

	mr, url := testutil.NewMiniredis(t)
	m, err := NewManager(testConfig(url), testutil.QuietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return mr, NewKV(m, testutil.QuietLogger())
}

func newUnreachableKV(t *testing.T) *KV {
	t.Helper()

	cfg := testConfig(testutil.UnreachableURL(t))
	cfg.MaxRetries = 0
	cfg.FailFastWindow = time.Minute
	m, err := NewManager(cfg, testutil.QuietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return NewKV(m, testutil.QuietLogger())
}

func newMockKV(t *testing.T) (redismock.ClientMock, *KV) {
	t.Helper()

	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	m, err := NewManager(testConfig(DefaultURL), testutil.QuietLogger(),
		WithClientFactory(func(*redis.Options) *redis.Client { return db }))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return mock, NewKV(m, testutil.QuietLogger())
}

func TestNewKV_Panic(t *testing.T) {
	assert.Panics(t, func() { NewKV(nil, testutil.QuietLogger()) })
}

func TestKV_SetAndGet(t *testing.T) {
	_, kv := newTestKV(t)
	ctx := context.Background()

	want := []project{
		{Slug: "harbor", Title: "Harbor Redesign", Tags: []string{"web", "brand"}, Active: true},
		{Slug: "atlas", Title: "Atlas", Tags: []string{}, Active: false},
	}
	require.True(t, kv.Set(ctx, "api:projects:all", want, time.Minute))

	got, ok := Get[[]project](ctx, kv, "api:projects:all")
	require.True(t, ok)
	assert.Equal(t, want, got)

	counts := map[string]int{"projects": 2, "posts": 0}
	require.True(t, kv.Set(ctx, "api:counts", counts, 0))
	gotCounts, ok := Get[map[string]int](ctx, kv, "api:counts")
	require.True(t, ok)
	assert.Equal(t, counts, gotCounts)

	require.True(t, kv.Set(ctx, "api:flag", true, 0))
	flag, ok := Get[bool](ctx, kv, "api:flag")
	require.True(t, ok)
	assert.True(t, flag)
}

func TestKV_Get_Miss(t *testing.T) {
	_, kv := newTestKV(t)

	got, ok := Get[project](context.Background(), kv, "api:projects:missing")
	assert.False(t, ok)
	assert.Equal(t, project{}, got)
}

func TestKV_TTLProperty(t *testing.T) {
	mr, kv := newTestKV(t)
	ctx := context.Background()

	require.True(t, kv.Set(ctx, "api:projects:active", "cached", 10*time.Second))

	mr.FastForward(9 * time.Second)
	_, ok := Get[string](ctx, kv, "api:projects:active")
	assert.True(t, ok, "value must survive until its TTL elapses")

	mr.FastForward(2 * time.Second)
	_, ok = Get[string](ctx, kv, "api:projects:active")
	assert.False(t, ok, "value must be gone after its TTL")
}

func TestKV_TTL(t *testing.T) {
	_, kv := newTestKV(t)
	ctx := context.Background()

	require.True(t, kv.Set(ctx, "with-ttl", 1, time.Minute))
	require.True(t, kv.Set(ctx, "no-ttl", 1, 0))

	assert.Equal(t, int64(60), kv.TTL(ctx, "with-ttl"))
	assert.Equal(t, TTLNoExpiry, kv.TTL(ctx, "no-ttl"))
	assert.Equal(t, TTLMissing, kv.TTL(ctx, "missing"))
}

func TestKV_DelExistsExpire(t *testing.T) {
	_, kv := newTestKV(t)
	ctx := context.Background()

	require.True(t, kv.Set(ctx, "a", 1, 0))
	require.True(t, kv.Set(ctx, "b", 2, 0))

	assert.True(t, kv.Exists(ctx, "a"))
	assert.False(t, kv.Exists(ctx, "c"))

	assert.True(t, kv.Expire(ctx, "a", 30*time.Second))
	assert.Equal(t, int64(30), kv.TTL(ctx, "a"))
	assert.False(t, kv.Expire(ctx, "c", time.Second), "expire on a missing key")

	assert.Equal(t, int64(2), kv.Del(ctx, "a", "b", "c"))
	assert.Equal(t, int64(0), kv.Del(ctx))
	assert.False(t, kv.Exists(ctx, "a"))
}

func TestKV_Keys(t *testing.T) {
	_, kv := newTestKV(t)
	ctx := context.Background()

	for _, key := range []string{"api:projects:active", "api:projects:all", "api:blog:page=1", "session:form:abc"} {
		require.True(t, kv.Set(ctx, key, "x", 0))
	}

	keys := kv.Keys(ctx, "api:projects:*")
	sort.Strings(keys)
	assert.Equal(t, []string{"api:projects:active", "api:projects:all"}, keys)

	assert.Empty(t, kv.Keys(ctx, "rate-limit:*"))
}

func TestKV_Modify(t *testing.T) {
	ctx := context.Background()

	t.Run("rewrites_existing", func(t *testing.T) {
		mr, kv := newTestKV(t)
		require.True(t, kv.Set(ctx, "api:projects:p1", project{Slug: "p1", Title: "Old"}, time.Minute))

		ok := Modify(ctx, kv, "api:projects:p1", 2*time.Minute, func(p *project) bool {
			p.Title = "New"
			return true
		})
		require.True(t, ok)

		got, found := Get[project](ctx, kv, "api:projects:p1")
		require.True(t, found)
		assert.Equal(t, "New", got.Title)
		assert.Equal(t, 2*time.Minute, mr.TTL("api:projects:p1"))
	})

	t.Run("missing_key_not_created", func(t *testing.T) {
		mr, kv := newTestKV(t)

		called := false
		ok := Modify(ctx, kv, "api:projects:gone", time.Minute, func(*project) bool {
			called = true
			return true
		})
		assert.False(t, ok)
		assert.False(t, called)
		assert.False(t, mr.Exists("api:projects:gone"))
	})

	t.Run("declined_leaves_value", func(t *testing.T) {
		mr, kv := newTestKV(t)
		require.True(t, kv.Set(ctx, "k", project{Slug: "p1"}, time.Minute))

		ok := Modify(ctx, kv, "k", time.Hour, func(p *project) bool {
			p.Slug = "changed"
			return false
		})
		assert.False(t, ok)
		got, _ := Get[project](ctx, kv, "k")
		assert.Equal(t, "p1", got.Slug)
		assert.Equal(t, time.Minute, mr.TTL("k"))
	})

	t.Run("delete_between_read_and_write", func(t *testing.T) {
		mr, kv := newTestKV(t)
		require.True(t, kv.Set(ctx, "session:form:s1", project{Slug: "s1"}, time.Minute))

		calls := 0
		ok := Modify(ctx, kv, "session:form:s1", time.Hour, func(p *project) bool {
			calls++
			mr.Del("session:form:s1")
			p.Active = true
			return true
		})
		assert.False(t, ok)
		assert.Equal(t, 1, calls)
		assert.False(t, mr.Exists("session:form:s1"), "a deleted key must stay deleted")
	})

	t.Run("write_between_read_and_write", func(t *testing.T) {
		_, kv := newTestKV(t)
		require.True(t, kv.Set(ctx, "k", project{Slug: "p1"}, time.Minute))

		calls := 0
		ok := Modify(ctx, kv, "k", time.Minute, func(p *project) bool {
			calls++
			if calls == 1 {
				require.True(t, kv.Set(ctx, "k", project{Slug: "p1", Tags: []string{"go"}}, time.Minute))
			}
			p.Active = true
			return true
		})
		require.True(t, ok)
		assert.Equal(t, 2, calls, "the conflicting cycle must restart")

		got, _ := Get[project](ctx, kv, "k")
		assert.Equal(t, project{Slug: "p1", Tags: []string{"go"}, Active: true}, got)
	})

	t.Run("corrupt_value", func(t *testing.T) {
		mr, kv := newTestKV(t)
		require.NoError(t, mr.Set("corrupt", "{not json"))

		assert.False(t, Modify(ctx, kv, "corrupt", time.Minute, func(*project) bool { return true }))
		v, _ := mr.Get("corrupt")
		assert.Equal(t, "{not json", v)
	})
}

func TestKV_SerializationErrors(t *testing.T) {
	mr, kv := newTestKV(t)
	ctx := context.Background()

	assert.False(t, kv.Set(ctx, "bad", make(chan int), 0), "channels cannot be JSON encoded")
	assert.False(t, mr.Exists("bad"))

	require.NoError(t, mr.Set("corrupt", "{not json"))
	_, ok := Get[project](ctx, kv, "corrupt")
	assert.False(t, ok)
}

func TestKV_UnreachableStoreDefaults(t *testing.T) {
	kv := newUnreachableKV(t)
	ctx := context.Background()

	_, ok := Get[string](ctx, kv, "k")
	assert.False(t, ok)
	assert.False(t, kv.Set(ctx, "k", "v", time.Minute))
	assert.Equal(t, int64(0), kv.Del(ctx, "k"))
	assert.False(t, kv.Exists(ctx, "k"))
	assert.False(t, kv.Expire(ctx, "k", time.Minute))
	assert.Equal(t, TTLMissing, kv.TTL(ctx, "k"))
	assert.Nil(t, kv.Keys(ctx, "*"))
	assert.False(t, Modify(ctx, kv, "k", time.Minute, func(*string) bool { return true }))
}

func TestKV_OperationErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("ERR something broke")

	t.Run("get", func(t *testing.T) {
		mock, kv := newMockKV(t)
		mock.ExpectGet("k").SetErr(boom)

		_, ok := Get[string](ctx, kv, "k")
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set", func(t *testing.T) {
		mock, kv := newMockKV(t)
		mock.ExpectSet("k", []byte(`"v"`), time.Minute).SetErr(boom)

		assert.False(t, kv.Set(ctx, "k", "v", time.Minute))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("del", func(t *testing.T) {
		mock, kv := newMockKV(t)
		mock.ExpectDel("a", "b").SetErr(boom)

		assert.Equal(t, int64(0), kv.Del(ctx, "a", "b"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ttl", func(t *testing.T) {
		mock, kv := newMockKV(t)
		mock.ExpectTTL("k").SetErr(boom)

		assert.Equal(t, TTLMissing, kv.TTL(ctx, "k"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exists", func(t *testing.T) {
		mock, kv := newMockKV(t)
		mock.ExpectExists("k").SetErr(boom)

		assert.False(t, kv.Exists(ctx, "k"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
