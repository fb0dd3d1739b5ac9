package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TTL sentinels returned by KV.TTL.
const (
	// TTLNoExpiry means the key exists without an expiry.
	TTLNoExpiry int64 = -1

	// TTLMissing means the key does not exist or the store is unavailable.
	TTLMissing int64 = -2
)

// scanCount is the COUNT hint for SCAN iterations.
const scanCount = 200

// KV provides typed accessors over the managed connection. Every accessor
// logs and swallows its errors and returns a safe default instead.
type KV struct {
	conns  Conner
	logger zerolog.Logger
}

// NewKV creates the primitive accessors.
func NewKV(conns Conner, logger zerolog.Logger) *KV {
	if conns == nil {
		panic("store connection manager cannot be nil")
	}
	return &KV{
		conns:  conns,
		logger: logger,
	}
}

// Get reads key and decodes its JSON value into T. The bool is false on a
// miss and on any failure, which callers cannot tell apart.
func Get[T any](ctx context.Context, kv *KV, key string) (T, bool) {
	var zero T

	data, ok := kv.GetBytes(ctx, key)
	if !ok {
		return zero, false
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		kv.fail("get", key, &SerializationError{Key: key, Err: err})
		return zero, false
	}
	return value, true
}

// modifyAttempts bounds how often Modify restarts after a concurrent write.
const modifyAttempts = 3

// Modify decodes the JSON value at key, applies fn and writes the result
// back with ttl. The read and the write run under WATCH: a concurrent write
// or delete of key aborts the cycle, which restarts from the new state, so a
// deleted key is never recreated and a concurrent write is never lost. fn may
// run more than once and must only mutate the value it is given; returning
// false leaves the key untouched. The bool reports whether a value was
// written and is false on a missing key and on any failure.
func Modify[T any](ctx context.Context, kv *KV, key string, ttl time.Duration, fn func(*T) bool) bool {
	client, err := kv.conns.Conn(ctx)
	if err != nil {
		kv.fail("modify", key, err)
		return false
	}
	if ttl < 0 {
		ttl = 0
	}

	var written bool
	txf := func(tx *redis.Tx) error {
		written = false

		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var value T
		if err := json.Unmarshal(data, &value); err != nil {
			return &SerializationError{Key: key, Err: err}
		}
		if !fn(&value) {
			return nil
		}

		out, err := json.Marshal(value)
		if err != nil {
			return &SerializationError{Key: key, Err: err}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		written = true
		return nil
	}

	for attempt := 1; attempt <= modifyAttempts; attempt++ {
		err = client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		kv.logger.Debug().
			Str("key", key).
			Int("attempt", attempt).
			Msg("Concurrent write during modify, restarting")
	}
	if err != nil {
		kv.fail("modify", key, err)
		return false
	}
	return written
}

// GetBytes reads the raw value stored at key.
func (kv *KV) GetBytes(ctx context.Context, key string) ([]byte, bool) {
	client, err := kv.conns.Conn(ctx)
	if err != nil {
		kv.fail("get", key, err)
		return nil, false
	}

	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false
		}
		kv.fail("get", key, err)
		return nil, false
	}
	return data, true
}

// Set stores value as JSON. A ttl <= 0 stores the key without expiry.
func (kv *KV) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		kv.fail("set", key, &SerializationError{Key: key, Err: err})
		return false
	}

	client, err := kv.conns.Conn(ctx)
	if err != nil {
		kv.fail("set", key, err)
		return false
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := client.Set(ctx, key, data, ttl).Err(); err != nil {
		kv.fail("set", key, err)
		return false
	}
	return true
}

// Del removes keys and returns how many existed.
func (kv *KV) Del(ctx context.Context, keys ...string) int64 {
	if len(keys) == 0 {
		return 0
	}

	client, err := kv.conns.Conn(ctx)
	if err != nil {
		kv.fail("del", keys[0], err)
		return 0
	}

	n, err := client.Del(ctx, keys...).Result()
	if err != nil {
		kv.fail("del", keys[0], err)
		return 0
	}
	return n
}

// Exists reports whether key is present.
func (kv *KV) Exists(ctx context.Context, key string) bool {
	client, err := kv.conns.Conn(ctx)
	if err != nil {
		kv.fail("exists", key, err)
		return false
	}

	n, err := client.Exists(ctx, key).Result()
	if err != nil {
		kv.fail("exists", key, err)
		return false
	}
	return n > 0
}

// Expire sets the expiry of an existing key. It returns false when the key
// does not exist.
func (kv *KV) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	client, err := kv.conns.Conn(ctx)
	if err != nil {
		kv.fail("expire", key, err)
		return false
	}

	ok, err := client.Expire(ctx, key, ttl).Result()
	if err != nil {
		kv.fail("expire", key, err)
		return false
	}
	return ok
}

// TTL returns the remaining lifetime of key in whole seconds, TTLNoExpiry or
// TTLMissing.
func (kv *KV) TTL(ctx context.Context, key string) int64 {
	client, err := kv.conns.Conn(ctx)
	if err != nil {
		kv.fail("ttl", key, err)
		return TTLMissing
	}

	d, err := client.TTL(ctx, key).Result()
	if err != nil {
		kv.fail("ttl", key, err)
		return TTLMissing
	}
	// go-redis keeps the raw -1/-2 replies as nanosecond durations
	switch d {
	case time.Duration(TTLNoExpiry):
		return TTLNoExpiry
	case time.Duration(TTLMissing):
		return TTLMissing
	}
	return int64(d / time.Second)
}

// Keys lists every key matching pattern. It iterates with SCAN, so it does
// not block the store, but it still walks the whole keyspace: keep it off hot
// paths. It returns nil on failure.
func (kv *KV) Keys(ctx context.Context, pattern string) []string {
	client, err := kv.conns.Conn(ctx)
	if err != nil {
		kv.fail("keys", pattern, err)
		return nil
	}

	var keys []string
	seen := make(map[string]struct{})
	iter := client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		// SCAN may return a key more than once
		key := iter.Val()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		kv.fail("keys", pattern, err)
		return nil
	}
	return keys
}

func (kv *KV) fail(operation, key string, err error) {
	class := Classify(err)
	StoreErrors.WithLabelValues(operation, string(class)).Inc()

	kv.logger.Warn().
		Str("operation", operation).
		Str("key", key).
		Str("error_class", string(class)).
		Err(err).
		Msg("Store accessor failed, returning default")
}
