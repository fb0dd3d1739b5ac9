// Package store owns the connection to the remote key-value store (Redis)
// and exposes the primitive accessors every higher layer builds on.
//
// # Connection Manager
//
// A Manager is constructed once by the composition root and passed to the
// components that need it. It dials lazily on the first Conn call, lets
// concurrent first callers wait on the same attempt instead of starting their
// own, and retries the handshake with a capped linear backoff:
//
//	manager, err := store.NewManager(store.DefaultConfig(), logger)
//	if err != nil {
//		return err
//	}
//	defer manager.Close()
//
//	client, err := manager.Conn(ctx)
//
// When the retry budget is exhausted Conn returns a *ConnectionError. For
// Config.FailFastWindow after such a failure every call fails fast with the
// same error; the first call after the window starts a new attempt cycle.
//
// # Primitive Accessors
//
// KV wraps the connection with typed, JSON-encoding accessors that never
// return errors. Failures are logged, counted and turned into safe defaults:
//
//	kv := store.NewKV(manager, logger)
//	kv.Set(ctx, "api:projects:active", projects, time.Minute)
//	projects, ok := store.Get[[]Project](ctx, kv, "api:projects:active")
//
// A false ok means "not cached or store unavailable". Callers must treat it as
// a miss, never as an authoritative negative answer.
//
// # Metrics
//
//   - sitecache_store_events_total{event} - Connection lifecycle events
//   - sitecache_store_errors_total{operation,class} - Accessor failures
//   - sitecache_store_connect_attempts - Attempts used by the last connect cycle
package store
