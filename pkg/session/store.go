package session

import (
	"context"
	"strings"
	"time"

	"github.com/Sternrassler/sitecache/pkg/store"
	"github.com/rs/zerolog"
)

// Store is the session cache.
type Store struct {
	kv     *store.KV
	logger zerolog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the sliding session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a session store.
func New(kv *store.KV, logger zerolog.Logger, opts ...Option) *Store {
	if kv == nil {
		panic("store accessors cannot be nil")
	}
	s := &Store{
		kv:     kv,
		logger: logger,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the sliding session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Set creates or replaces a session record.
func (s *Store) Set(ctx context.Context, sessionID string, t Type, data map[string]any, opts ...SetOption) bool {
	if !s.valid(sessionID, t, "set") {
		return false
	}

	now := s.now()
	if data == nil {
		data = map[string]any{}
	}
	rec := &Record{
		SessionID:    sessionID,
		Type:         t,
		Locale:       DefaultLocale,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastAccessed: now,
		Data:         data,
	}
	for _, opt := range opts {
		opt(rec)
	}

	if !s.kv.Set(ctx, Key(t, sessionID), rec, s.ttl) {
		return false
	}
	s.logger.Debug().Str("session_id", sessionID).Str("type", string(t)).Msg("Session stored")
	return true
}

// Get returns a session and slides its expiry. The bool is false when the
// session does not exist or the store is unavailable.
func (s *Store) Get(ctx context.Context, sessionID string, t Type) (*Record, bool) {
	if !s.valid(sessionID, t, "get") {
		return nil, false
	}
	return s.touch(ctx, sessionID, t, s.ttl, nil)
}

// Update merges patch into the data of an existing session and slides its
// expiry. It never creates a session: updating a missing one, or one deleted
// while the update runs, returns false.
func (s *Store) Update(ctx context.Context, sessionID string, t Type, patch map[string]any) bool {
	if !s.valid(sessionID, t, "update") {
		return false
	}

	_, ok := s.touch(ctx, sessionID, t, s.ttl, func(rec *Record) {
		if rec.Data == nil {
			rec.Data = make(map[string]any, len(patch))
		}
		for k, v := range patch {
			rec.Data[k] = v
		}
	})
	if !ok {
		s.logger.Warn().
			Str("session_id", sessionID).
			Str("type", string(t)).
			Msg("Session update skipped - session not found")
	}
	return ok
}

// Delete removes a session. It returns false when there was none.
func (s *Store) Delete(ctx context.Context, sessionID string, t Type) bool {
	if !s.valid(sessionID, t, "delete") {
		return false
	}

	deleted := s.kv.Del(ctx, Key(t, sessionID)) > 0
	s.logger.Debug().
		Str("session_id", sessionID).
		Str("type", string(t)).
		Bool("deleted", deleted).
		Msg("Session deleted")
	return deleted
}

// Extend gives an existing session a new lifetime of ttl from now.
func (s *Store) Extend(ctx context.Context, sessionID string, t Type, ttl time.Duration) bool {
	if !s.valid(sessionID, t, "extend") {
		return false
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	if _, ok := s.touch(ctx, sessionID, t, ttl, nil); !ok {
		s.logger.Warn().
			Str("session_id", sessionID).
			Str("type", string(t)).
			Msg("Session extend skipped - session not found")
		return false
	}
	return true
}

// Exists reports whether a session is stored. It does not slide the expiry.
func (s *Store) Exists(ctx context.Context, sessionID string, t Type) bool {
	if !s.valid(sessionID, t, "exists") {
		return false
	}
	return s.kv.Exists(ctx, Key(t, sessionID))
}

// IDs lists the IDs of all sessions of type t, or of every type when t is
// empty.
//
// IDs scans the whole keyspace. It is meant for debugging and admin tools
// only and must never be called on a request path.
func (s *Store) IDs(ctx context.Context, t Type) []string {
	if t != "" && !t.Valid() {
		s.logger.Warn().Str("type", string(t)).Msg("Session listing skipped - invalid type")
		return nil
	}

	keys := s.kv.Keys(ctx, pattern(t))
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		// session:<type>:<id>, the id may itself contain colons
		parts := strings.SplitN(key, ":", 3)
		if len(parts) == 3 && parts[2] != "" {
			ids = append(ids, parts[2])
		}
	}
	return ids
}

// touch applies mutate to a stored record, marks it accessed now and rewrites
// it with expiry ttl. The rewrite is conditional on nobody else writing or
// deleting the session in between, so it never brings back a deleted
// session and never drops a concurrent update.
func (s *Store) touch(ctx context.Context, sessionID string, t Type, ttl time.Duration, mutate func(*Record)) (*Record, bool) {
	var out *Record
	ok := store.Modify(ctx, s.kv, Key(t, sessionID), ttl, func(rec *Record) bool {
		if mutate != nil {
			mutate(rec)
		}
		now := s.now()
		rec.LastAccessed = now
		rec.ExpiresAt = now.Add(ttl)
		out = rec
		return true
	})
	if !ok {
		return nil, false
	}
	return out, true
}

func (s *Store) valid(sessionID string, t Type, operation string) bool {
	if sessionID == "" || !t.Valid() {
		s.logger.Warn().
			Str("operation", operation).
			Str("session_id", sessionID).
			Str("type", string(t)).
			Msg("Session operation rejected - invalid id or type")
		return false
	}
	return true
}
