package store

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Conner hands out a live store connection.
type Conner interface {
	Conn(ctx context.Context) (*redis.Client, error)
}

// Manager owns a single lazily-initialized store connection.
type Manager struct {
	cfg       Config
	opts      *redis.Options
	logger    zerolog.Logger
	newClient func(*redis.Options) *redis.Client
	listeners []Listener
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	client   *redis.Client
	pending  *attempt
	lastErr  error
	failedAt time.Time
	closed   bool
}

// attempt is one connect cycle. done is closed once client or err is set.
type attempt struct {
	done   chan struct{}
	client *redis.Client
	err    error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory replaces redis.NewClient, mainly for tests.
func WithClientFactory(factory func(*redis.Options) *redis.Client) Option {
	return func(m *Manager) { m.newClient = factory }
}

// WithListener registers a lifecycle event listener.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// NewManager creates a connection manager. It validates the configuration
// but does not dial; the first Conn call does.
func NewManager(cfg Config, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	redisOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		opts:      redisOpts,
		logger:    logger,
		newClient: redis.NewClient,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Addr returns the configured store address.
func (m *Manager) Addr() string {
	return m.opts.Addr
}

// Conn returns the open connection, joins an attempt already in flight or
// starts a new one. It is safe for concurrent use.
func (m *Manager) Conn(ctx context.Context) (*redis.Client, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.client != nil {
		client := m.client
		m.mu.Unlock()
		return client, nil
	}
	if m.pending == nil {
		if m.lastErr != nil && m.now().Sub(m.failedAt) < m.cfg.FailFastWindow {
			err := m.lastErr
			m.mu.Unlock()
			return nil, err
		}
		m.pending = &attempt{done: make(chan struct{})}
		go m.connect(m.pending)
	}
	a := m.pending
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.client, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connect runs one connect cycle and publishes its outcome to a.
func (m *Manager) connect(a *attempt) {
	defer close(a.done)

	client := m.newClient(m.opts)
	client.AddHook(&healthHook{manager: m, client: client})

	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
			defer cancel()
			return client.Ping(ctx).Err()
		},
		retry.Attempts(uint(m.cfg.MaxRetries)+1),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return m.cfg.retryDelay(n)
		}),
		retry.Context(m.ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if int(n) < m.cfg.MaxRetries {
				m.emit(EventReconnecting, err)
			}
		}),
	)
	ConnectAttempts.Set(float64(attempts))

	m.mu.Lock()
	m.pending = nil
	if m.closed {
		m.mu.Unlock()
		_ = client.Close()
		a.err = ErrClosed
		return
	}
	if err != nil {
		cerr := &ConnectionError{Attempts: attempts, Err: err}
		m.lastErr = cerr
		m.failedAt = m.now()
		m.mu.Unlock()

		_ = client.Close()
		a.err = cerr
		m.emit(EventError, cerr)
		return
	}
	m.client = client
	m.lastErr = nil
	m.mu.Unlock()

	a.client = client
	m.emit(EventReady, nil)
}

// markBroken drops client if it is still the open connection, so the next
// Conn call starts a fresh connect cycle.
func (m *Manager) markBroken(client *redis.Client, cause error) {
	m.mu.Lock()
	if m.client != client {
		m.mu.Unlock()
		return
	}
	m.client = nil
	m.mu.Unlock()

	_ = client.Close()
	m.emit(EventClosed, cause)
}

// Close tears down the connection. Later Conn calls return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	client := m.client
	m.client = nil
	m.mu.Unlock()

	m.cancel()
	if client == nil {
		return nil
	}
	err := client.Close()
	m.emit(EventClosed, nil)
	return err
}

func (m *Manager) emit(event Event, err error) {
	StoreEvents.WithLabelValues(string(event)).Inc()

	var logEvent *zerolog.Event
	switch event {
	case EventError:
		logEvent = m.logger.Error()
	case EventReconnecting, EventClosed:
		logEvent = m.logger.Warn()
	case EventConnect:
		logEvent = m.logger.Debug()
	default:
		logEvent = m.logger.Info()
	}
	logEvent.
		Str("event", string(event)).
		Str("addr", m.opts.Addr).
		Err(err).
		Msg("Store connection event")

	for _, l := range m.listeners {
		l(event, err)
	}
}
