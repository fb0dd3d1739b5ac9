package store

// Event is a connection lifecycle signal. Events are observability side
// effects only; nothing in the functional contract depends on them.
type Event string

const (
	// EventConnect is emitted for every successfully dialed connection.
	EventConnect Event = "connect"

	// EventReady is emitted when a connect cycle finished its handshake.
	EventReady Event = "ready"

	// EventReconnecting is emitted before each handshake retry.
	EventReconnecting Event = "reconnecting"

	// EventError is emitted when a connect cycle exhausted its retries.
	EventError Event = "error"

	// EventClosed is emitted when the open connection was dropped, either
	// after a transport error or on shutdown.
	EventClosed Event = "closed"
)

// Listener receives lifecycle events. err is nil for connect and ready.
// Listeners run synchronously and must not call back into the Manager.
type Listener func(event Event, err error)
