// Package transport owns the persistent push channel: connection lifecycle,
// authentication, reconnection with backoff, heartbeat, chat-scoped
// subscriptions, and dispatch of inbound events. Two implementations of the
// Channel interface are provided: a WebSocket client (Manager) and a NATS
// client (NATSChannel) for headless deployments that consume the same event
// stream off a broker.
package transport

import "context"

// State describes the channel's connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// EventHandler receives a parsed inbound server event. msgType is one of the
// protocol server message type constants and event the corresponding struct.
// Handlers are invoked from the channel's read goroutine and must not block.
type EventHandler func(msgType string, event interface{})

// StateHandler is notified on every connection state change.
type StateHandler func(state State)

// Handlers is the callback set a channel dispatches into.
type Handlers struct {
	OnEvent EventHandler
	OnState StateHandler
}

func (h Handlers) event(msgType string, event interface{}) {
	if h.OnEvent != nil {
		h.OnEvent(msgType, event)
	}
}

func (h Handlers) state(s State) {
	if h.OnState != nil {
		h.OnState(s)
	}
}

// Channel is the persistent push channel as seen by the sync layer. Exactly
// one Channel exists per authenticated session; multiple open conversations
// multiplex over it via chat-scoped subscriptions.
//
// Connection loss is not surfaced as an error from any method: it manifests
// as state changes, and the channel keeps reconnecting with backoff until
// Close is called. After a reconnect all active subscriptions are
// re-established before the connected state is reported.
type Channel interface {
	// Connect opens the channel and authenticates. A failed first attempt
	// schedules background reconnects rather than failing permanently;
	// Connect errors only on misuse (already connected or closed).
	Connect(ctx context.Context) error

	// Subscribe registers interest in push events for a chat. The
	// subscription survives reconnects.
	Subscribe(chatID string)

	// Unsubscribe removes a chat subscription.
	Unsubscribe(chatID string)

	// SendTyping emits a typing signal for a chat. Fire and forget: errors
	// are logged, never returned, and the signal is not retried.
	SendTyping(chatID string, typing bool)

	// State returns the current connection state.
	State() State

	// Close tears the channel down and cancels any pending reconnect.
	// Idempotent.
	Close() error
}
