package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/messenger-sdk/metrics"
	"github.com/whisper/messenger-sdk/protocol"
)

// Config holds tunable parameters for the WebSocket channel.
type Config struct {
	URL               string        // ws:// or wss:// endpoint
	Credential        string        // opaque session token sent in the auth frame
	DialTimeout       time.Duration // timeout for one dial + auth handshake
	HeartbeatInterval time.Duration // how often to send WebSocket ping frames
	ReconnectBase     time.Duration // backoff base delay
	ReconnectMax      time.Duration // backoff cap
	MaxReconnects     int           // 0 = keep trying forever
}

// DefaultConfig returns a Config with production defaults for the given
// endpoint and credential.
func DefaultConfig(url, credential string) Config {
	return Config{
		URL:               url,
		Credential:        credential,
		DialTimeout:       10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ReconnectBase:     1 * time.Second,
		ReconnectMax:      30 * time.Second,
		MaxReconnects:     0,
	}
}

// Manager is the WebSocket implementation of Channel. It owns exactly one
// logical connection: dialing, the auth handshake, a background read loop,
// heartbeat pings, and reconnection with exponential backoff. Chat
// subscriptions are tracked locally and replayed to the server after every
// successful (re)connect, so a drop in the middle of a session recovers all
// active conversations without caller involvement.
type Manager struct {
	cfg      Config
	handlers Handlers
	recon    *reconnector

	mu           sync.Mutex
	conn         net.Conn
	state        State
	subs         map[string]struct{}
	reconnecting bool
	started      bool

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager for the given config and handler set. The
// channel is not opened until Connect is called.
func NewManager(cfg Config, handlers Handlers) *Manager {
	return &Manager{
		cfg:      cfg,
		handlers: handlers,
		recon:    newReconnector(cfg.ReconnectBase, cfg.ReconnectMax, cfg.MaxReconnects),
		state:    StateDisconnected,
		subs:     make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Connect opens the channel. The first dial happens synchronously; if it
// fails, background reconnect attempts are scheduled and Connect still
// returns nil, because transient network loss is the expected failure mode.
// Connect errors only when the manager is already started or closed.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed() {
		m.mu.Unlock()
		return fmt.Errorf("transport: manager is closed")
	}
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("transport: already connected")
	}
	m.started = true
	m.mu.Unlock()

	m.setState(StateConnecting)

	if err := m.dial(ctx); err != nil {
		log.Printf("transport: initial connect failed: %v", err)
		m.beginReconnect(nil)
	}

	go m.heartbeatLoop()
	return nil
}

// dial performs one connection attempt: WebSocket dial, auth frame, auth
// ack, and replay of all active subscriptions. On success it installs the
// connection and starts a read loop.
func (m *Manager) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, _, _, err := ws.Dial(dialCtx, m.cfg.URL)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", m.cfg.URL, err)
	}

	authFrame, err := protocol.NewClientMessage(protocol.TypeAuth, protocol.AuthMsg{
		Token: m.cfg.Credential,
	})
	if err != nil {
		conn.Close()
		return err
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, authFrame); err != nil {
		conn.Close()
		return fmt.Errorf("transport: send auth: %w", err)
	}

	// The first frame must be the auth acknowledgement.
	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.DialTimeout))
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: read auth ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	msgType, event, err := protocol.ParseServerEvent(data)
	if err != nil {
		conn.Close()
		return err
	}
	if msgType != protocol.TypeConnected {
		conn.Close()
		return fmt.Errorf("transport: expected %q ack, got %q", protocol.TypeConnected, msgType)
	}

	m.mu.Lock()
	if m.closed() {
		m.mu.Unlock()
		conn.Close()
		return fmt.Errorf("transport: manager is closed")
	}
	m.conn = conn
	m.reconnecting = false
	chats := make([]string, 0, len(m.subs))
	for chatID := range m.subs {
		chats = append(chats, chatID)
	}
	m.mu.Unlock()

	// Re-establish every active subscription before reporting connected, so
	// no push event window opens between "recovered" and "subscribed".
	for _, chatID := range chats {
		if err := m.sendSubscribe(chatID, true); err != nil {
			conn.Close()
			return fmt.Errorf("transport: resubscribe %s: %w", chatID, err)
		}
	}

	m.recon.markConnected()
	m.setState(StateConnected)
	m.handlers.event(msgType, event)

	go m.readLoop(conn)
	return nil
}

// readLoop reads frames off one connection until it fails or is replaced.
// WebSocket control frames are handled inside wsutil.ReadServerText;
// application-level pong replies to our heartbeat dispatch like any other
// event.
func (m *Manager) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			m.beginReconnect(conn)
			return
		}

		msgType, event, perr := protocol.ParseServerEvent(data)
		if perr != nil {
			log.Printf("transport: dropping malformed frame: %v", perr)
			continue
		}
		metrics.EventsReceived.WithLabelValues(msgType).Inc()
		m.handlers.event(msgType, event)
	}
}

// beginReconnect tears down the given connection (nil for a failed initial
// dial) and starts the single reconnect loop if it is not already running.
func (m *Manager) beginReconnect(conn net.Conn) {
	m.mu.Lock()
	if m.closed() || (conn != nil && m.conn != conn) {
		// Closed, or a stale read loop from an already-replaced connection.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	already := m.reconnecting
	m.reconnecting = true
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.setState(StateReconnecting)
	if !already {
		go m.reconnectLoop()
	}
}

// reconnectLoop retries the dial with backoff until it succeeds, the retry
// budget is exhausted, or the manager is closed.
func (m *Manager) reconnectLoop() {
	for {
		if !m.recon.shouldRetry() {
			log.Printf("transport: reconnect budget exhausted, giving up")
			m.setState(StateDisconnected)
			return
		}

		delay := m.recon.nextDelay()
		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}

		metrics.ReconnectsTotal.Inc()
		if err := m.dial(context.Background()); err != nil {
			log.Printf("transport: reconnect failed: %v", err)
			continue
		}
		return
	}
}

// heartbeatLoop sends an application-level ping at every interval. The
// server answers with a pong event, which the read loop dispatches like any
// other frame. A failed ping closes the connection, which makes the read
// loop fail and trigger the reconnect path.
func (m *Manager) heartbeatLoop() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	ping, err := protocol.NewClientMessage(protocol.TypePing, protocol.PingMsg{})
	if err != nil {
		log.Printf("transport: build heartbeat ping: %v", err)
		return
	}

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.Lock()
			conn := m.conn
			m.mu.Unlock()
			if conn == nil {
				continue
			}
			m.writeMu.Lock()
			err := wsutil.WriteClientMessage(conn, ws.OpText, ping)
			m.writeMu.Unlock()
			if err != nil {
				log.Printf("transport: heartbeat ping failed: %v", err)
				conn.Close()
			}
		}
	}
}

// send writes one text frame on the current connection. The write mutex
// serializes frames from the heartbeat, subscription replay and callers.
func (m *Manager) send(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return wsutil.WriteClientMessage(conn, ws.OpText, data)
}

func (m *Manager) sendSubscribe(chatID string, subscribe bool) error {
	msgType := protocol.TypeSubscribe
	var payload interface{} = protocol.SubscribeMsg{ChatID: chatID}
	if !subscribe {
		msgType = protocol.TypeUnsubscribe
		payload = protocol.UnsubscribeMsg{ChatID: chatID}
	}
	data, err := protocol.NewClientMessage(msgType, payload)
	if err != nil {
		return err
	}
	return m.send(data)
}

// Subscribe registers interest in push events for chatID. If the channel is
// currently up the subscribe frame is sent immediately; either way the
// subscription is replayed on every reconnect.
func (m *Manager) Subscribe(chatID string) {
	m.mu.Lock()
	m.subs[chatID] = struct{}{}
	connected := m.conn != nil
	m.mu.Unlock()

	if connected {
		if err := m.sendSubscribe(chatID, true); err != nil {
			log.Printf("transport: subscribe %s failed (will retry on reconnect): %v", chatID, err)
		}
	}
}

// Unsubscribe removes the chat subscription.
func (m *Manager) Unsubscribe(chatID string) {
	m.mu.Lock()
	delete(m.subs, chatID)
	connected := m.conn != nil
	m.mu.Unlock()

	if connected {
		if err := m.sendSubscribe(chatID, false); err != nil {
			log.Printf("transport: unsubscribe %s failed: %v", chatID, err)
		}
	}
}

// SendTyping emits a typing signal for chatID. Fire and forget: a lost
// typing signal simply shows no indicator on the peer's side.
func (m *Manager) SendTyping(chatID string, typing bool) {
	data, err := protocol.NewClientMessage(protocol.TypeTyping, protocol.TypingMsg{
		ChatID:   chatID,
		IsTyping: typing,
	})
	if err != nil {
		log.Printf("transport: build typing signal: %v", err)
		return
	}
	if err := m.send(data); err != nil {
		log.Printf("transport: typing signal dropped: %v", err)
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	if s == StateConnected {
		metrics.ConnectionUp.Set(1)
	} else {
		metrics.ConnectionUp.Set(0)
	}
	m.handlers.state(s)
}

// closed reports whether Close has been called. Must be called with the
// mutex held or from Close itself.
func (m *Manager) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Close tears down the channel and cancels any pending reconnect. Idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		conn := m.conn
		m.conn = nil
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		m.setState(StateDisconnected)
	})
	return nil
}
