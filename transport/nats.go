package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/messenger-sdk/metrics"
	"github.com/whisper/messenger-sdk/protocol"
)

// SubjectChat is the subject prefix chats fan out on: chat.<chat_id>.
const SubjectChat = "chat"

// NATSConfig holds NATS channel settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	Token         string        // opaque session credential
	UserID        string        // local user identity, stamped on outbound signals
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig(userID string) NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "messenger-sdk",
		UserID:        userID,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSChannel is the broker-backed implementation of Channel used by
// headless deployments (bots, bridges) that consume the same event stream
// off NATS instead of the client WebSocket edge. Reconnection and
// subscription replay are handled by the NATS client library; this wrapper
// maps them onto the Channel state model.
type NATSChannel struct {
	cfg      NATSConfig
	handlers Handlers

	mu    sync.Mutex
	conn  *nats.Conn
	subs  map[string]*nats.Subscription // chatID -> subscription
	state State
}

// NewNATSChannel creates a NATS channel for the given config and handler
// set. The connection is not opened until Connect is called.
func NewNATSChannel(cfg NATSConfig, handlers Handlers) *NATSChannel {
	return &NATSChannel{
		cfg:      cfg,
		handlers: handlers,
		subs:     make(map[string]*nats.Subscription),
		state:    StateDisconnected,
	}
}

// Connect establishes the NATS connection. Unlike the WebSocket channel the
// initial connect is allowed to fail hard: a broker address is deployment
// config, not a flaky last-mile network path.
func (c *NATSChannel) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
			c.setState(StateReconnecting)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
			metrics.ReconnectsTotal.Inc()
			c.setState(StateConnected)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
			c.setState(StateDisconnected)
		}),
	}
	if c.cfg.Token != "" {
		opts = append(opts, nats.Token(c.cfg.Token))
	}

	c.setState(StateConnecting)
	nc, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("transport: nats connect: %w", err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	c.mu.Lock()
	c.conn = nc
	c.mu.Unlock()

	c.setState(StateConnected)
	c.handlers.event(protocol.TypeConnected, protocol.ConnectedMsg{UserID: c.cfg.UserID})
	return nil
}

// Subscribe registers a subscription on the chat.<chatID> subject. Events
// published by this client's own user id are filtered out so outbound
// signals do not echo back as peer activity.
func (c *NATSChannel) Subscribe(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		log.Printf("[nats] subscribe %s before connect", chatID)
		return
	}
	if _, ok := c.subs[chatID]; ok {
		return
	}

	subject := SubjectChat + "." + chatID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgType, event, err := protocol.ParseServerEvent(msg.Data)
		if err != nil {
			log.Printf("[nats] dropping malformed event on %s: %v", subject, err)
			return
		}
		if typing, ok := event.(protocol.ServerTypingMsg); ok && typing.UserID == c.cfg.UserID {
			return // don't echo to sender
		}
		metrics.EventsReceived.WithLabelValues(msgType).Inc()
		c.handlers.event(msgType, event)
	})
	if err != nil {
		log.Printf("[nats] subscribe %s: %v", subject, err)
		return
	}
	c.subs[chatID] = sub
}

// Unsubscribe removes the chat subscription.
func (c *NATSChannel) Unsubscribe(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[chatID]
	if !ok {
		return
	}
	delete(c.subs, chatID)
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("[nats] unsubscribe %s: %v", chatID, err)
	}
}

// SendTyping publishes a typing signal on the chat's subject. Fire and
// forget.
func (c *NATSChannel) SendTyping(chatID string, typing bool) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := protocol.NewClientMessage(protocol.TypeServerTyping, protocol.ServerTypingMsg{
		ChatID:   chatID,
		UserID:   c.cfg.UserID,
		IsTyping: typing,
	})
	if err != nil {
		log.Printf("[nats] build typing signal: %v", err)
		return
	}
	if err := conn.Publish(SubjectChat+"."+chatID, data); err != nil {
		log.Printf("[nats] typing signal dropped: %v", err)
	}
}

// State returns the current connection state.
func (c *NATSChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *NATSChannel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	if s == StateConnected {
		metrics.ConnectionUp.Set(1)
	} else {
		metrics.ConnectionUp.Set(0)
	}
	c.handlers.state(s)
}

// Close drains all active subscriptions and closes the NATS connection.
// Idempotent.
func (c *NATSChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	subs := c.subs
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	for chatID, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", chatID, err)
		}
	}
	if err := conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	return nil
}
