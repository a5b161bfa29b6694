// Package session provides the conversation session coordinator: the single
// entry point a presentation layer uses. It merges push events arriving over
// the persistent channel with paginated REST history fetches into one
// deduplicated, deterministically ordered view per chat, and drives the
// outbound paths (send with optimistic update and bounded retry, read
// acknowledgement, reactions, typing).
//
// All mutations of a session's chat state are serialized through one event
// queue, so a status update can never race a reconciliation of the same
// message id regardless of whether the triggering event came from a user
// action, a push event, or a completed fetch.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/messenger-sdk/cache"
	"github.com/whisper/messenger-sdk/chat"
	"github.com/whisper/messenger-sdk/metrics"
	"github.com/whisper/messenger-sdk/protocol"
	"github.com/whisper/messenger-sdk/rest"
	"github.com/whisper/messenger-sdk/transport"
	"github.com/whisper/messenger-sdk/upload"
)

// API is the slice of the REST surface the coordinator drives. *rest.Client
// satisfies it.
type API interface {
	History(ctx context.Context, chatID, cursor string, limit int) (*rest.HistoryPage, error)
	Send(ctx context.Context, chatID string, req rest.SendRequest) (*chat.Message, error)
	MarkRead(ctx context.Context, chatID string, messageIDs []string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	ClearHistory(ctx context.Context, chatID string) error
	React(ctx context.Context, chatID, messageID, emoji string) error
	Unreact(ctx context.Context, chatID, messageID string) error
}

// Config holds coordinator tuning parameters.
type Config struct {
	UserID        string        // local user identity
	PageSize      int           // history page size
	SendTimeout   time.Duration // per-attempt send timeout
	SendRetries   int           // automatic retries after the first attempt
	SendRetryBase time.Duration // backoff base between send attempts
}

// DefaultConfig returns production defaults for the given user.
func DefaultConfig(userID string) Config {
	return Config{
		UserID:        userID,
		PageSize:      30,
		SendTimeout:   10 * time.Second,
		SendRetries:   3,
		SendRetryBase: 500 * time.Millisecond,
	}
}

// pendingSend is the retained request for an optimistic send, kept until
// confirmation so a manual retry re-sends the same content and the same
// already-uploaded media reference.
type pendingSend struct {
	chatID     string
	req        rest.SendRequest
	attachment *upload.File
}

// Coordinator orchestrates one authenticated session. Create it with New,
// bind the persistent channel with BindChannel, then call Start.
type Coordinator struct {
	cfg     Config
	api     API
	uploads *upload.Coordinator
	recent  cache.Recent // may be nil

	store     *chat.Store
	delivery  *chat.DeliveryTracker
	reactions *chat.ReactionAggregator
	presence  *chat.PresenceTracker

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	channel   transport.Channel
	chats     map[string]chat.Chat   // known chat metadata
	pending   map[string]pendingSend // localID -> retained send request
	connState transport.State
}

// New creates a Coordinator. recent may be nil to disable warm starts.
func New(cfg Config, api API, uploads *upload.Coordinator, recent cache.Recent) *Coordinator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 30
	}
	store := chat.NewStore()
	c := &Coordinator{
		cfg:       cfg,
		api:       api,
		uploads:   uploads,
		recent:    recent,
		store:     store,
		delivery:  chat.NewDeliveryTracker(store),
		reactions: chat.NewReactionAggregator(store),
		queue:     make(chan func(), 256),
		done:      make(chan struct{}),
		chats:     make(map[string]chat.Chat),
		pending:   make(map[string]pendingSend),
		connState: transport.StateDisconnected,
	}
	c.presence = chat.NewPresenceTracker(chat.DefaultPresenceConfig(), c.emitTyping)
	return c
}

// BindChannel attaches the persistent channel. It must be called before
// Start; the channel should have been constructed with this coordinator's
// Handlers.
func (c *Coordinator) BindChannel(ch transport.Channel) {
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
}

// Handlers returns the callback set to construct the channel with.
func (c *Coordinator) Handlers() transport.Handlers {
	return transport.Handlers{
		OnEvent: c.handleEvent,
		OnState: c.handleState,
	}
}

// Start launches the event loop and opens the channel.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("session: no channel bound")
	}
	go c.loop()
	return ch.Connect(ctx)
}

// loop drains the event queue. Every mutation of session state runs here.
func (c *Coordinator) loop() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.queue:
			fn()
		}
	}
}

// enqueue schedules fn on the serialized event path.
func (c *Coordinator) enqueue(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.done:
	}
}

// ---------------------------------------------------------------------------
// Inbound push events
// ---------------------------------------------------------------------------

func (c *Coordinator) handleEvent(msgType string, event interface{}) {
	switch e := event.(type) {
	case protocol.MessageMsg:
		m := e.Message
		c.enqueue(func() {
			c.store.Append(m)
			c.cacheRecent(m)
		})
	case protocol.MessageStatusMsg:
		c.enqueue(func() {
			c.delivery.Apply(e.MessageID, e.Status)
		})
	case protocol.ServerTypingMsg:
		if e.UserID == c.cfg.UserID {
			return
		}
		c.enqueue(func() {
			c.presence.ApplyRemote(e.ChatID, e.IsTyping)
		})
	case protocol.ReactionMsg:
		c.enqueue(func() {
			var ok bool
			if e.Removed {
				ok = c.reactions.Remove(e.MessageID, e.UserID)
			} else {
				ok = c.reactions.Add(e.MessageID, e.UserID, e.Emoji)
			}
			if !ok {
				log.Printf("session: reaction event for unknown message %s", e.MessageID)
			}
		})
	case protocol.ConnectedMsg:
		// Lifecycle ack; state is tracked via handleState.
	case protocol.PongMsg:
		// Heartbeat reply, nothing to update.
	case protocol.ErrorMsg:
		log.Printf("session: server error %s: %s", e.Code, e.Message)
	}
}

func (c *Coordinator) handleState(s transport.State) {
	c.mu.Lock()
	c.connState = s
	c.mu.Unlock()
}

// cacheRecent records a confirmed message in the warm cache, best effort.
func (c *Coordinator) cacheRecent(m chat.Message) {
	if c.recent == nil || m.Pending() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.recent.Add(ctx, m); err != nil {
		log.Printf("session: recent cache add: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Conversation lifecycle
// ---------------------------------------------------------------------------

// TrackChat records a chat's metadata (participants, blocked/muted flags).
// The session/auth collaborator that resolved the conversation supplies it.
func (c *Coordinator) TrackChat(meta chat.Chat) {
	c.mu.Lock()
	c.chats[meta.ID] = meta
	c.mu.Unlock()
}

func (c *Coordinator) blocked(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.chats[chatID]
	return ok && meta.Settings.Blocked
}

// Open prepares a conversation view: warms the store from the recent cache,
// seeds it from the first history page, then subscribes the channel for the
// chat. Push and pull copies of the same message collapse onto one entry.
func (c *Coordinator) Open(ctx context.Context, chatID string) error {
	if c.recent != nil {
		if cached, err := c.recent.Get(ctx, chatID); err != nil {
			log.Printf("session: recent cache read: %v", err)
		} else if len(cached) > 0 {
			c.enqueue(func() { c.store.Seed(chatID, cached, true) })
		}
	}

	page, err := c.api.History(ctx, chatID, "", c.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("session: open %s: %w", chatID, err)
	}
	c.enqueue(func() { c.store.Seed(chatID, page.Messages, page.HasMore) })

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	ch.Subscribe(chatID)
	return nil
}

// LoadMore fetches the next older history page and merges it beneath the
// already-cached entries. It reports whether further pages remain; an
// exhausted history is not an error.
func (c *Coordinator) LoadMore(ctx context.Context, chatID string) (bool, error) {
	if !c.store.HasMore(chatID) {
		return false, nil
	}

	cursor := ""
	if oldest, ok := c.store.Oldest(chatID); ok {
		cursor = oldest.ID
	}
	page, err := c.api.History(ctx, chatID, cursor, c.cfg.PageSize)
	if err != nil {
		return true, fmt.Errorf("session: load more %s: %w", chatID, err)
	}
	c.enqueue(func() { c.store.Seed(chatID, page.Messages, page.HasMore) })
	return page.HasMore, nil
}

// CloseChat tears down a conversation view: unsubscribes the channel,
// cancels uploads for messages that never reached the send phase, and drops
// presence state. Messages already sent and awaiting acknowledgement keep
// reconciling in the background.
func (c *Coordinator) CloseChat(chatID string) {
	c.mu.Lock()
	ch := c.channel
	var locals []string
	for localID, ps := range c.pending {
		if ps.chatID == chatID {
			locals = append(locals, localID)
		}
	}
	c.mu.Unlock()

	if ch != nil {
		ch.Unsubscribe(chatID)
	}
	for _, localID := range locals {
		// Cancel is a no-op for tasks whose upload already finished.
		c.uploads.Cancel(localID)
	}
	c.presence.Forget(chatID)
}

// Close shuts the session down: the channel is closed, the event loop
// stopped, and all presence timers cancelled. Idempotent.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		ch := c.channel
		c.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		c.presence.Close()
	})
	return nil
}

// ---------------------------------------------------------------------------
// Outbound actions
// ---------------------------------------------------------------------------

// SendInput describes a message to send.
type SendInput struct {
	ChatID      string
	ReceiverID  string
	ContentType chat.ContentType
	Text        string
	ReplyTo     string
	Attachment  *upload.File
}

// Send validates the input, places an optimistic entry into the store, and
// issues the send in the background (upload first when an attachment is
// present). It returns the local correlation id immediately; progress is
// observed through the store. Validation failures are returned synchronously
// and leave no trace in the store.
func (c *Coordinator) Send(in SendInput) (string, error) {
	if in.ChatID == "" {
		return "", &chat.ValidationError{Field: "chat id", Reason: "must not be empty"}
	}
	if in.Text == "" && in.Attachment == nil {
		return "", &chat.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if c.blocked(in.ChatID) {
		return "", &chat.PermanentError{Op: "send", Err: fmt.Errorf("chat %s is blocked", in.ChatID)}
	}
	if in.ContentType == "" {
		in.ContentType = chat.ContentText
	}

	localID := uuid.New().String()
	msg := chat.Message{
		LocalID:     localID,
		ChatID:      in.ChatID,
		SenderID:    c.cfg.UserID,
		ReceiverID:  in.ReceiverID,
		ContentType: in.ContentType,
		Text:        in.Text,
		ReplyTo:     in.ReplyTo,
		Status:      chat.StatusComposing,
		CreatedAt:   time.Now(),
	}
	c.enqueue(func() { c.store.Append(msg) })

	c.mu.Lock()
	c.pending[localID] = pendingSend{
		chatID: in.ChatID,
		req: rest.SendRequest{
			LocalID:     localID,
			ReceiverID:  in.ReceiverID,
			ContentType: in.ContentType,
			Text:        in.Text,
			ReplyTo:     in.ReplyTo,
		},
		attachment: in.Attachment,
	}
	c.mu.Unlock()

	go c.performSend(localID)
	return localID, nil
}

// Retry re-issues a failed send with the same content. An attachment that
// already uploaded is reused via its media reference, not re-uploaded. The
// state transition runs on the event queue like every other mutation; Retry
// waits for its outcome so callers get a synchronous answer.
func (c *Coordinator) Retry(localID string) error {
	c.mu.Lock()
	_, ok := c.pending[localID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: no failed send with local id %s", localID)
	}

	res := make(chan bool, 1)
	c.enqueue(func() { res <- c.delivery.Retry(localID) })
	select {
	case ok := <-res:
		if !ok {
			return fmt.Errorf("session: message %s is not in a failed state", localID)
		}
	case <-c.done:
		return fmt.Errorf("session: coordinator is closed")
	}

	go c.performSend(localID)
	return nil
}

// performSend runs the upload (if still needed) and the send request with
// bounded retry for transient failures. State transitions are funneled back
// through the event queue.
func (c *Coordinator) performSend(localID string) {
	c.mu.Lock()
	ps, ok := c.pending[localID]
	c.mu.Unlock()
	if !ok {
		return
	}

	if ps.attachment != nil && ps.req.Media == nil {
		// A prior failed attempt may have left an errored task behind.
		c.uploads.Forget(localID)
		ref, err := c.uploads.Start(context.Background(), localID, *ps.attachment)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// The user abandoned the send; drop the optimistic entry
				// rather than surfacing a failed message.
				c.enqueue(func() { c.delivery.Discard(localID) })
				c.mu.Lock()
				delete(c.pending, localID)
				c.mu.Unlock()
				return
			}
			log.Printf("session: upload for %s failed: %v", localID, err)
			metrics.MessagesSent.WithLabelValues("failed").Inc()
			c.enqueue(func() { c.delivery.Fail(localID) })
			return
		}
		c.mu.Lock()
		ps.req.Media = ref
		c.pending[localID] = ps
		c.mu.Unlock()
	}

	c.enqueue(func() { c.delivery.MarkSending(localID) })

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.cfg.SendRetries; attempt++ {
		if attempt > 0 {
			metrics.MessagesSent.WithLabelValues("retried").Inc()
			delay := c.cfg.SendRetryBase << (attempt - 1)
			select {
			case <-c.done:
				return
			case <-time.After(delay):
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
		confirmed, err := c.api.Send(ctx, ps.chatID, ps.req)
		cancel()

		if err == nil {
			metrics.MessagesSent.WithLabelValues("sent").Inc()
			metrics.SendLatency.Observe(time.Since(start).Seconds())
			c.finishSend(localID, *confirmed)
			return
		}

		lastErr = err
		if !chat.IsTransient(err) {
			break
		}
		log.Printf("session: send attempt %d for %s failed: %v", attempt+1, localID, err)
	}

	log.Printf("session: send %s failed permanently: %v", localID, lastErr)
	metrics.MessagesSent.WithLabelValues("failed").Inc()
	c.enqueue(func() { c.delivery.Fail(localID) })
}

// finishSend reconciles the optimistic entry with the server-confirmed
// message by correlation token. If the push-delivered copy already
// reconciled it, the append collapses onto that single entry.
func (c *Coordinator) finishSend(localID string, confirmed chat.Message) {
	if confirmed.Status.Rank() < chat.StatusSent.Rank() {
		confirmed.Status = chat.StatusSent
	}
	if confirmed.LocalID == "" {
		confirmed.LocalID = localID
	}

	c.enqueue(func() {
		if !c.store.Resolve(localID, confirmed) {
			c.store.Append(confirmed)
		}
		c.cacheRecent(confirmed)
	})

	c.mu.Lock()
	delete(c.pending, localID)
	c.mu.Unlock()
	c.uploads.Forget(localID)
}

// MarkRead acknowledges the given messages as read by the local user and,
// on success, reflects the read state locally.
func (c *Coordinator) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := c.api.MarkRead(ctx, chatID, messageIDs); err != nil {
		return err
	}
	c.enqueue(func() {
		for _, id := range messageIDs {
			c.delivery.Apply(id, chat.StatusRead)
		}
	})
	return nil
}

// React sets the local user's reaction on a message. A conflict (for example
// the message was deleted) is returned to the caller and leaves local state
// unchanged.
func (c *Coordinator) React(ctx context.Context, chatID, messageID, emoji string) error {
	if emoji == "" {
		return &chat.ValidationError{Field: "emoji", Reason: "must not be empty"}
	}
	if err := c.api.React(ctx, chatID, messageID, emoji); err != nil {
		return err
	}
	c.enqueue(func() {
		c.reactions.Add(messageID, c.cfg.UserID, emoji)
	})
	return nil
}

// Unreact clears the local user's reaction on a message.
func (c *Coordinator) Unreact(ctx context.Context, chatID, messageID string) error {
	if err := c.api.Unreact(ctx, chatID, messageID); err != nil {
		return err
	}
	c.enqueue(func() {
		c.reactions.Remove(messageID, c.cfg.UserID)
	})
	return nil
}

// DeleteMessage removes a message server-side and locally.
func (c *Coordinator) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if err := c.api.DeleteMessage(ctx, chatID, messageID); err != nil {
		return err
	}
	c.enqueue(func() { c.store.Delete(messageID) })
	return nil
}

// ClearHistory wipes a chat's history server-side, locally, and in the warm
// cache.
func (c *Coordinator) ClearHistory(ctx context.Context, chatID string) error {
	if err := c.api.ClearHistory(ctx, chatID); err != nil {
		return err
	}
	c.enqueue(func() { c.store.Clear(chatID) })
	if c.recent != nil {
		if err := c.recent.Clear(ctx, chatID); err != nil {
			log.Printf("session: recent cache clear: %v", err)
		}
	}
	return nil
}

// SetTyping reports the local user's typing activity for a chat. Emission
// is debounced and auto-stopped by the presence tracker; the signal itself
// is fire and forget.
func (c *Coordinator) SetTyping(chatID string, typing bool) {
	c.presence.SetTyping(chatID, typing)
}

// emitTyping is the presence tracker's outbound sink.
func (c *Coordinator) emitTyping(chatID string, typing bool) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch != nil {
		ch.SendTyping(chatID, typing)
	}
}

// ---------------------------------------------------------------------------
// Read side
// ---------------------------------------------------------------------------

// Messages returns the chat's cached messages in display order.
func (c *Coordinator) Messages(chatID string) []chat.Message {
	return c.store.Messages(chatID)
}

// Message returns one message by server id.
func (c *Coordinator) Message(messageID string) (chat.Message, bool) {
	return c.store.Get(messageID)
}

// PeerTyping reports whether the other participant is typing now.
func (c *Coordinator) PeerTyping(chatID string) bool {
	return c.presence.PeerTyping(chatID)
}

// UploadTask returns the upload snapshot for a pending send.
func (c *Coordinator) UploadTask(localID string) (upload.Task, bool) {
	return c.uploads.Task(localID)
}

// ConnectionState returns the persistent channel's current state.
func (c *Coordinator) ConnectionState() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// Flush blocks until every event queued before the call has been applied.
// It exists for callers that need a consistent read immediately after a
// write, and for tests.
func (c *Coordinator) Flush() {
	donech := make(chan struct{})
	c.enqueue(func() { close(donech) })
	select {
	case <-donech:
	case <-c.done:
	}
}
