// Package chat defines the conversation data model and the in-memory state
// trackers consumed by a presentation layer: the paginated message store,
// the delivery status machine, typing presence, and reaction aggregation.
// All types are safe for concurrent use unless noted otherwise.
package chat

import "time"

// ContentType identifies what kind of payload a message carries.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
	ContentEmoji ContentType = "emoji"
)

// Status is the position of a message in its delivery lifecycle.
type Status string

const (
	StatusComposing Status = "composing" // local only, before the send request is issued
	StatusSending   Status = "sending"   // request issued, no server acknowledgement yet
	StatusSent      Status = "sent"      // server accepted and assigned a permanent id
	StatusDelivered Status = "delivered" // receiving client acknowledged receipt
	StatusRead      Status = "read"      // receiving user viewed the message
	StatusFailed    Status = "failed"    // send errored or timed out after bounded retry
)

// statusRank orders the forward-only delivery states. Failed is not ranked:
// it is a parallel terminal state reachable only from sending.
var statusRank = map[Status]int{
	StatusComposing: 0,
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// Rank returns the state's position in the forward order, or -1 for failed
// and unknown states.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether s is one of the known delivery states.
func (s Status) Valid() bool {
	return s == StatusFailed || s.Rank() >= 0
}

// MediaRef points at an uploaded attachment.
type MediaRef struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Reaction is a single user's emoji reaction to a message. A user has at
// most one reaction per message; a later reaction replaces the earlier one.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is one unit of conversation content.
//
// A client-composed message starts out pending: ID is empty and LocalID holds
// the client-generated correlation token. When the server confirms the send
// it echoes LocalID alongside the permanent ID, and the pending entry is
// replaced in place.
type Message struct {
	ID          string      `json:"id,omitempty"`
	LocalID     string      `json:"local_id,omitempty"` // correlation token for optimistic sends
	ChatID      string      `json:"chat_id"`
	SenderID    string      `json:"sender_id"`
	ReceiverID  string      `json:"receiver_id"`
	ContentType ContentType `json:"content_type"`
	Text        string      `json:"text,omitempty"`
	Media       *MediaRef   `json:"media,omitempty"`
	ReplyTo     string      `json:"reply_to,omitempty"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	Reactions   []Reaction  `json:"reactions,omitempty"`
}

// Pending reports whether the message is still awaiting its server-assigned id.
func (m *Message) Pending() bool {
	return m.ID == ""
}

// key returns the store index key: the server id once assigned, otherwise the
// local correlation token.
func (m *Message) key() string {
	if m.ID != "" {
		return m.ID
	}
	return "local:" + m.LocalID
}

// Before reports whether m sorts before other in display order. The primary
// key is CreatedAt; identical timestamps break on id lexical order so that
// every reader observes the same total order.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.key() < other.key()
}

// ChatSettings holds per-conversation flags controlled by the local user.
type ChatSettings struct {
	Muted   bool `json:"muted"`
	Blocked bool `json:"blocked"`
}

// Chat identifies a two-party conversation. The participant pair is fixed at
// creation.
type Chat struct {
	ID           string       `json:"id"`
	Participants [2]string    `json:"participants"`
	Settings     ChatSettings `json:"settings"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Peer returns the other participant's identity, or "" if userID is not a
// participant.
func (c *Chat) Peer(userID string) string {
	if userID == c.Participants[0] {
		return c.Participants[1]
	}
	if userID == c.Participants[1] {
		return c.Participants[0]
	}
	return ""
}
