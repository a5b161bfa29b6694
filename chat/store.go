package chat

import (
	"sort"
	"sync"
)

// Store is the authoritative per-conversation message cache. Messages within
// a chat are kept in ascending display order (CreatedAt, then id) and are
// indexed by server id and by local correlation token, so duplicate push
// deliveries and optimistic-send reconciliation both collapse onto a single
// entry.
//
// Store only ever mutates entries it already holds when asked to apply a
// status or reaction; it never invents entries for unknown ids.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*thread // chatID -> ordered messages
	chatOf  map[string]string  // message key -> chatID, for id-only events
}

// thread holds one conversation's cached messages.
type thread struct {
	msgs    []*Message
	byKey   map[string]*Message // server id or "local:"+localID
	byLocal map[string]*Message // localID -> entry; stays indexed after confirmation
	hasMore bool                // whether older history pages remain
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{
		threads: make(map[string]*thread),
		chatOf:  make(map[string]string),
	}
}

func (s *Store) thread(chatID string) *thread {
	t, ok := s.threads[chatID]
	if !ok {
		t = &thread{
			byKey:   make(map[string]*Message),
			byLocal: make(map[string]*Message),
			hasMore: true,
		}
		s.threads[chatID] = t
	}
	return t
}

// insert places m into the thread preserving display order, or updates the
// existing entry in place when the key is already present. Must be called
// with the write lock held.
func (s *Store) insert(t *thread, chatID string, m Message) {
	if existing, ok := t.byKey[m.key()]; ok {
		s.update(existing, m)
		return
	}

	msg := &m
	msg.Reactions = copyReactions(m.Reactions)
	i := sort.Search(len(t.msgs), func(i int) bool {
		return msg.Before(t.msgs[i])
	})
	t.msgs = append(t.msgs, nil)
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = msg

	t.byKey[msg.key()] = msg
	if msg.LocalID != "" {
		t.byLocal[msg.LocalID] = msg
	}
	s.chatOf[msg.key()] = chatID
}

// copyReactions returns an independent copy of rs so live entries and
// snapshots never share backing storage.
func copyReactions(rs []Reaction) []Reaction {
	if len(rs) == 0 {
		return nil
	}
	out := make([]Reaction, len(rs))
	copy(out, rs)
	return out
}

// update copies incoming fields onto an existing entry without disturbing
// its position. Status only moves forward (see Status.Rank); reactions are
// taken from the incoming copy when present.
func (s *Store) update(dst *Message, src Message) {
	dst.Text = src.Text
	dst.ContentType = src.ContentType
	if src.Media != nil {
		dst.Media = src.Media
	}
	if src.ReplyTo != "" {
		dst.ReplyTo = src.ReplyTo
	}
	if src.Status.Rank() > dst.Status.Rank() {
		dst.Status = src.Status
	}
	if len(src.Reactions) > 0 {
		dst.Reactions = copyReactions(src.Reactions)
	}
}

// Seed merges a fetched history page into the chat's cache. Messages already
// present (for example delivered by push moments before the fetch returned)
// are updated in place, not duplicated. hasMore records whether older pages
// remain so callers can stop paginating; running out of history is not an
// error.
func (s *Store) Seed(chatID string, page []Message, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.thread(chatID)
	for _, m := range page {
		m.ChatID = chatID
		s.insert(t, chatID, m)
	}
	t.hasMore = hasMore
}

// Append inserts a newly arrived or newly sent message. A message whose
// LocalID matches a pending optimistic entry reconciles that entry instead
// of creating a second one.
func (s *Store) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.thread(m.ChatID)

	// Server confirmation of an optimistic send: replace the pending entry.
	// If the entry was already promoted by the other delivery path, the copy
	// merges in place instead of becoming a second entry.
	if m.ID != "" && m.LocalID != "" {
		if entry, ok := t.byLocal[m.LocalID]; ok {
			if entry.Pending() {
				s.promote(t, m.ChatID, entry, m)
			} else {
				s.update(entry, m)
			}
			return
		}
	}

	s.insert(t, m.ChatID, m)
}

// Resolve replaces the pending entry identified by localID with the
// server-confirmed message. When the push-delivered copy already promoted
// the entry, the confirmation merges into it in place; the correlation
// token always collapses onto a single entry. Returns false only if the
// token is unknown.
func (s *Store) Resolve(localID string, confirmed Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[confirmed.ChatID]
	if !ok {
		return false
	}
	entry, ok := t.byLocal[localID]
	if !ok {
		return false
	}
	if entry.Pending() {
		s.promote(t, confirmed.ChatID, entry, confirmed)
	} else {
		s.update(entry, confirmed)
	}
	return true
}

// promote swaps a pending entry for its confirmed form, re-keying the
// indexes and repositioning it under the server-assigned timestamp. Must be
// called with the write lock held.
func (s *Store) promote(t *thread, chatID string, pending *Message, confirmed Message) {
	oldKey := pending.key()
	delete(t.byKey, oldKey)
	delete(t.byLocal, pending.LocalID)
	delete(s.chatOf, oldKey)

	// Remove from the slice; the confirmed copy re-inserts at its final
	// position (the server timestamp may differ from the optimistic one).
	for i, m := range t.msgs {
		if m == pending {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			break
		}
	}

	if confirmed.Status.Rank() < pending.Status.Rank() {
		confirmed.Status = pending.Status
	}
	s.insert(t, chatID, confirmed)
}

// ApplyStatus advances the delivery status of the identified message. The
// status only moves forward: a stale or replayed event that would regress
// the state is ignored. Returns true if the message was found and the state
// changed.
func (s *Store) ApplyStatus(messageID string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(messageID)
	if m == nil {
		return false
	}

	if status == StatusFailed {
		// Failed is terminal and only reachable while the send is in flight.
		if m.Status == StatusComposing || m.Status == StatusSending {
			m.Status = StatusFailed
			return true
		}
		return false
	}

	if status.Rank() <= m.Status.Rank() {
		return false
	}
	m.Status = status
	return true
}

// ResetForRetry moves a failed message back to sending for a manual retry.
func (s *Store) ResetForRetry(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(messageID)
	if m == nil || m.Status != StatusFailed {
		return false
	}
	m.Status = StatusSending
	return true
}

// ApplyReaction merges a reaction event into the message's reaction set. A
// user's new reaction replaces their previous one; removed clears it.
// Returns true if the message was found.
func (s *Store) ApplyReaction(messageID string, r Reaction, removed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(messageID)
	if m == nil {
		return false
	}

	for i, existing := range m.Reactions {
		if existing.UserID == r.UserID {
			if removed {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			} else {
				m.Reactions[i].Emoji = r.Emoji
			}
			return true
		}
	}
	if !removed {
		m.Reactions = append(m.Reactions, r)
	}
	return true
}

// Delete removes a message from its chat. Returns true if it existed.
func (s *Store) Delete(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	chatID, ok := s.chatOf[messageID]
	if !ok {
		return false
	}
	t := s.threads[chatID]
	m := t.byKey[messageID]

	delete(t.byKey, messageID)
	delete(s.chatOf, messageID)
	if m.LocalID != "" {
		delete(t.byLocal, m.LocalID)
	}
	for i, cur := range t.msgs {
		if cur == m {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			break
		}
	}
	return true
}

// Clear drops all cached messages for a chat.
func (s *Store) Clear(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[chatID]
	if !ok {
		return
	}
	for key := range t.byKey {
		delete(s.chatOf, key)
	}
	delete(s.threads, chatID)
}

// find looks a message up by server id or local key. Must be called with a
// lock held.
func (s *Store) find(messageID string) *Message {
	chatID, ok := s.chatOf[messageID]
	if !ok {
		return nil
	}
	return s.threads[chatID].byKey[messageID]
}

// Get returns a copy of the identified message.
func (s *Store) Get(messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.find(messageID)
	if m == nil {
		return Message{}, false
	}
	out := *m
	out.Reactions = copyReactions(m.Reactions)
	return out, true
}

// Messages returns a copy of the chat's messages in display order
// (ascending by CreatedAt, ties broken by id).
func (s *Store) Messages(chatID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[chatID]
	if !ok {
		return []Message{}
	}
	out := make([]Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = *m
		out[i].Reactions = copyReactions(m.Reactions)
	}
	return out
}

// Oldest returns the earliest cached message for a chat, used as the cursor
// for fetching the next older history page.
func (s *Store) Oldest(chatID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[chatID]
	if !ok || len(t.msgs) == 0 {
		return Message{}, false
	}
	out := *t.msgs[0]
	out.Reactions = copyReactions(t.msgs[0].Reactions)
	return out, true
}

// HasMore reports whether older history pages remain for the chat. A chat
// never seen before reports true so the first fetch is always attempted.
func (s *Store) HasMore(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[chatID]
	if !ok {
		return true
	}
	return t.hasMore
}

// PendingIn returns the local ids of messages in the chat that have not yet
// been confirmed by the server.
func (s *Store) PendingIn(chatID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[chatID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(t.byLocal))
	for localID, m := range t.byLocal {
		if m.Pending() {
			out = append(out, localID)
		}
	}
	return out
}
