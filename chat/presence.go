package chat

import (
	"sync"
	"time"
)

// PresenceConfig holds typing indicator tuning parameters.
type PresenceConfig struct {
	DebounceWindow time.Duration // min gap between outbound typing:start emissions
	IdleTimeout    time.Duration // quiet period after which typing auto-stops
}

// DefaultPresenceConfig returns the reference timings: one emission per
// second of continuous typing, auto-stop after one second of inactivity.
func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		DebounceWindow: 1 * time.Second,
		IdleTimeout:    1 * time.Second,
	}
}

// PresenceTracker owns short-lived typing indicators per conversation.
//
// For the local user it debounces keystroke-driven SetTyping(true) calls so
// the network sees at most one typing:start per quiet window, and schedules
// an automatic typing:stop after IdleTimeout so a lost explicit stop cannot
// leave the peer's indicator stuck.
//
// For the remote peer it records the last typing event and expires it after
// IdleTimeout, bounding the damage of a lost stop signal in the other
// direction too. No history is kept: consumers read a single current boolean
// per chat.
type PresenceTracker struct {
	cfg  PresenceConfig
	emit func(chatID string, typing bool) // outbound signal sink, best-effort

	mu        sync.Mutex
	lastEmit  map[string]time.Time   // chatID -> last typing:start emission
	selfStop  map[string]*time.Timer // chatID -> scheduled auto-stop
	peerState map[string]bool        // chatID -> peer currently typing
	peerStop  map[string]*time.Timer // chatID -> scheduled peer expiry
}

// NewPresenceTracker creates a tracker that reports outbound typing signals
// through emit. The emit callback must not block; losing a typing signal is
// an acceptable degradation, so emit has no error return.
func NewPresenceTracker(cfg PresenceConfig, emit func(chatID string, typing bool)) *PresenceTracker {
	if emit == nil {
		emit = func(string, bool) {}
	}
	return &PresenceTracker{
		cfg:       cfg,
		emit:      emit,
		lastEmit:  make(map[string]time.Time),
		selfStop:  make(map[string]*time.Timer),
		peerState: make(map[string]bool),
		peerStop:  make(map[string]*time.Timer),
	}
}

// SetTyping is called on every keystroke while the local user composes in
// chatID. Repeated true calls within the debounce window do not re-emit;
// every call pushes the auto-stop deadline out by IdleTimeout. An explicit
// false emits typing:stop immediately and cancels the pending auto-stop.
func (p *PresenceTracker) SetTyping(chatID string, typing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !typing {
		p.stopSelfLocked(chatID)
		return
	}

	now := time.Now()
	if last, ok := p.lastEmit[chatID]; !ok || now.Sub(last) >= p.cfg.DebounceWindow {
		p.lastEmit[chatID] = now
		p.emit(chatID, true)
	}

	if t, ok := p.selfStop[chatID]; ok {
		t.Reset(p.cfg.IdleTimeout)
		return
	}
	p.selfStop[chatID] = time.AfterFunc(p.cfg.IdleTimeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.stopSelfLocked(chatID)
	})
}

// stopSelfLocked cancels the auto-stop timer and emits typing:stop if a
// start had been emitted. Must be called with the mutex held.
func (p *PresenceTracker) stopSelfLocked(chatID string) {
	if t, ok := p.selfStop[chatID]; ok {
		t.Stop()
		delete(p.selfStop, chatID)
	}
	if _, ok := p.lastEmit[chatID]; ok {
		delete(p.lastEmit, chatID)
		p.emit(chatID, false)
	}
}

// ApplyRemote records a typing event pushed for the peer in chatID. A true
// state self-expires after IdleTimeout even if no stop event ever arrives.
func (p *PresenceTracker) ApplyRemote(chatID string, typing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.peerStop[chatID]; ok {
		t.Stop()
		delete(p.peerStop, chatID)
	}

	p.peerState[chatID] = typing
	if !typing {
		return
	}
	p.peerStop[chatID] = time.AfterFunc(p.cfg.IdleTimeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.peerState[chatID] = false
		delete(p.peerStop, chatID)
	})
}

// PeerTyping reports whether the other participant in chatID is typing now.
func (p *PresenceTracker) PeerTyping(chatID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerState[chatID]
}

// Forget drops all state for a chat, cancelling its timers. Called when a
// conversation view closes.
func (p *PresenceTracker) Forget(chatID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.selfStop[chatID]; ok {
		t.Stop()
		delete(p.selfStop, chatID)
	}
	if t, ok := p.peerStop[chatID]; ok {
		t.Stop()
		delete(p.peerStop, chatID)
	}
	delete(p.lastEmit, chatID)
	delete(p.peerState, chatID)
}

// Close cancels every pending timer.
func (p *PresenceTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, t := range p.selfStop {
		t.Stop()
		delete(p.selfStop, id)
	}
	for id, t := range p.peerStop {
		t.Stop()
		delete(p.peerStop, id)
	}
	p.lastEmit = make(map[string]time.Time)
	p.peerState = make(map[string]bool)
}
