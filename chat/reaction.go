package chat

// ReactionAggregator merges reaction add/remove events into the reaction
// sets of messages already held by the store. The exposed view on each
// message is an ordered list of (userID, emoji) pairs in arrival order; a
// user's later reaction replaces their earlier one without moving position.
type ReactionAggregator struct {
	store *Store
}

// NewReactionAggregator creates an aggregator over the given store.
func NewReactionAggregator(store *Store) *ReactionAggregator {
	return &ReactionAggregator{store: store}
}

// Add records userID's reaction to messageID, replacing any previous
// reaction by the same user. Returns false if the message is not cached,
// which callers treat as a conflict (for example a reaction to a message
// deleted moments earlier).
func (a *ReactionAggregator) Add(messageID, userID, emoji string) bool {
	return a.store.ApplyReaction(messageID, Reaction{UserID: userID, Emoji: emoji}, false)
}

// Remove clears userID's reaction on messageID if present; removing a
// reaction that does not exist is a no-op. Returns false only if the
// message itself is not cached.
func (a *ReactionAggregator) Remove(messageID, userID string) bool {
	return a.store.ApplyReaction(messageID, Reaction{UserID: userID}, true)
}

// Reactions returns the current reaction list for a message in arrival
// order.
func (a *ReactionAggregator) Reactions(messageID string) []Reaction {
	m, ok := a.store.Get(messageID)
	if !ok {
		return nil
	}
	return m.Reactions
}
