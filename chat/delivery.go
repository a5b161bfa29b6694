package chat

// localKey converts a correlation token into the store key used while a
// message is still awaiting its server id.
func localKey(localID string) string { return "local:" + localID }

// DeliveryTracker owns the per-message delivery state machine:
//
//	composing -> sending -> sent -> delivered -> read
//
// with failed as a parallel terminal state reachable from composing/sending.
// Transitions are monotonic forward only, which makes the tracker idempotent
// under duplicate or replayed status events: a read arriving before delivered
// is accepted as-is (delivered is implied), and a stale sent arriving after
// read is dropped.
//
// The tracker mutates status fields of entries already present in the store;
// it never creates or deletes entries.
type DeliveryTracker struct {
	store *Store
}

// NewDeliveryTracker creates a tracker over the given store.
func NewDeliveryTracker(store *Store) *DeliveryTracker {
	return &DeliveryTracker{store: store}
}

// Apply advances the identified message to status if that is a forward move.
// Returns true if the state changed.
func (t *DeliveryTracker) Apply(messageID string, status Status) bool {
	if !status.Valid() {
		return false
	}
	return t.store.ApplyStatus(messageID, status)
}

// MarkSending moves a pending (unconfirmed) message from composing to
// sending once its send request has been issued.
func (t *DeliveryTracker) MarkSending(localID string) bool {
	return t.store.ApplyStatus(localKey(localID), StatusSending)
}

// Fail moves a pending message to the failed terminal state. It has no
// effect on messages the server has already accepted.
func (t *DeliveryTracker) Fail(localID string) bool {
	return t.store.ApplyStatus(localKey(localID), StatusFailed)
}

// Retry moves a failed pending message back to sending so the caller can
// re-issue the send with the same content and attachment.
func (t *DeliveryTracker) Retry(localID string) bool {
	return t.store.ResetForRetry(localKey(localID))
}

// Discard removes a pending message outright, used when the user abandons
// the send (for example by cancelling its attachment upload). It only ever
// targets entries still keyed by correlation token; confirmed messages are
// out of its reach.
func (t *DeliveryTracker) Discard(localID string) bool {
	return t.store.Delete(localKey(localID))
}

// Status returns the current delivery state of a message, looked up by
// server id.
func (t *DeliveryTracker) Status(messageID string) (Status, bool) {
	m, ok := t.store.Get(messageID)
	if !ok {
		return "", false
	}
	return m.Status, true
}
