package chat

import (
	"testing"
	"time"
)

func newTrackedMessage(t *testing.T, s *Store) string {
	t.Helper()
	s.Append(Message{
		LocalID:   "tmp-1",
		ChatID:    "c-1",
		Status:    StatusComposing,
		CreatedAt: time.Unix(100, 0),
	})
	return "tmp-1"
}

func TestForwardProgression(t *testing.T) {
	s := NewStore()
	tr := NewDeliveryTracker(s)
	localID := newTrackedMessage(t, s)

	if !tr.MarkSending(localID) {
		t.Fatal("composing -> sending should apply")
	}

	confirmed := Message{ID: "m-1", LocalID: localID, ChatID: "c-1", Status: StatusSent, CreatedAt: time.Unix(101, 0)}
	s.Resolve(localID, confirmed)

	for _, status := range []Status{StatusDelivered, StatusRead} {
		if !tr.Apply("m-1", status) {
			t.Fatalf("transition to %s should apply", status)
		}
	}
	if got, _ := tr.Status("m-1"); got != StatusRead {
		t.Errorf("expected read, got %s", got)
	}
}

func TestNoRegression(t *testing.T) {
	s := NewStore()
	tr := NewDeliveryTracker(s)
	s.Append(Message{ID: "m-1", ChatID: "c-1", Status: StatusSent, CreatedAt: time.Unix(100, 0)})

	tr.Apply("m-1", StatusRead)

	// Stale replays after reconnect must all be dropped.
	for _, stale := range []Status{StatusSent, StatusDelivered, StatusSending} {
		if tr.Apply("m-1", stale) {
			t.Errorf("stale %s applied after read", stale)
		}
	}
	if got, _ := tr.Status("m-1"); got != StatusRead {
		t.Errorf("expected read, got %s", got)
	}
}

func TestReadBeforeDelivered(t *testing.T) {
	s := NewStore()
	tr := NewDeliveryTracker(s)
	s.Append(Message{ID: "m-1", ChatID: "c-1", Status: StatusSent, CreatedAt: time.Unix(100, 0)})

	// Read arriving before delivered collapses both.
	if !tr.Apply("m-1", StatusRead) {
		t.Fatal("read should apply directly from sent")
	}
	if tr.Apply("m-1", StatusDelivered) {
		t.Error("delivered after read should be dropped")
	}
}

func TestFailAndRetry(t *testing.T) {
	s := NewStore()
	tr := NewDeliveryTracker(s)
	localID := newTrackedMessage(t, s)

	tr.MarkSending(localID)
	if !tr.Fail(localID) {
		t.Fatal("sending -> failed should apply")
	}
	m, _ := s.Get("local:" + localID)
	if m.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", m.Status)
	}

	if !tr.Retry(localID) {
		t.Fatal("failed -> sending retry should apply")
	}
	m, _ = s.Get("local:" + localID)
	if m.Status != StatusSending {
		t.Errorf("expected sending after retry, got %s", m.Status)
	}

	// Retry on a non-failed message is rejected.
	if tr.Retry(localID) {
		t.Error("retry should only apply to failed messages")
	}
}

func TestDiscardDropsPendingOnly(t *testing.T) {
	s := NewStore()
	tr := NewDeliveryTracker(s)
	localID := newTrackedMessage(t, s)

	if !tr.Discard(localID) {
		t.Fatal("pending message should be discardable")
	}
	if msgs := s.Messages("c-1"); len(msgs) != 0 {
		t.Fatalf("discard must leave no entry, got %d", len(msgs))
	}

	// Once confirmed, the message is owned by the server and stays put.
	s.Append(Message{LocalID: "tmp-2", ChatID: "c-1", Status: StatusSending, CreatedAt: time.Unix(101, 0)})
	s.Resolve("tmp-2", Message{ID: "m-1", LocalID: "tmp-2", ChatID: "c-1", Status: StatusSent, CreatedAt: time.Unix(102, 0)})
	if tr.Discard("tmp-2") {
		t.Error("confirmed message must not be discardable")
	}
	if _, ok := s.Get("m-1"); !ok {
		t.Error("confirmed message must survive a discard attempt")
	}
}

func TestApplyRejectsUnknownStatus(t *testing.T) {
	s := NewStore()
	tr := NewDeliveryTracker(s)
	s.Append(Message{ID: "m-1", ChatID: "c-1", Status: StatusSent, CreatedAt: time.Unix(100, 0)})

	if tr.Apply("m-1", Status("expedited")) {
		t.Error("unknown status string should be rejected")
	}
}

func TestDuplicateEventsAreIdempotent(t *testing.T) {
	s := NewStore()
	tr := NewDeliveryTracker(s)
	s.Append(Message{ID: "m-1", ChatID: "c-1", Status: StatusSent, CreatedAt: time.Unix(100, 0)})

	if !tr.Apply("m-1", StatusDelivered) {
		t.Fatal("first delivered should apply")
	}
	// The push channel may redeliver after a reconnect.
	if tr.Apply("m-1", StatusDelivered) {
		t.Error("duplicate delivered should be a no-op")
	}
	if got, _ := tr.Status("m-1"); got != StatusDelivered {
		t.Errorf("expected delivered, got %s", got)
	}
}
