package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func msgAt(id, chatID string, ts int64) Message {
	return Message{
		ID:          id,
		ChatID:      chatID,
		SenderID:    "alice",
		ReceiverID:  "bob",
		ContentType: ContentText,
		Text:        "msg-" + id,
		Status:      StatusSent,
		CreatedAt:   time.Unix(ts, 0),
	}
}

func TestAppendDeduplicatesByID(t *testing.T) {
	s := NewStore()

	m := msgAt("m-1", "c-1", 100)
	s.Append(m)
	s.Append(m)
	s.Append(m)

	msgs := s.Messages("c-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after duplicate appends, got %d", len(msgs))
	}
}

func TestAppendKeepsDisplayOrder(t *testing.T) {
	s := NewStore()

	s.Append(msgAt("m-3", "c-1", 300))
	s.Append(msgAt("m-1", "c-1", 100))
	s.Append(msgAt("m-2", "c-1", 200))

	msgs := s.Messages("c-1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"m-1", "m-2", "m-3"} {
		if msgs[i].ID != want {
			t.Errorf("index %d: expected %s, got %s", i, want, msgs[i].ID)
		}
	}
}

func TestOrderTieBreaksOnID(t *testing.T) {
	s := NewStore()

	// Same timestamp: id lexical order decides.
	s.Append(msgAt("m-b", "c-1", 100))
	s.Append(msgAt("m-a", "c-1", 100))

	msgs := s.Messages("c-1")
	if msgs[0].ID != "m-a" || msgs[1].ID != "m-b" {
		t.Errorf("expected [m-a m-b], got [%s %s]", msgs[0].ID, msgs[1].ID)
	}
}

func TestSeedMergesPagesWithoutDuplicates(t *testing.T) {
	s := NewStore()

	// Page 1: the newest messages.
	s.Seed("c-1", []Message{msgAt("m-4", "c-1", 400), msgAt("m-5", "c-1", 500)}, true)
	// Page 2: older messages, with m-4 repeated at the page boundary.
	s.Seed("c-1", []Message{msgAt("m-2", "c-1", 200), msgAt("m-3", "c-1", 300), msgAt("m-4", "c-1", 400)}, false)

	msgs := s.Messages("c-1")
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	for i, want := range []string{"m-2", "m-3", "m-4", "m-5"} {
		if msgs[i].ID != want {
			t.Errorf("index %d: expected %s, got %s", i, want, msgs[i].ID)
		}
	}
	if s.HasMore("c-1") {
		t.Error("expected HasMore false after final page")
	}
}

func TestSeedAfterPushDuplicate(t *testing.T) {
	s := NewStore()

	// Push delivers m-1 moments before the history fetch containing it lands.
	s.Append(msgAt("m-1", "c-1", 100))
	s.Seed("c-1", []Message{msgAt("m-1", "c-1", 100), msgAt("m-2", "c-1", 200)}, false)

	msgs := s.Messages("c-1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestResolveReplacesPendingEntry(t *testing.T) {
	s := NewStore()

	pending := Message{
		LocalID:     "tmp-1",
		ChatID:      "c-1",
		SenderID:    "alice",
		ContentType: ContentText,
		Text:        "hello",
		Status:      StatusSending,
		CreatedAt:   time.Unix(100, 0),
	}
	s.Append(pending)

	if got := s.Messages("c-1"); len(got) != 1 || got[0].Status != StatusSending {
		t.Fatalf("expected one sending entry, got %+v", got)
	}

	confirmed := msgAt("m-42", "c-1", 101)
	confirmed.LocalID = "tmp-1"
	confirmed.Text = "hello"
	if !s.Resolve("tmp-1", confirmed) {
		t.Fatal("Resolve returned false for known local id")
	}

	msgs := s.Messages("c-1")
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 entry after reconciliation, got %d", len(msgs))
	}
	if msgs[0].ID != "m-42" || msgs[0].Text != "hello" || msgs[0].Status != StatusSent {
		t.Errorf("unexpected reconciled entry: %+v", msgs[0])
	}
}

func TestAppendReconcilesByCorrelationToken(t *testing.T) {
	s := NewStore()

	s.Append(Message{
		LocalID:   "tmp-1",
		ChatID:    "c-1",
		Text:      "hello",
		Status:    StatusSending,
		CreatedAt: time.Unix(100, 0),
	})

	// The push-delivered copy of our own send echoes the correlation token.
	confirmed := msgAt("m-42", "c-1", 101)
	confirmed.LocalID = "tmp-1"
	s.Append(confirmed)

	msgs := s.Messages("c-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(msgs))
	}
	if msgs[0].ID != "m-42" {
		t.Errorf("expected server id m-42, got %q", msgs[0].ID)
	}

	// A late Resolve for the same token merges into the promoted entry
	// instead of creating a second one.
	late := confirmed
	late.Status = StatusDelivered
	if !s.Resolve("tmp-1", late) {
		t.Error("Resolve should still recognize the token after promotion")
	}
	msgs = s.Messages("c-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 entry after late confirmation, got %d", len(msgs))
	}
	if msgs[0].ID != "m-42" || msgs[0].Status != StatusDelivered {
		t.Errorf("unexpected merged entry: %+v", msgs[0])
	}
}

func TestLateConfirmationCollapsesOntoPromotedEntry(t *testing.T) {
	s := NewStore()

	s.Append(Message{
		LocalID:   "tmp-1",
		ChatID:    "c-1",
		Text:      "hello",
		Status:    StatusSending,
		CreatedAt: time.Unix(100, 0),
	})

	pushed := msgAt("m-42", "c-1", 101)
	pushed.LocalID = "tmp-1"
	s.Append(pushed)

	// A confirmation appended for the same token must not become a second
	// entry even if its copy differs.
	dup := pushed
	dup.Status = StatusDelivered
	s.Append(dup)

	msgs := s.Messages("c-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(msgs))
	}
	if msgs[0].Status != StatusDelivered {
		t.Errorf("expected delivered after merge, got %s", msgs[0].Status)
	}

	if pending := s.PendingIn("c-1"); len(pending) != 0 {
		t.Errorf("confirmed entry must not report as pending, got %v", pending)
	}
}

func TestApplyStatusNeverRegresses(t *testing.T) {
	s := NewStore()
	s.Append(msgAt("m-1", "c-1", 100))

	if !s.ApplyStatus("m-1", StatusRead) {
		t.Fatal("expected read transition to apply")
	}
	if s.ApplyStatus("m-1", StatusDelivered) {
		t.Error("stale delivered event should not apply after read")
	}
	m, _ := s.Get("m-1")
	if m.Status != StatusRead {
		t.Errorf("expected status read, got %s", m.Status)
	}
}

func TestApplyStatusUnknownMessage(t *testing.T) {
	s := NewStore()
	if s.ApplyStatus("nope", StatusRead) {
		t.Error("expected false for unknown message id")
	}
}

func TestFailedOnlyFromInFlight(t *testing.T) {
	s := NewStore()
	s.Append(msgAt("m-1", "c-1", 100)) // already sent

	if s.ApplyStatus("m-1", StatusFailed) {
		t.Error("a sent message must not transition to failed")
	}

	s.Append(Message{LocalID: "tmp-1", ChatID: "c-1", Status: StatusSending, CreatedAt: time.Unix(101, 0)})
	if !s.ApplyStatus("local:tmp-1", StatusFailed) {
		t.Error("a sending message should transition to failed")
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := NewStore()
	s.Append(msgAt("m-1", "c-1", 100))
	s.Append(msgAt("m-2", "c-1", 200))

	if !s.Delete("m-1") {
		t.Fatal("Delete returned false for known id")
	}
	if s.Delete("m-1") {
		t.Error("second Delete should return false")
	}
	if got := s.Messages("c-1"); len(got) != 1 || got[0].ID != "m-2" {
		t.Fatalf("unexpected remaining messages: %+v", got)
	}

	s.Clear("c-1")
	if got := s.Messages("c-1"); len(got) != 0 {
		t.Fatalf("expected empty chat after Clear, got %d", len(got))
	}
}

func TestOldestCursor(t *testing.T) {
	s := NewStore()

	if _, ok := s.Oldest("c-1"); ok {
		t.Fatal("expected no oldest for empty chat")
	}
	s.Append(msgAt("m-2", "c-1", 200))
	s.Append(msgAt("m-1", "c-1", 100))

	oldest, ok := s.Oldest("c-1")
	if !ok || oldest.ID != "m-1" {
		t.Errorf("expected oldest m-1, got %+v ok=%v", oldest, ok)
	}
}

func TestConcurrentAppendAndRead(t *testing.T) {
	s := NewStore()
	goroutines := 50
	perGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.Append(msgAt(fmt.Sprintf("m-%03d-%03d", id, i), "c-1", int64(id*perGoroutine+i)))
				// Interleave reads to stress the RWMutex.
				_ = s.Messages("c-1")
			}
		}(g)
	}
	wg.Wait()

	msgs := s.Messages("c-1")
	if len(msgs) != goroutines*perGoroutine {
		t.Fatalf("expected %d messages, got %d", goroutines*perGoroutine, len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("order violated at index %d", i)
		}
	}
}

func TestSnapshotsDoNotShareReactionStorage(t *testing.T) {
	s := NewStore()
	s.Append(msgAt("m-1", "c-1", 100))
	s.ApplyReaction("m-1", Reaction{UserID: "bob", Emoji: "👍"}, false)

	snap, ok := s.Get("m-1")
	if !ok {
		t.Fatal("expected message")
	}
	list := s.Messages("c-1")

	s.ApplyReaction("m-1", Reaction{UserID: "bob", Emoji: "🔥"}, false)

	if snap.Reactions[0].Emoji != "👍" {
		t.Errorf("Get snapshot mutated by later reaction: %v", snap.Reactions)
	}
	if list[0].Reactions[0].Emoji != "👍" {
		t.Errorf("Messages snapshot mutated by later reaction: %v", list[0].Reactions)
	}
}

func TestConcurrentReactionAndSnapshot(t *testing.T) {
	s := NewStore()
	s.Append(msgAt("m-1", "c-1", 100))
	s.ApplyReaction("m-1", Reaction{UserID: "bob", Emoji: "👍"}, false)

	emojis := []string{"👍", "🔥"}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.ApplyReaction("m-1", Reaction{UserID: "bob", Emoji: emojis[i%2]}, false)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if m, ok := s.Get("m-1"); ok && len(m.Reactions) > 0 {
				_ = m.Reactions[0].Emoji
			}
		}
	}()
	wg.Wait()
}
