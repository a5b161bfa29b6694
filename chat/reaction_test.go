package chat

import (
	"testing"
	"time"
)

func reactionFixture(t *testing.T) (*Store, *ReactionAggregator) {
	t.Helper()
	s := NewStore()
	s.Append(Message{ID: "m-1", ChatID: "c-1", Status: StatusSent, CreatedAt: time.Unix(100, 0)})
	return s, NewReactionAggregator(s)
}

func TestAddReaction(t *testing.T) {
	_, a := reactionFixture(t)

	if !a.Add("m-1", "alice", "👍") {
		t.Fatal("Add returned false for known message")
	}
	got := a.Reactions("m-1")
	if len(got) != 1 || got[0].UserID != "alice" || got[0].Emoji != "👍" {
		t.Fatalf("unexpected reactions: %+v", got)
	}
}

func TestSecondReactionReplaces(t *testing.T) {
	_, a := reactionFixture(t)

	a.Add("m-1", "alice", "👍")
	a.Add("m-1", "bob", "🎉")
	a.Add("m-1", "alice", "❤️")

	got := a.Reactions("m-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 reactions (one per user), got %d", len(got))
	}
	// Arrival order is preserved; alice's entry carries her latest emoji.
	if got[0].UserID != "alice" || got[0].Emoji != "❤️" {
		t.Errorf("expected alice ❤️ first, got %+v", got[0])
	}
	if got[1].UserID != "bob" || got[1].Emoji != "🎉" {
		t.Errorf("expected bob 🎉 second, got %+v", got[1])
	}
}

func TestRemoveReaction(t *testing.T) {
	_, a := reactionFixture(t)

	a.Add("m-1", "alice", "👍")
	a.Add("m-1", "bob", "🎉")

	if !a.Remove("m-1", "alice") {
		t.Fatal("Remove returned false for known message")
	}
	got := a.Reactions("m-1")
	if len(got) != 1 || got[0].UserID != "bob" {
		t.Fatalf("unexpected reactions after remove: %+v", got)
	}

	// Removing a reaction that does not exist is a no-op, not an error.
	if !a.Remove("m-1", "carol") {
		t.Error("Remove of absent reaction should still report the message found")
	}
	if len(a.Reactions("m-1")) != 1 {
		t.Error("no-op remove changed the reaction set")
	}
}

func TestReactionOnUnknownMessage(t *testing.T) {
	_, a := reactionFixture(t)

	// Reacting to a deleted/unknown message is a conflict for the caller.
	if a.Add("gone", "alice", "👍") {
		t.Error("Add should return false for unknown message")
	}
	if a.Remove("gone", "alice") {
		t.Error("Remove should return false for unknown message")
	}
}
