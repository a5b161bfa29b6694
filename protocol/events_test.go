package protocol

import (
	"encoding/json"
	"testing"

	"github.com/whisper/messenger-sdk/chat"
)

func TestParseMessageEvent(t *testing.T) {
	data := []byte(`{
		"type": "message",
		"id": "m-42",
		"local_id": "tmp-1",
		"chat_id": "c-1",
		"sender_id": "alice",
		"receiver_id": "bob",
		"content_type": "text",
		"text": "hello",
		"status": "sent",
		"created_at": "2026-01-15T10:30:00Z"
	}`)

	msgType, msg, err := ParseServerEvent(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	m, ok := msg.(MessageMsg)
	if !ok {
		t.Fatalf("expected MessageMsg, got %T", msg)
	}
	if m.ID != "m-42" || m.LocalID != "tmp-1" || m.Text != "hello" {
		t.Errorf("unexpected payload: %+v", m)
	}
	if m.Status != chat.StatusSent {
		t.Errorf("expected status sent, got %s", m.Status)
	}
}

func TestParseStatusEvent(t *testing.T) {
	data := []byte(`{"type":"message_status","chat_id":"c-1","message_id":"m-42","status":"read"}`)

	msgType, msg, err := ParseServerEvent(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessageStatus {
		t.Fatalf("expected type %q, got %q", TypeMessageStatus, msgType)
	}
	m := msg.(MessageStatusMsg)
	if m.MessageID != "m-42" || m.Status != chat.StatusRead {
		t.Errorf("unexpected payload: %+v", m)
	}
}

func TestParseReactionEvent(t *testing.T) {
	data := []byte(`{"type":"reaction","chat_id":"c-1","message_id":"m-42","user_id":"bob","emoji":"👍"}`)

	_, msg, err := ParseServerEvent(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := msg.(ReactionMsg)
	if m.UserID != "bob" || m.Emoji != "👍" || m.Removed {
		t.Errorf("unexpected payload: %+v", m)
	}
}

func TestParseUnknownType(t *testing.T) {
	_, _, err := ParseServerEvent([]byte(`{"type":"carrier_pigeon"}`))
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestParseMissingType(t *testing.T) {
	_, _, err := ParseServerEvent([]byte(`{"chat_id":"c-1"}`))
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, _, err := ParseServerEvent([]byte(`{"type":`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestNewClientMessageInjectsType(t *testing.T) {
	data, err := NewClientMessage(TypeTyping, TypingMsg{ChatID: "c-1", IsTyping: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeTyping {
		t.Errorf("expected type %q, got %v", TypeTyping, decoded["type"])
	}
	if decoded["chat_id"] != "c-1" || decoded["is_typing"] != true {
		t.Errorf("unexpected fields: %v", decoded)
	}
}

func TestAuthRoundTrip(t *testing.T) {
	data, err := NewClientMessage(TypeAuth, AuthMsg{Token: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypeAuth {
		t.Errorf("expected type %q, got %q", TypeAuth, env.Type)
	}

	var auth AuthMsg
	if err := json.Unmarshal(env.Raw, &auth); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth.Token != "secret" {
		t.Errorf("expected token to round-trip, got %q", auth.Token)
	}
}
