package wire_test

import (
	"testing"

	"github.com/dudu1111685/openclawMail/common/wire"
)

func TestFrameType(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"ping", `{"type":"ping"}`, wire.TypePing, false},
		{"new_message", `{"type":"new_message","session_id":"s"}`, wire.TypeNewMessage, false},
		{"missing type", `{"session_id":"s"}`, "", true},
		{"not json", `hello`, "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := wire.FrameType([]byte(tc.raw))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("FrameType: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseNewMessage(t *testing.T) {
	raw := `{
		"type": "new_message",
		"session_id": "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		"subject": "Hi",
		"from_agent": "alice",
		"content": "hello bob",
		"message_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1",
		"created_at": "2026-01-05T12:00:00Z",
		"reply_to_session_key": "agent:main:dm:owner",
		"room": "standup"
	}`

	m, err := wire.ParseNewMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseNewMessage: %v", err)
	}

	if m.FromAgent != "alice" {
		t.Errorf("FromAgent: got %q", m.FromAgent)
	}
	if m.ReplyToSessionKey != "agent:main:dm:owner" {
		t.Errorf("ReplyToSessionKey: got %q", m.ReplyToSessionKey)
	}
	if m.Room != "standup" {
		t.Errorf("Room: got %q", m.Room)
	}
}

func TestParseNewMessage_MissingFields(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no session_id", `{"type":"new_message","from_agent":"a","message_id":"m"}`},
		{"no from_agent", `{"type":"new_message","session_id":"s","message_id":"m"}`},
		{"no message_id", `{"type":"new_message","session_id":"s","from_agent":"a"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := wire.ParseNewMessage([]byte(tc.raw)); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
