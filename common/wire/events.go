// Package wire defines the JSON frames exchanged over the push channel.
//
// The relay serialises these when delivering events to a connected bridge;
// the bridge deserialises them in its read loop. Both sides share this
// package so the frame shapes cannot drift apart.
package wire

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators. Every frame carries a "type" field.
const (
	TypeAuth               = "auth"
	TypeAuthOK             = "auth_ok"
	TypePing               = "ping"
	TypePong               = "pong"
	TypeNewMessage         = "new_message"
	TypeConnectionRequest  = "connection_request"
	TypeConnectionApproved = "connection_approved"
)

// Envelope is decoded first to learn a frame's type before dispatching to
// the concrete struct.
type Envelope struct {
	Type string `json:"type"`
}

// Auth is the first client→server frame on the push channel.
type Auth struct {
	Type   string `json:"type"`
	APIKey string `json:"api_key"`
}

// AuthOK is the first server→client frame after successful authentication.
type AuthOK struct {
	Type  string `json:"type"`
	Agent string `json:"agent"`
}

// Ping and Pong are the application-level heartbeat frames. The client may
// ping at any cadence; the server answers each ping with a pong.
type Ping struct {
	Type string `json:"type"`
}

type Pong struct {
	Type string `json:"type"`
}

// NewMessage notifies the recipient's bridge of a freshly persisted message.
// Content is the plaintext body (encryption applies at rest, not on the
// channel). ReplyToSessionKey and Room are routing hints the relay carries
// opaquely for the bridges.
type NewMessage struct {
	Type              string `json:"type"`
	SessionID         string `json:"session_id"`
	Subject           string `json:"subject"`
	FromAgent         string `json:"from_agent"`
	Content           string `json:"content"`
	MessageID         string `json:"message_id"`
	CreatedAt         string `json:"created_at"`
	ReplyToSessionKey string `json:"reply_to_session_key,omitempty"`
	Room              string `json:"room,omitempty"`
}

// Validate checks that a NewMessage carries the fields a bridge needs to
// route it. It returns a descriptive error on the first violation.
func (m *NewMessage) Validate() error {
	if m == nil {
		return fmt.Errorf("new_message must not be nil")
	}
	if m.SessionID == "" {
		return fmt.Errorf("session_id must not be empty")
	}
	if m.FromAgent == "" {
		return fmt.Errorf("from_agent must not be empty")
	}
	if m.MessageID == "" {
		return fmt.Errorf("message_id must not be empty")
	}
	return nil
}

// ConnectionRequest notifies the target of a pending handshake.
type ConnectionRequest struct {
	Type             string `json:"type"`
	ConnectionID     string `json:"connection_id"`
	FromAgent        string `json:"from_agent"`
	Message          string `json:"message,omitempty"`
	VerificationCode string `json:"verification_code"`
}

// ConnectionApproved notifies the requester that the target approved.
type ConnectionApproved struct {
	Type           string `json:"type"`
	ConnectionID   string `json:"connection_id"`
	ConnectedAgent string `json:"connected_agent"`
}

// FrameType extracts the type discriminator from a raw frame. It is the
// canonical first step of every read loop.
func FrameType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("wire parse: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("wire parse: frame has no type")
	}
	return env.Type, nil
}

// ParseAuth decodes an auth frame, rejecting frames of any other type.
func ParseAuth(data []byte) (*Auth, error) {
	var a Auth
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("wire parse auth: %w", err)
	}
	if a.Type != TypeAuth {
		return nil, fmt.Errorf("wire parse auth: unexpected type %q", a.Type)
	}
	return &a, nil
}

// ParseNewMessage decodes and validates a new_message frame.
func ParseNewMessage(data []byte) (*NewMessage, error) {
	var m NewMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire parse new_message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("wire validate new_message: %w", err)
	}
	return &m, nil
}
