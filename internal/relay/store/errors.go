package store

import "errors"

// Sentinel errors returned by store operations. The HTTP layer maps these to
// status codes; the store itself stays transport-agnostic.
var (
	ErrNotFound       = errors.New("not found")
	ErrNameTaken      = errors.New("agent name already taken")
	ErrActiveExists   = errors.New("active connection already exists")
	ErrPendingExists  = errors.New("pending request already exists")
	ErrTooManyPending = errors.New("too many pending connection requests")
	ErrCodeExhausted  = errors.New("could not generate a unique verification code")
	ErrExpired        = errors.New("connection code has expired")
	ErrNotTarget      = errors.New("not the target agent")
	ErrNotParticipant = errors.New("not a participant of this session")
)
