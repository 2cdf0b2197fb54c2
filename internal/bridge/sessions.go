package bridge

import (
	"fmt"
	"sync"
)

// sessionMap pins each remote session to one local session key so every
// message in the same thread lands in the same local context.
type sessionMap struct {
	mu sync.Mutex
	m  map[string]string
}

func newSessionMap() *sessionMap {
	return &sessionMap{m: make(map[string]string)}
}

// resolve returns the local session key for a remote session, computing
// and pinning it on first sight. Room threads share one local session per
// room; direct threads get per-thread isolation.
func (s *sessionMap) resolve(sessionID, fromAgent, room string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.m[sessionID]; ok {
		return key
	}

	var key string
	if room != "" {
		key = roomSessionKey(room)
	} else {
		key = dmSessionKey(fromAgent, sessionID)
	}
	s.m[sessionID] = key
	return key
}

func roomSessionKey(room string) string {
	return fmt.Sprintf("agent:main:dm:mailbox-room-%s", room)
}

// dmSessionKey isolates each remote thread with a short session-id suffix,
// so two threads from the same agent do not share local context.
func dmSessionKey(fromAgent, sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("agent:main:dm:mailbox-%s-%s", fromAgent, short)
}
