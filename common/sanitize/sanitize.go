// Package sanitize normalises untrusted metadata carried on push events
// before it is embedded in the text injected into a local agent session.
//
// The message body itself is NOT sanitised; it is fenced with a nonce
// boundary by the bridge instead. These helpers only cover the header fields
// (sender name, subject, room) that appear outside the fence, where a stray
// newline or control character could forge header lines.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	agentNameStrip = regexp.MustCompile(`[^\w\s@.\-]`)
	roomStrip      = regexp.MustCompile(`[^\w\-]`)
	crlf           = strings.NewReplacer("\n", " ", "\r", "")
)

// AgentName reduces a sender name to word characters, spaces, and "@.-".
// Newlines become spaces. An empty result yields "unknown" so the framed
// header always names a sender.
func AgentName(s string) string {
	s = crlf.Replace(s)
	s = strings.TrimSpace(agentNameStrip.ReplaceAllString(s, ""))
	if s == "" {
		return "unknown"
	}
	return s
}

// Subject strips CR/LF from a subject line.
func Subject(s string) string {
	return crlf.Replace(s)
}

// Room reduces a room name to [A-Za-z0-9_-]. An empty result means the room
// hint is dropped and the message is routed per-thread instead.
func Room(s string) string {
	return strings.TrimSpace(roomStrip.ReplaceAllString(s, ""))
}
