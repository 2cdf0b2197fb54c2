// Package redact provides helpers for keeping API keys and other sensitive
// values out of log output.
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms. It is NOT a substitute
// for keeping secrets out of log call-sites in the first place.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(logLine, apiKey, gatewayToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// KeyPreview returns a loggable preview of an API key: its first 8 characters
// followed by an ellipsis. This matches the api_key_prefix the relay stores
// for operator display. Keys of 8 characters or fewer are fully redacted.
func KeyPreview(key string) string {
	if len(key) <= 8 {
		return placeholder
	}
	return key[:8] + "…"
}
