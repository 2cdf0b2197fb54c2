package retry

import "time"

// Backoff produces reconnect delays for long-lived connection loops: each
// call to Next doubles the previous delay, starting at Initial and capped at
// Max. Unlike Do, a Backoff never gives up; it is meant for loops that must
// keep reconnecting for the lifetime of the process.
//
// The zero value is not usable; populate Initial and Max.
type Backoff struct {
	// Initial is the first delay returned after a Reset.
	Initial time.Duration
	// Max caps the delay.
	Max time.Duration

	next time.Duration
}

// Next returns the delay to wait before the upcoming attempt and advances
// the internal state.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Initial
	}
	d := b.next
	if d > b.Max {
		d = b.Max
	}
	b.next = d * 2
	return d
}

// Reset returns the backoff to its initial delay. Call it after a successful
// (re)connection so the next failure starts the ladder from the bottom.
func (b *Backoff) Reset() {
	b.next = 0
}
