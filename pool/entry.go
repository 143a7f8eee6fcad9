package pool

import "time"

// TimedEntry pairs a pooled resource with its absolute idle-expiry
// deadline. A zero ExpiresAt means the entry never expires.
type TimedEntry[R any] struct {
	Resource  R
	ExpiresAt time.Time
}

func (e TimedEntry[R]) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
