package policy

import "time"

// P2PBookkeeping tracks the rolling attempt/byte counters the policy
// layer uses to gate peer-to-peer payload sharing (spec.md sec.6,
// supplemented from original_source/): a device stops advertising or
// consuming P2P once it has spent too long or too many attempts trying,
// falling back to a direct download from the origin server.
type P2PBookkeeping struct {
	FirstAttemptTime time.Time
	NumAttempts      int
}

const (
	// MaxP2PAttempts bounds how many times a single payload is retried
	// over P2P before falling back to a direct download.
	MaxP2PAttempts = 5

	// MaxP2PAttemptWindow bounds how long P2P is attempted for a single
	// payload before falling back, independent of attempt count.
	MaxP2PAttemptWindow = 24 * time.Hour
)

// AllowP2P reports whether P2P should still be attempted for this
// payload, given the bookkeeping accumulated so far and the current
// time.
func AllowP2P(b P2PBookkeeping, now time.Time) bool {
	if b.NumAttempts >= MaxP2PAttempts {
		return false
	}
	if !b.FirstAttemptTime.IsZero() && now.Sub(b.FirstAttemptTime) > MaxP2PAttemptWindow {
		return false
	}
	return true
}

// RecordP2PAttempt returns updated bookkeeping after one more P2P
// attempt at now.
func RecordP2PAttempt(b P2PBookkeeping, now time.Time) P2PBookkeeping {
	if b.FirstAttemptTime.IsZero() {
		b.FirstAttemptTime = now
	}
	b.NumAttempts++
	return b
}
