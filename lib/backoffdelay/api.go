// Package backoffdelay computes exponential cooldown intervals after
// repeated failures. It is carried over from the teacher's
// lib/backoffdelay almost unchanged; Sleeper is generic enough to serve
// spec.md sec.4.5's "Backoff" computation directly.
package backoffdelay

import (
	"time"
)

type Sleeper interface {
	Sleep()
}

// Resetter is implemented by Sleepers whose interval should restart from
// its minimum (e.g. after a policy decides a prior failure streak no
// longer applies).
type Resetter interface {
	Reset()
}

// NewExponential creates a Sleeper with specified minimum and maximum
// delays. If minimumDelay is less than or equal to 0, the default is 1
// second. If maximumDelay is less than or equal to minimumDelay, the
// default is 10 times minimumDelay. Each Sleep multiplies the interval by
// 1 + 2^-growthRate (growthRate 1 gives 1.5x), up to maximumDelay.
func NewExponential(minimumDelay, maximumDelay time.Duration,
	growthRate uint) Sleeper {
	return newExponential(minimumDelay, maximumDelay, growthRate)
}

// Expiry computes the point in time reached after count consecutive
// failures, starting from start, without mutating any Sleeper state.
// lib/policy.NextBackoffExpiry calls it to derive the backoff_expiry
// value the attempter persists (spec.md sec.6): a pure
// function of the failure count rather than in-process-only timer state,
// so it survives a restart.
func Expiry(start time.Time, minimumDelay, maximumDelay time.Duration,
	growthRate uint, count uint64) time.Time {
	if minimumDelay <= 0 {
		minimumDelay = time.Second
	}
	if maximumDelay <= minimumDelay {
		maximumDelay = 10 * minimumDelay
	}
	interval := minimumDelay
	total := time.Duration(0)
	for i := uint64(0); i < count; i++ {
		total += interval
		interval += interval >> growthRate
		if interval > maximumDelay {
			interval = maximumDelay
		}
	}
	if total > maximumDelay*time.Duration(count+1) {
		total = maximumDelay * time.Duration(count+1)
	}
	return start.Add(total)
}
