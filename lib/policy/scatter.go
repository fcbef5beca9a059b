package policy

import (
	"hash/fnv"
	"math"
	"time"
)

// ScatterWait returns a deterministic fraction of factorSeconds derived
// from deviceID, so a large fleet of devices spreads its automatic
// checks across the window instead of synchronizing on every reboot
// (spec.md sec.9 Open Question, resolved in DESIGN.md):
//
//	wait = factorSeconds * fnv1a32(deviceID) / math.MaxUint32
//
// clamped to [0, factorSeconds].
func ScatterWait(deviceID string, factorSeconds int) time.Duration {
	if factorSeconds <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	fraction := float64(h.Sum32()) / float64(math.MaxUint32)
	seconds := fraction * float64(factorSeconds)
	if seconds < 0 {
		seconds = 0
	}
	if seconds > float64(factorSeconds) {
		seconds = float64(factorSeconds)
	}
	return time.Duration(seconds * float64(time.Second))
}
