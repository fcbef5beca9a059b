// Package retry runs a function until it succeeds or a retry budget is
// exhausted. Carried over unchanged from the teacher's lib/retry; its
// one caller is cmd/update-engine, which retries starting a payload
// fetch with it.
package retry

import (
	"time"

	"github.com/Cloud-Foundations/abupdate/lib/backoffdelay"
)

type Params struct {
	MaxRetries   uint64               // Default: unlimited.
	RetryTimeout time.Duration        // Default: unlimited.
	Sleeper      backoffdelay.Sleeper // Default: 100 milliseconds.
}

// Retry runs fn until it returns true or retry limits are exceeded. It
// returns an error if retry limits are exceeded.
func Retry(fn func() bool, params Params) error {
	return retry(fn, params)
}
