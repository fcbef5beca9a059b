package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Cloud-Foundations/abupdate/lib/policy"
)

// policyFileVars are the Vars the on-disk device-policy file can change
// (spec.md sec.4.7): enterprise overrides, not device-local state like
// the clock or interactivity. A PolicyWatcher write event only earns an
// immediate re-check when the last deferred decision actually consulted
// one of these.
var policyFileVars = []policy.Var{
	policy.VarMinimumVersion,
	policy.VarDisallowedIntervals,
	policy.VarRollbackAllowedByPolicy,
}

// reevalScheduler remembers the most recent AskMeAgainLater deferral's
// consulted Vars, so a device-policy file change can decide whether it
// actually invalidates that deferral (spec.md sec.4.5: "changing V
// re-invokes the callback; changing variables not read does not"),
// instead of re-checking on every write.
type reevalScheduler struct {
	expiration time.Duration

	live       bool
	consulted  []policy.Var
	deferredAt time.Time
}

func newReevalScheduler(expiration time.Duration) *reevalScheduler {
	return &reevalScheduler{expiration: expiration}
}

// record updates the scheduler from one evaluation round's outcome. Any
// status other than AskMeAgainLater clears the deferral: there is
// nothing left to wake early for.
func (s *reevalScheduler) record(status policy.Status, ctxPolicy *policy.Context, now time.Time) {
	if status != policy.AskMeAgainLater {
		s.live = false
		return
	}
	s.live = true
	s.consulted = ctxPolicy.Consulted()
	s.deferredAt = now
}

// anyDeferred reports AskMeAgainLater if any of decisions is, so record
// can be fed the combined outcome of every composite runOnce probes
// (update_check_allowed, plus update_can_be_applied/update_can_start
// probed ahead of a resolved plan purely to capture their Var reads).
func anyDeferred(decisions ...policy.Decision) policy.Status {
	for _, d := range decisions {
		if d.Status == policy.AskMeAgainLater {
			return policy.AskMeAgainLater
		}
	}
	return policy.Continue
}

// shouldReevaluate reports whether a device-policy file change observed
// at now warrants an immediate re-check.
func (s *reevalScheduler) shouldReevaluate(now time.Time) bool {
	if !s.live {
		return false
	}
	if s.expiration > 0 && now.Sub(s.deferredAt) > s.expiration {
		s.live = false
		return false
	}
	for _, v := range s.consulted {
		for _, fv := range policyFileVars {
			if v == fv {
				return true
			}
		}
	}
	return false
}

// evaluateWithTimeout runs p and reports an overrun against budget, the
// wall time spec.md sec.6's evaluation_timeout_ms configures. Policy
// rules are synchronous pure functions over already-resolved fields and
// cannot be preempted mid-call without risking a concurrent write into
// ctxPolicy's own read-tracking map from an abandoned goroutine, so
// budget is enforced by measurement rather than by racing a timer
// against the call: an overrun is logged, not aborted.
func evaluateWithTimeout(p policy.Policy, ctxPolicy *policy.Context, budget time.Duration) policy.Decision {
	start := time.Now()
	d := p.Evaluate(ctxPolicy)
	if elapsed := time.Since(start); budget > 0 && elapsed > budget {
		fmt.Fprintf(os.Stderr, "update-engine: policy evaluation %q took %s, exceeding its %s budget\n",
			p.Name(), elapsed, budget)
	}
	return d
}
