package main

import (
	"testing"
	"time"

	"github.com/Cloud-Foundations/abupdate/lib/policy"
)

func TestReevalSchedulerIgnoresChangeWithNoLiveDeferral(t *testing.T) {
	s := newReevalScheduler(time.Hour)
	if s.shouldReevaluate(time.Now()) {
		t.Error("expected no re-evaluation with no recorded decision")
	}
}

func TestReevalSchedulerTriggersAfterMinimumVersionConsulted(t *testing.T) {
	s := newReevalScheduler(time.Hour)
	ctx := policy.NewContext()
	ctx.OfficialBuild = true
	ctx.MinimumVersion = "5.0.0"
	ctx.TargetVersion = "4.0.0"

	policy.UpdateCanBeApplied.Evaluate(ctx)
	if !ctx.ConsultedAny(policy.VarMinimumVersion) {
		t.Fatal("test setup: expected MinimumVersionCheck to consult VarMinimumVersion")
	}
	// MinimumVersionCheck fails outright here (target below the floor),
	// not AskMeAgainLater; record is fed a synthetic deferral to
	// exercise the actual Var-driven re-evaluation trigger against a
	// realistic Consulted() set.
	s.record(policy.AskMeAgainLater, ctx, time.Now())

	if !s.shouldReevaluate(time.Now()) {
		t.Error("expected a deferral that consulted VarMinimumVersion to trigger a re-evaluation")
	}
}

func TestReevalSchedulerExpiresStaleDeferral(t *testing.T) {
	s := newReevalScheduler(time.Millisecond)
	s.live = true
	s.consulted = []policy.Var{policy.VarMinimumVersion}
	s.deferredAt = time.Now().Add(-time.Hour)

	if s.shouldReevaluate(time.Now()) {
		t.Error("expected an expired deferral to not trigger a re-evaluation")
	}
	if s.live {
		t.Error("expected shouldReevaluate to clear an expired deferral")
	}
}

func TestReevalSchedulerIgnoresUnrelatedVars(t *testing.T) {
	s := newReevalScheduler(time.Hour)
	s.live = true
	s.consulted = []policy.Var{policy.VarClockNow, policy.VarInteractive}
	s.deferredAt = time.Now()

	if s.shouldReevaluate(time.Now()) {
		t.Error("expected a deferral that never consulted a policy-file Var to not trigger")
	}
}

func TestReevalSchedulerTriggersForDisallowedIntervals(t *testing.T) {
	s := newReevalScheduler(time.Hour)
	s.live = true
	s.consulted = []policy.Var{policy.VarDisallowedIntervals}
	s.deferredAt = time.Now()

	if !s.shouldReevaluate(time.Now()) {
		t.Error("expected a deferral that consulted VarDisallowedIntervals to trigger")
	}
}

func TestReevalSchedulerRecordClearsOnNonDeferredStatus(t *testing.T) {
	s := newReevalScheduler(time.Hour)
	s.live = true
	s.consulted = []policy.Var{policy.VarMinimumVersion}
	s.deferredAt = time.Now()

	ctx := policy.NewContext()
	s.record(policy.Succeeded, ctx, time.Now())
	if s.live {
		t.Error("expected a non-deferred status to clear the live deferral")
	}
}

func TestAnyDeferredFindsASingleDeferralAmongDecisions(t *testing.T) {
	got := anyDeferred(
		policy.Decision{Status: policy.Continue},
		policy.Decision{Status: policy.AskMeAgainLater},
		policy.Decision{Status: policy.Succeeded},
	)
	if got != policy.AskMeAgainLater {
		t.Errorf("got %v, want AskMeAgainLater", got)
	}
}

func TestAnyDeferredReturnsContinueWhenNoneDeferred(t *testing.T) {
	got := anyDeferred(
		policy.Decision{Status: policy.Continue},
		policy.Decision{Status: policy.Succeeded},
	)
	if got == policy.AskMeAgainLater {
		t.Error("did not expect AskMeAgainLater when no decision deferred")
	}
}

func TestEvaluateWithTimeoutRunsSynchronouslyWithZeroBudget(t *testing.T) {
	ctx := policy.NewContext()
	ctx.NumSlots = 2
	ctx.OfficialBuild = true
	ctx.OOBEComplete = true
	d := evaluateWithTimeout(policy.UpdateCheckAllowed, ctx, 0)
	if d.Status != policy.Continue && d.Status != policy.Succeeded {
		t.Errorf("got status %v, want Continue or Succeeded for a fully-permissive context", d.Status)
	}
}

func TestEvaluateWithTimeoutReturnsTheUnderlyingDecisionEvenOverBudget(t *testing.T) {
	ctx := policy.NewContext()
	d := evaluateWithTimeout(slowPolicy{}, ctx, time.Nanosecond)
	if d.Status != policy.Succeeded {
		t.Errorf("got status %v, want the slow policy's own Succeeded decision unchanged", d.Status)
	}
}

type slowPolicy struct{}

func (slowPolicy) Name() string { return "slow" }
func (slowPolicy) Evaluate(ctx *policy.Context) policy.Decision {
	time.Sleep(time.Millisecond)
	return policy.Decision{Status: policy.Succeeded, Reason: "slow but done"}
}
