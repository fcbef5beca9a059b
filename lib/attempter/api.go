// Package attempter is the update engine's top-level state machine
// (spec.md sec.4.6): a single in-flight update attempt at a time, guarded
// by a lock the way sub/rpcd's Update()/Poll() pair guards fetchInProgress/
// updateInProgress, with a read-only status snapshot for pollers and
// tricorder metrics registered the way dom/herd/metrics.go registers its
// CumulativeDistributions.
package attempter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cloud-Foundations/abupdate/lib/bootslot"
	liblog "github.com/Cloud-Foundations/abupdate/lib/log"
	"github.com/Cloud-Foundations/abupdate/lib/pipeline"
	"github.com/Cloud-Foundations/abupdate/lib/policy"
	"github.com/Cloud-Foundations/abupdate/lib/prefs"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// State is the attempter's top-level status (spec.md sec.4.6).
type State int

const (
	Idle State = iota
	CheckingForUpdate
	UpdateAvailable
	Downloading
	Verifying
	Finalizing
	UpdatedNeedReboot
	ReportingError
	DisabledForEnterprise
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CheckingForUpdate:
		return "checking-for-update"
	case UpdateAvailable:
		return "update-available"
	case Downloading:
		return "downloading"
	case Verifying:
		return "verifying"
	case Finalizing:
		return "finalizing"
	case UpdatedNeedReboot:
		return "updated-need-reboot"
	case ReportingError:
		return "reporting-error"
	case DisabledForEnterprise:
		return "disabled-for-enterprise"
	default:
		return "UNKNOWN state"
	}
}

// Status is a point-in-time snapshot of the attempter, safe to read
// without holding the attempter's own lock (spec.md sec.4.6).
type Status struct {
	State               State
	CurrentVersion      string
	NewVersion          string
	Progress            float64 // fraction of the current payload applied, [0,1]
	LastCheckedAt       time.Time
	LastError           error
	ConsecutiveFailures uint64
}

// Clock abstracts wall-clock time so tests can control it (spec.md
// sec.9 "Design Notes" dependency-injection requirement).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CheckCollaborator resolves an install plan from the external
// update-check service (spec.md sec.1: this module consumes an
// already-resolved InstallPlan, it does not speak the update-check
// protocol itself).
type CheckCollaborator interface {
	CheckForUpdate(ctx context.Context, currentVersion string, interactive bool) (*update.InstallPlan, error)
}

// PipelineFactory builds the action pipeline for a given InstallPlan.
// Injected so tests can substitute a fake pipeline (spec.md sec.9).
type PipelineFactory func(plan *update.InstallPlan) (*pipeline.Processor, error)

// Attempter is the top-level update state machine. Only one check/apply
// attempt runs at a time, mirroring sub/rpcd's single-in-flight-operation
// guard.
type Attempter struct {
	hal      bootslot.HAL
	store    *prefs.Store
	check    CheckCollaborator
	newPipe  PipelineFactory
	clock    Clock
	logger   liblog.DebugLogger
	metrics  *metricsSet

	mu       sync.Mutex
	status   Status
	running  bool
	cancelFn context.CancelFunc
}

// New returns an Attempter. clock and logger may be nil to use their
// defaults (a real clock, a discarding logger).
func New(hal bootslot.HAL, store *prefs.Store, check CheckCollaborator,
	newPipe PipelineFactory, clock Clock, logger liblog.DebugLogger) *Attempter {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = liblog.Discard()
	}
	return &Attempter{
		hal:     hal,
		store:   store,
		check:   check,
		newPipe: newPipe,
		clock:   clock,
		logger:  logger,
		metrics: newMetricsSet(),
		status:  Status{State: Idle},
	}
}

// Status returns a copy of the current status snapshot.
func (a *Attempter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Attempter) setState(s State) {
	a.mu.Lock()
	a.status.State = s
	a.mu.Unlock()
	a.metrics.stateTransitions.Add(1)
}

// deviceID returns this device's persisted boot-id, generating and
// storing one on first use (spec.md sec.6).
func (a *Attempter) deviceID() (string, error) {
	id, ok, err := a.store.GetString(prefs.BootID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := a.store.SetString(prefs.BootID, id); err != nil {
		return "", err
	}
	return id, nil
}

// CheckAndApply runs one full check-for-update/download/apply attempt.
// It returns immediately with ErrAlreadyRunning if another attempt is
// already in flight.
func (a *Attempter) CheckAndApply(ctx context.Context, ctxPolicy *policy.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	ctx, cancel := context.WithCancel(ctx)
	a.cancelFn = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.cancelFn = nil
		a.mu.Unlock()
	}()

	decision := policy.UpdateCheckAllowed.Evaluate(ctxPolicy)
	switch decision.Status {
	case policy.Failed:
		a.recordError(fmt.Errorf("update check not allowed: %s", decision.Reason))
		if decision.FailureCode == update.OmahaUpdateIgnoredPerPolicy && ctxPolicy.EnterpriseManaged {
			a.setState(DisabledForEnterprise)
		}
		return fmt.Errorf("%w: %s", ErrPolicyDenied, decision.Reason)
	case policy.AskMeAgainLater:
		a.mu.Lock()
		a.status.LastCheckedAt = a.clock.Now()
		a.mu.Unlock()
		return nil
	case policy.Succeeded:
		// A policy explicitly short-circuited approval (e.g. recovery
		// mode); proceed as if Continue.
	}

	a.setState(CheckingForUpdate)
	a.metrics.checksStarted.Add(1)
	attemptStart := a.clock.Now()
	defer func() {
		a.metrics.applyTime.Add(a.clock.Now().Sub(attemptStart))
	}()

	currentVersion := ctxPolicy.CurrentVersion
	plan, err := a.check.CheckForUpdate(ctx, currentVersion, ctxPolicy.Interactive)
	a.mu.Lock()
	a.status.LastCheckedAt = a.clock.Now()
	a.mu.Unlock()
	if err != nil {
		a.recordError(err)
		return err
	}
	if plan == nil || len(plan.Payloads) == 0 {
		a.setState(Idle)
		return nil
	}

	a.setState(UpdateAvailable)
	lastPayload := plan.Payloads[len(plan.Payloads)-1]
	ctxPolicy.TargetVersion = lastPayload.TargetVersion
	ctxPolicy.IsDeltaPayload = lastPayload.Type == update.PayloadTypeDelta || lastPayload.Type == update.PayloadTypeMinorDelta
	a.mu.Lock()
	a.status.NewVersion = ctxPolicy.TargetVersion
	a.mu.Unlock()

	startDecision := policy.UpdateCanStart.Evaluate(ctxPolicy)
	switch startDecision.Status {
	case policy.Failed:
		a.recordError(fmt.Errorf("update not allowed to start: %s", startDecision.Reason))
		return fmt.Errorf("%w: %s", ErrPolicyDenied, startDecision.Reason)
	case policy.AskMeAgainLater:
		a.mu.Lock()
		a.status.State = Idle
		a.mu.Unlock()
		return nil
	case policy.Succeeded:
		// proceed as if Continue
	}

	proc, err := a.newPipe(plan)
	if err != nil {
		a.recordError(err)
		return err
	}

	a.setState(Downloading)
	a.metrics.payloadAttemptCount.Add(1)
	downloadStart := a.clock.Now()
	code, err := proc.Run()
	a.metrics.downloadTime.Add(a.clock.Now().Sub(downloadStart))
	if code != update.Success {
		if err == nil {
			err = fmt.Errorf("terminal code %s", code)
		}
		wrapped := fmt.Errorf("attempt failed: %s: %w", code, err)
		a.recordError(wrapped)
		if code != update.UserCancelled {
			a.metrics.abnormalTerminations.Add(1)
		}
		if update.Classify(code) == update.ClassRetryableWithBackoff {
			if backoffErr := a.recordBackoff(); backoffErr != nil {
				a.logger.Printf("attempter: recording backoff state: %v", backoffErr)
			}
		}
		return wrapped
	}

	applyDecision := policy.UpdateCanBeApplied.Evaluate(ctxPolicy)
	switch applyDecision.Status {
	case policy.Failed:
		wrapped := fmt.Errorf("update not allowed to be applied: %s", applyDecision.Reason)
		a.recordError(wrapped)
		return fmt.Errorf("%w: %s", ErrPolicyDenied, applyDecision.Reason)
	case policy.AskMeAgainLater:
		a.mu.Lock()
		a.status.State = Idle
		a.mu.Unlock()
		return nil
	case policy.Succeeded:
		// proceed as if Continue
	}

	a.setState(Finalizing)
	if err := a.hal.SetActive(plan.TargetSlot); err != nil {
		wrapped := fmt.Errorf("attempt failed: %s: %w", update.UpdatedButNotActive, err)
		a.recordError(wrapped)
		return wrapped
	}
	if err := a.store.ClearPerAttempt(); err != nil {
		a.logger.Printf("attempter: clearing per-attempt prefs: %v", err)
	}
	if id, err := a.deviceID(); err != nil {
		a.logger.Printf("attempter: reading boot-id: %v", err)
	} else if err := a.store.SetString(prefs.UpdateCompletedOnBootID, id); err != nil {
		a.logger.Printf("attempter: recording update-completed boot-id: %v", err)
	}
	a.setState(UpdatedNeedReboot)
	a.metrics.checksSucceeded.Add(1)
	return nil
}

// recordBackoff bumps the persisted payload-attempt counter and derives a
// new backoff-expiry from it (spec.md sec.7's retryable-with-backoff
// class), so the next policy.Context built from the store defers the
// following check until the expiry passes.
func (a *Attempter) recordBackoff() error {
	count, _, err := a.store.GetInt(prefs.PayloadAttemptNumber)
	if err != nil {
		return err
	}
	count++
	if err := a.store.SetInt(prefs.PayloadAttemptNumber, count); err != nil {
		return err
	}
	expiry := policy.NextBackoffExpiry(a.clock.Now(), uint64(count))
	return a.store.SetInt(prefs.BackoffExpiry, expiry.Unix())
}

func (a *Attempter) recordError(err error) {
	a.mu.Lock()
	a.status.LastError = err
	a.status.ConsecutiveFailures++
	a.status.State = ReportingError
	a.mu.Unlock()
	a.metrics.checksFailed.Add(1)
}

// Cancel terminates any in-flight attempt.
func (a *Attempter) Cancel() {
	a.mu.Lock()
	cancel := a.cancelFn
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ErrAlreadyRunning is returned by CheckAndApply when another attempt is
// already in flight.
var ErrAlreadyRunning = errors.New("attempter: an attempt is already in progress")

// ErrPolicyDenied is returned when any of the three policy gates
// (policy.UpdateCheckAllowed, policy.UpdateCanStart or
// policy.UpdateCanBeApplied) refuses the attempt outright.
var ErrPolicyDenied = errors.New("attempter: update check denied by policy")
