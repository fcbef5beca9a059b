package policy

import (
	"time"

	"github.com/Cloud-Foundations/abupdate/lib/backoffdelay"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

type nameFunc func(ctx *Context) Decision

type fnPolicy struct {
	name string
	fn   nameFunc
}

func (p fnPolicy) Name() string             { return p.name }
func (p fnPolicy) Evaluate(ctx *Context) Decision { return p.fn(ctx) }

// RecoveryModeShortCircuit succeeds immediately when the device is
// running from a recovery/MiniOS image: normal policy gating does not
// apply there (spec.md sec.6's recovery short-circuit, supplemented from
// original_source/).
var RecoveryModeShortCircuit = fnPolicy{"recovery_mode_short_circuit", func(ctx *Context) Decision {
	if ctx.recoveryMode() {
		return succeeded("running from recovery image")
	}
	return continueDecision()
}}

// EnoughSlots fails fast on a device that does not have at least two
// boot slots to update between.
var EnoughSlots = fnPolicy{"enough_slots", func(ctx *Context) Decision {
	if ctx.numSlots() < 2 {
		return failed(update.BootSlotExternalError, "device does not have an alternate boot slot")
	}
	return continueDecision()
}}

// EnterpriseDevicePolicy fails every automatic check on an
// enterprise-managed device: being managed is itself treated as
// auto-update being disabled, and no separate update-disabled policy
// setting is read. An interactive (user-initiated) check is let through,
// which enterprise policy cannot veto (spec.md sec.4.5).
var EnterpriseDevicePolicy = fnPolicy{"enterprise_device_policy", func(ctx *Context) Decision {
	if !ctx.enterpriseManaged() {
		return continueDecision()
	}
	if ctx.interactive() {
		return continueDecision()
	}
	return failed(update.OmahaUpdateIgnoredPerPolicy, "enterprise device policy disables automatic updates")
}}

// ConsumerAutoUpdateOverride fails an automatic check when the owner has
// disabled automatic updates on a non-enterprise device, again letting
// an interactive request through (spec.md sec.6, supplemented from
// original_source/).
var ConsumerAutoUpdateOverride = fnPolicy{"consumer_auto_update_override", func(ctx *Context) Decision {
	if ctx.interactive() {
		return continueDecision()
	}
	if ctx.consumerAutoUpdateDisabled() {
		return failed(update.OmahaUpdateIgnoredPerPolicy, "automatic updates disabled by the device owner")
	}
	return continueDecision()
}}

// OfficialBuildCheck refuses to apply updates on a build that isn't
// officially signed, except when the caller is doing interactive
// development work.
var OfficialBuildCheck = fnPolicy{"official_build_check", func(ctx *Context) Decision {
	if ctx.officialBuild() || ctx.interactive() {
		return continueDecision()
	}
	return failed(update.PayloadPubKeyVerificationError, "refusing to auto-update an unofficial build")
}}

// OOBEGate fails an automatic check until out-of-box setup has finished.
var OOBEGate = fnPolicy{"oobe_gate", func(ctx *Context) Decision {
	if ctx.oobeComplete() || ctx.interactive() {
		return continueDecision()
	}
	return askAgainAt(ctx.clockNow().Add(time.Minute), "out-of-box setup has not completed")
}}

// NextCheckTimeGate defers an automatic check until the scheduled next
// check time has arrived.
var NextCheckTimeGate = fnPolicy{"next_check_time_gate", func(ctx *Context) Decision {
	if ctx.interactive() {
		return continueDecision()
	}
	now := ctx.clockNow()
	next := ctx.nextCheckTime()
	if next.IsZero() || !now.Before(next) {
		return continueDecision()
	}
	return askAgainAt(next, "next scheduled check has not arrived")
}}

// RollbackPermission fails a requested rollback the device policy does
// not permit.
var RollbackPermission = fnPolicy{"rollback_permission", func(ctx *Context) Decision {
	if !ctx.rollbackRequested() {
		return continueDecision()
	}
	if ctx.rollbackAllowedByPolicy() {
		return continueDecision()
	}
	return failed(update.RollbackNotPermitted, "rollback is not permitted by device policy")
}}

// MinimumVersionCheck refuses to apply a payload that would move the
// device below its administratively-pinned minimum version, unless the
// update was requested interactively, which bypasses the floor entirely
// (spec.md sec.4.5 update_can_be_applied item 1).
var MinimumVersionCheck = fnPolicy{"minimum_version_check", func(ctx *Context) Decision {
	if ctx.interactive() {
		return continueDecision()
	}
	min := ctx.minimumVersion()
	if min == "" {
		return continueDecision()
	}
	if versionLess(ctx.targetVersion(), min) {
		return failed(update.OmahaUpdateIgnoredPerPolicy, "target version is below the administratively-pinned minimum")
	}
	return continueDecision()
}}

// DisallowedTimeIntervals defers an automatic update that would start
// inside a configured blackout window (e.g. business hours).
var DisallowedTimeIntervals = fnPolicy{"disallowed_time_intervals", func(ctx *Context) Decision {
	if ctx.interactive() {
		return continueDecision()
	}
	now := ctx.clockNow()
	for _, interval := range ctx.disallowedIntervals() {
		if interval.Contains(now) {
			return askAgainAt(interval.End, "inside a disallowed time interval")
		}
	}
	return continueDecision()
}}

// ScatteringWait defers an automatic check until the device's
// deterministic per-device fraction of the configured scatter window has
// elapsed past the scheduled next check time (spec.md sec.8, Open Question
// resolved in DESIGN.md).
var ScatteringWait = fnPolicy{"scattering_wait", func(ctx *Context) Decision {
	if ctx.interactive() {
		return continueDecision()
	}
	factor := ctx.scatterFactorSeconds()
	if factor <= 0 {
		return continueDecision()
	}
	wait := ScatterWait(ctx.deviceID(), factor)
	readyAt := ctx.nextCheckTime().Add(wait)
	if !ctx.clockNow().Before(readyAt) {
		return continueDecision()
	}
	return askAgainAt(readyAt, "waiting out the scattering window")
}}

// BackoffGate defers a retry until a previously-recorded backoff expiry
// has passed. Backoff is suppressed entirely for an interactive request,
// a delta/minor-delta payload, or an unofficial build (spec.md sec.4.5,
// scenario S5's "an interactive update request clears the deferral").
var BackoffGate = fnPolicy{"backoff_gate", func(ctx *Context) Decision {
	if ctx.interactive() || ctx.isDeltaPayload() || !ctx.officialBuild() {
		return continueDecision()
	}
	expiry := ctx.backoffExpiry()
	if expiry.IsZero() {
		return continueDecision()
	}
	now := ctx.clockNow()
	if !now.Before(expiry) {
		return continueDecision()
	}
	return askAgainAt(expiry, "waiting out exponential backoff")
}}

// NextBackoffExpiry computes the next backoff_expiry value to persist
// after a failed attempt, using lib/backoffdelay's deterministic Expiry.
func NextBackoffExpiry(now time.Time, failureCount uint64) time.Time {
	return backoffdelay.Expiry(now, time.Minute, 8*time.Hour, 2, failureCount)
}

// versionLess does a best-effort dotted-version comparison; a malformed
// version string is treated as satisfying any floor, since a hard parse
// failure should not itself block progress (spec.md sec.9's "be
// conservative about what blocks, not about what proceeds").
func versionLess(a, b string) bool {
	as, bs := splitVersion(a), splitVersion(b)
	if len(as) == 0 || len(bs) == 0 {
		return false
	}
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}

func splitVersion(v string) []int {
	var parts []int
	cur := 0
	have := false
	for _, r := range v {
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
			have = true
			continue
		}
		if have {
			parts = append(parts, cur)
		}
		cur, have = 0, false
	}
	if have {
		parts = append(parts, cur)
	}
	return parts
}
