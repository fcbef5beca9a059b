package policy

// UpdateCheckAllowed gates whether the attempter may even start an
// update check (spec.md sec.4.5): recovery mode, enough slots,
// enterprise/consumer auto-update policy, official-build status, OOBE
// completion, and the scheduled next-check time, each in the exact
// order spec.md §4.5 lists for this policy.
var UpdateCheckAllowed = NewComposite("update_check_allowed",
	RecoveryModeShortCircuit,
	EnoughSlots,
	ConsumerAutoUpdateOverride,
	EnterpriseDevicePolicy,
	OfficialBuildCheck,
	OOBEGate,
	NextCheckTimeGate,
)

// UpdateCanBeApplied gates whether a downloaded, verified payload may be
// written to the target slot (spec.md sec.4.5): rollback permission,
// minimum-version floor, and disallowed time intervals. An interactive
// update bypasses the latter two directly within each rule.
var UpdateCanBeApplied = NewComposite("update_can_be_applied",
	RollbackPermission,
	MinimumVersionCheck,
	DisallowedTimeIntervals,
)

// UpdateCanStart gates whether a verified, policy-cleared update may
// actually begin downloading (spec.md sec.4.5's update_can_start: the
// scattering wait and the exponential backoff window).
var UpdateCanStart = NewComposite("update_can_start",
	ScatteringWait,
	BackoffGate,
)
