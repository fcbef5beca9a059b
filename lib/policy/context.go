package policy

import "time"

// Var names one input a Policy can consult. The evaluator records which
// Vars were actually read during an evaluation so it knows, after the
// fact, exactly which external changes justify a re-evaluation (spec.md
// sec.4.5's "re-evaluation triggered by variable reads" rule) instead of
// re-running every policy on every tick.
type Var string

const (
	VarClockNow                  Var = "clock.now"
	VarRecoveryMode               Var = "recovery_mode"
	VarNumSlots                   Var = "num_slots"
	VarEnterpriseManaged          Var = "enterprise_managed"
	VarInteractive                Var = "interactive"
	VarOfficialBuild               Var = "official_build"
	VarOOBEComplete                Var = "oobe_complete"
	VarNextCheckTime               Var = "next_check_time"
	VarRollbackRequested           Var = "rollback_requested"
	VarRollbackAllowedByPolicy     Var = "rollback_allowed_by_policy"
	VarMinimumVersion              Var = "minimum_version"
	VarCurrentVersion              Var = "current_version"
	VarTargetVersion               Var = "target_version"
	VarDisallowedIntervals         Var = "disallowed_intervals"
	VarScatterFactorSeconds        Var = "scatter_factor_seconds"
	VarDeviceID                    Var = "device_id"
	VarBackoffExpiry               Var = "backoff_expiry"
	VarConsumerAutoUpdateDisabled  Var = "consumer_auto_update_disabled"
	VarIsDeltaPayload              Var = "is_delta_payload"
)

// Interval is a disallowed wall-clock window (spec.md sec.4.5), e.g. a
// maintenance blackout.
type Interval struct {
	Start, End time.Time
}

func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Context carries every value a Policy might consult, plus read
// tracking. Construct one per evaluation: its Consulted set is only
// meaningful for the evaluation it was built for.
type Context struct {
	Now                        time.Time
	RecoveryMode               bool
	NumSlots                   int
	EnterpriseManaged          bool
	Interactive                bool
	OfficialBuild              bool
	OOBEComplete               bool
	NextCheckTime              time.Time
	RollbackRequested          bool
	RollbackAllowedByPolicy    bool
	MinimumVersion             string
	CurrentVersion             string
	TargetVersion              string
	DisallowedIntervals        []Interval
	ScatterFactorSeconds       int
	DeviceID                   string
	BackoffExpiry              time.Time
	ConsumerAutoUpdateDisabled bool
	// IsDeltaPayload is set once the resolved plan's target payload type
	// is known, so BackoffGate can exempt delta/minor-delta payloads.
	IsDeltaPayload bool

	consulted map[Var]struct{}
}

// NewContext returns a zero-valued Context ready for field assignment
// and evaluation.
func NewContext() *Context {
	return &Context{consulted: make(map[Var]struct{})}
}

func (c *Context) read(v Var) {
	c.consulted[v] = struct{}{}
}

// Consulted returns the set of Vars read during evaluation so far.
func (c *Context) Consulted() []Var {
	vars := make([]Var, 0, len(c.consulted))
	for v := range c.consulted {
		vars = append(vars, v)
	}
	return vars
}

// ConsultedAny reports whether any of changed intersects the Vars this
// Context's evaluation consulted, for deciding whether a re-evaluation
// is warranted.
func (c *Context) ConsultedAny(changed ...Var) bool {
	for _, v := range changed {
		if _, ok := c.consulted[v]; ok {
			return true
		}
	}
	return false
}

func (c *Context) clockNow() time.Time           { c.read(VarClockNow); return c.Now }
func (c *Context) recoveryMode() bool            { c.read(VarRecoveryMode); return c.RecoveryMode }
func (c *Context) numSlots() int                 { c.read(VarNumSlots); return c.NumSlots }
func (c *Context) enterpriseManaged() bool       { c.read(VarEnterpriseManaged); return c.EnterpriseManaged }
func (c *Context) interactive() bool             { c.read(VarInteractive); return c.Interactive }
func (c *Context) officialBuild() bool           { c.read(VarOfficialBuild); return c.OfficialBuild }
func (c *Context) oobeComplete() bool            { c.read(VarOOBEComplete); return c.OOBEComplete }
func (c *Context) nextCheckTime() time.Time      { c.read(VarNextCheckTime); return c.NextCheckTime }
func (c *Context) rollbackRequested() bool       { c.read(VarRollbackRequested); return c.RollbackRequested }
func (c *Context) rollbackAllowedByPolicy() bool {
	c.read(VarRollbackAllowedByPolicy)
	return c.RollbackAllowedByPolicy
}
func (c *Context) minimumVersion() string  { c.read(VarMinimumVersion); return c.MinimumVersion }
func (c *Context) currentVersion() string  { c.read(VarCurrentVersion); return c.CurrentVersion }
func (c *Context) targetVersion() string   { c.read(VarTargetVersion); return c.TargetVersion }
func (c *Context) disallowedIntervals() []Interval {
	c.read(VarDisallowedIntervals)
	return c.DisallowedIntervals
}
func (c *Context) scatterFactorSeconds() int { c.read(VarScatterFactorSeconds); return c.ScatterFactorSeconds }
func (c *Context) deviceID() string          { c.read(VarDeviceID); return c.DeviceID }
func (c *Context) backoffExpiry() time.Time  { c.read(VarBackoffExpiry); return c.BackoffExpiry }
func (c *Context) consumerAutoUpdateDisabled() bool {
	c.read(VarConsumerAutoUpdateDisabled)
	return c.ConsumerAutoUpdateDisabled
}
func (c *Context) isDeltaPayload() bool { c.read(VarIsDeltaPayload); return c.IsDeltaPayload }
