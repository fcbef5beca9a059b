package main

import (
	"time"

	"github.com/Cloud-Foundations/abupdate/lib/prefs"
	"github.com/Cloud-Foundations/abupdate/lib/policy"
)

// buildPolicyContext assembles the policy.Context for one CheckAndApply
// attempt from cfg, durable state, and the on-disk device-policy file
// named by cfg.PolicyFilePath (spec.md sec.4.5/4.7's enterprise-policy
// overrides: MinimumVersion, DisallowedIntervals,
// RollbackAllowedByPolicy).
func buildPolicyContext(cfg *config, store *prefs.Store, interactive bool) (*policy.Context, error) {
	id, err := deviceID(store)
	if err != nil {
		return nil, err
	}
	disabled, _, err := store.GetInt(prefs.ConsumerAutoUpdateDisable)
	if err != nil {
		return nil, err
	}
	var backoffExpiry time.Time
	if raw, ok, err := store.GetInt(prefs.BackoffExpiry); err != nil {
		return nil, err
	} else if ok {
		backoffExpiry = time.Unix(raw, 0)
	}

	version, err := currentVersion(store)
	if err != nil {
		return nil, err
	}

	devicePolicy, err := loadDevicePolicy(cfg.PolicyFilePath)
	if err != nil {
		return nil, err
	}
	intervals, err := devicePolicy.intervals()
	if err != nil {
		return nil, err
	}

	ctx := policy.NewContext()
	ctx.Now = time.Now()
	ctx.NumSlots = 2
	ctx.EnterpriseManaged = cfg.EnterpriseManaged
	ctx.Interactive = interactive
	ctx.OfficialBuild = true
	ctx.OOBEComplete = true
	ctx.ScatterFactorSeconds = cfg.ScatterFactorSecs
	ctx.DeviceID = id
	ctx.BackoffExpiry = backoffExpiry
	ctx.ConsumerAutoUpdateDisabled = disabled != 0
	ctx.CurrentVersion = version
	ctx.MinimumVersion = devicePolicy.MinimumVersion
	ctx.RollbackAllowedByPolicy = devicePolicy.RollbackAllowedByPolicy
	ctx.DisallowedIntervals = intervals
	return ctx, nil
}

func currentVersion(store *prefs.Store) (string, error) {
	v, _, err := store.GetString(prefs.PreviousVersion)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "0.0.0", nil
	}
	return v, nil
}
