package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Cloud-Foundations/abupdate/lib/policy"
)

// devicePolicyFile is the on-disk shape of the enterprise device-policy
// file named by cfg.PolicyFilePath (spec.md sec.4.5/4.7): the fields a
// fleet operator can override without restarting the daemon. Absent or
// empty, every field behaves as the policy.Context zero value.
type devicePolicyFile struct {
	MinimumVersion          string         `yaml:"minimum_version"`
	RollbackAllowedByPolicy bool           `yaml:"rollback_allowed_by_policy"`
	DisallowedIntervals     []intervalFile `yaml:"disallowed_intervals"`
}

type intervalFile struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// loadDevicePolicy reads and parses path, returning the zero value (not
// an error) when path is empty or the file does not exist yet: a device
// that has never received an enterprise policy push still runs.
func loadDevicePolicy(path string) (devicePolicyFile, error) {
	var f devicePolicyFile
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("update-engine: reading device policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("update-engine: parsing device policy %s: %w", path, err)
	}
	return f, nil
}

func (f devicePolicyFile) intervals() ([]policy.Interval, error) {
	if len(f.DisallowedIntervals) == 0 {
		return nil, nil
	}
	out := make([]policy.Interval, 0, len(f.DisallowedIntervals))
	for _, raw := range f.DisallowedIntervals {
		start, err := time.Parse(time.RFC3339, raw.Start)
		if err != nil {
			return nil, fmt.Errorf("update-engine: parsing disallowed interval start %q: %w", raw.Start, err)
		}
		end, err := time.Parse(time.RFC3339, raw.End)
		if err != nil {
			return nil, fmt.Errorf("update-engine: parsing disallowed interval end %q: %w", raw.End, err)
		}
		out = append(out, policy.Interval{Start: start, End: end})
	}
	return out, nil
}
