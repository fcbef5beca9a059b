package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// fileCheckCollaborator resolves an attempter.CheckCollaborator from a
// YAML-encoded InstallPlan on disk, for manual operation and local
// testing: spec.md sec.1 scopes the actual update-check protocol out of
// this module, so a production deployment supplies its own collaborator
// in the same place this one plugs in.
type fileCheckCollaborator struct {
	path string
}

func newFileCheckCollaborator(path string) *fileCheckCollaborator {
	return &fileCheckCollaborator{path: path}
}

func (c *fileCheckCollaborator) CheckForUpdate(ctx context.Context, currentVersion string, interactive bool) (*update.InstallPlan, error) {
	if c.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("update-engine: reading install plan %s: %w", c.path, err)
	}
	var plan update.InstallPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("update-engine: parsing install plan %s: %w", c.path, err)
	}
	if len(plan.Payloads) == 0 {
		return nil, nil
	}
	for i := range plan.Payloads {
		if plan.Payloads[i].TargetVersion == currentVersion {
			return nil, nil
		}
	}
	plan.IsInteractive = interactive
	return &plan, nil
}
