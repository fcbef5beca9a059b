package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/Cloud-Foundations/abupdate/proto/update"
)

func writePlanFile(t *testing.T, plan *update.InstallPlan) string {
	t.Helper()
	data, err := yaml.Marshal(plan)
	if err != nil {
		t.Fatalf("marshaling plan: %v", err)
	}
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("writing plan file: %v", err)
	}
	return path
}

func TestFileCheckCollaboratorNoFile(t *testing.T) {
	c := newFileCheckCollaborator(filepath.Join(t.TempDir(), "missing.yaml"))
	plan, err := c.CheckForUpdate(context.Background(), "1.0.0", false)
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	if plan != nil {
		t.Fatalf("expected nil plan for missing file, got %+v", plan)
	}
}

func TestFileCheckCollaboratorReturnsPlan(t *testing.T) {
	plan := &update.InstallPlan{
		Payloads: []update.Payload{{TargetVersion: "2.0.0"}},
	}
	path := writePlanFile(t, plan)
	c := newFileCheckCollaborator(path)

	got, err := c.CheckForUpdate(context.Background(), "1.0.0", true)
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	if got == nil {
		t.Fatal("expected a plan, got nil")
	}
	if !got.IsInteractive {
		t.Error("expected IsInteractive to be set from the call argument")
	}
}

func TestFileCheckCollaboratorAlreadyCurrent(t *testing.T) {
	plan := &update.InstallPlan{
		Payloads: []update.Payload{{TargetVersion: "1.0.0"}},
	}
	path := writePlanFile(t, plan)
	c := newFileCheckCollaborator(path)

	got, err := c.CheckForUpdate(context.Background(), "1.0.0", false)
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil plan when already at target version, got %+v", got)
	}
}
