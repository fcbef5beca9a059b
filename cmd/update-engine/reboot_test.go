package main

import (
	"testing"

	"github.com/Cloud-Foundations/abupdate/lib/prefs"
)

func TestReconcileRebootNoPriorAttempt(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	if err := reconcileReboot(store); err != nil {
		t.Fatalf("reconcileReboot: %v", err)
	}
	count, ok, err := store.GetInt(prefs.NumReboots)
	if err != nil {
		t.Fatalf("GetInt: %v", err)
	}
	if ok && count != 0 {
		t.Errorf("expected no reboot counted, got %d", count)
	}
}

func TestReconcileRebootDetectsNewBoot(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	if err := store.SetString(prefs.UpdateCompletedOnBootID, "boot-a"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	// deviceID() generates and persists a boot-id distinct from "boot-a"
	// on first read, simulating a reboot into a freshly-provisioned slot.
	if err := reconcileReboot(store); err != nil {
		t.Fatalf("reconcileReboot: %v", err)
	}
	count, ok, err := store.GetInt(prefs.NumReboots)
	if err != nil {
		t.Fatalf("GetInt: %v", err)
	}
	if !ok || count != 1 {
		t.Errorf("expected one reboot counted, got %d (ok=%v)", count, ok)
	}
	if _, ok, _ := store.GetString(prefs.UpdateCompletedOnBootID); ok {
		t.Error("expected the completed-boot-id marker to be cleared")
	}
}

func TestReconcileRebootSameBootIsNoop(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	id, err := deviceID(store)
	if err != nil {
		t.Fatalf("deviceID: %v", err)
	}
	if err := store.SetString(prefs.UpdateCompletedOnBootID, id); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := reconcileReboot(store); err != nil {
		t.Fatalf("reconcileReboot: %v", err)
	}
	if _, ok, _ := store.GetString(prefs.UpdateCompletedOnBootID); !ok {
		t.Error("expected the marker to remain when no reboot has happened")
	}
}
