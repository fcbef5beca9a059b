package main

import (
	"github.com/Cloud-Foundations/abupdate/lib/prefs"
)

// reconcileReboot implements spec.md sec.6's "reboot observed" bookkeeping:
// if a prior attempt recorded UpdateCompletedOnBootID and the current
// boot-id differs from it, a reboot into the new slot has happened since,
// so NumReboots is incremented and the marker is cleared so it isn't
// counted twice. Called once at daemon startup.
func reconcileReboot(store *prefs.Store) error {
	completedOn, ok, err := store.GetString(prefs.UpdateCompletedOnBootID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	current, err := deviceID(store)
	if err != nil {
		return err
	}
	if completedOn == current {
		return nil
	}
	count, _, err := store.GetInt(prefs.NumReboots)
	if err != nil {
		return err
	}
	if err := store.SetInt(prefs.NumReboots, count+1); err != nil {
		return err
	}
	return store.Delete(prefs.UpdateCompletedOnBootID)
}
