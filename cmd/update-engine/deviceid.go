package main

import (
	"github.com/google/uuid"

	"github.com/Cloud-Foundations/abupdate/lib/prefs"
)

// deviceID returns this device's persisted boot-id, generating and
// storing one on first use (spec.md sec.6). The attempter keeps its own
// copy internally for its own bookkeeping; this one builds the
// policy.Context the CLI passes into CheckAndApply, which is the
// caller's responsibility per spec.md sec.9's dependency-injection design.
func deviceID(store *prefs.Store) (string, error) {
	id, ok, err := store.GetString(prefs.BootID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := store.SetString(prefs.BootID, id); err != nil {
		return "", err
	}
	return id, nil
}
