package prefs

import (
	"fmt"
	"os"
)

// syncAndClose fsyncs and closes path, matching lib/fsutil's
// write-then-fsync-then-rename durability pattern for atomic files.
func syncAndClose(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("prefs: reopening %s for sync: %w", path, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("prefs: syncing %s: %w", path, err)
	}
	return nil
}
