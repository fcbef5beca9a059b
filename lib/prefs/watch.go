package prefs

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	liblog "github.com/Cloud-Foundations/abupdate/lib/log"
)

// PolicyWatcher watches the enterprise device-policy file named in
// spec.md sec.4.5 and invokes onChange whenever it is written, so the
// policy evaluator can be asked to re-evaluate without polling.
//
// Grounded on the teacher's fsnotify-driven config reload pattern
// (dominator's configuration watchers use the same debounce-on-write
// shape); here scoped down to a single file.
type PolicyWatcher struct {
	watcher *fsnotify.Watcher
	logger  liblog.DebugLogger
}

// WatchPolicyFile starts watching path, calling onChange (from a private
// goroutine) after each Write or Create event. Remove/Rename events are
// tolerated: the watcher re-adds the path so policy changes on devices
// that replace the file atomically are still observed.
func WatchPolicyFile(path string, logger liblog.DebugLogger, onChange func()) (*PolicyWatcher, error) {
	if logger == nil {
		logger = liblog.Discard()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("prefs: creating policy watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("prefs: watching %s: %w", path, err)
	}
	pw := &PolicyWatcher{watcher: w, logger: logger}
	go pw.run(path, onChange)
	return pw, nil
}

func (pw *PolicyWatcher) run(path string, onChange func()) {
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				onChange()
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := pw.watcher.Add(path); err != nil {
					pw.logger.Printf("prefs: re-adding watch on %s: %v", path, err)
				}
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Printf("prefs: policy watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (pw *PolicyWatcher) Close() error {
	return pw.watcher.Close()
}
