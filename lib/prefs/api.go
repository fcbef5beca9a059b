// Package prefs implements the durable key->string/int/blob store named
// by spec.md sec.4.7/sec.6: a flat, closed, versioned set of named keys,
// each written atomically. One file per key under a root directory.
//
// Grounded on sub/lib/update.go's writePatchedImageName (tmpfile-then-
// atomic-rename pattern) and lib/fsutil's CopyToFile/CopyFile contracts
// for durable writes elsewhere in the teacher.
package prefs

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Key names the closed set of persisted-state entries (spec.md sec.6).
type Key string

const (
	PreviousVersion           Key = "previous-version"
	BootID                    Key = "boot-id"
	NumReboots                Key = "num-reboots"
	PayloadAttemptNumber      Key = "payload-attempt-number"
	UpdateTimestampStart      Key = "update-timestamp-start"
	SystemUpdatedMarker       Key = "system-updated-marker"
	CurrentBytesDownloaded    Key = "current-bytes-downloaded"
	TotalBytesDownloaded      Key = "total-bytes-downloaded"
	CurrentResponseSignature  Key = "current-response-signature"
	ResumeOffset              Key = "resume-offset"
	ManifestMetadataSize      Key = "manifest-metadata-size"
	UpdateCompletedOnBootID   Key = "update-completed-on-boot-id"
	RollbackHappened          Key = "rollback-happened"
	BackoffExpiry             Key = "backoff-expiry"
	ConsumerAutoUpdateDisable Key = "consumer-auto-update-disabled"
	ProgressCursor            Key = "progress-cursor"
	ManifestSnapshot          Key = "manifest-snapshot"
)

// perAttemptKeys are cleared on attempt success and on a build-version
// change across reboot (spec.md sec.4.7).
var perAttemptKeys = []Key{
	PayloadAttemptNumber,
	UpdateTimestampStart,
	CurrentBytesDownloaded,
	CurrentResponseSignature,
	ResumeOffset,
	ManifestMetadataSize,
	ProgressCursor,
	ManifestSnapshot,
}

// Store is a durable, atomically-written key-value map.
type Store struct {
	dir string

	mu    sync.Mutex
	cache map[Key][]byte
}

// Open returns a Store rooted at dir, creating dir if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("prefs: creating %s: %w", dir, err)
	}
	return &Store{dir: dir, cache: make(map[Key][]byte)}, nil
}

func (s *Store) path(key Key) string {
	return filepath.Join(s.dir, string(key))
}

// SetBlob durably writes raw bytes for key.
func (s *Store) SetBlob(key Key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return fmt.Errorf("prefs: writing %s: %w", key, err)
	}
	if err := syncAndClose(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("prefs: renaming %s: %w", key, err)
	}
	s.cache[key] = append([]byte(nil), value...)
	return nil
}

// GetBlob reads the raw bytes for key. ok is false if the key has never
// been set.
func (s *Store) GetBlob(key Key) (value []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, cached := s.cache[key]; cached {
		return append([]byte(nil), v...), true, nil
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("prefs: reading %s: %w", key, err)
	}
	s.cache[key] = data
	return append([]byte(nil), data...), true, nil
}

// SetString durably writes a UTF-8 string value.
func (s *Store) SetString(key Key, value string) error {
	return s.SetBlob(key, []byte(value))
}

// GetString reads a string value, or "" if unset.
func (s *Store) GetString(key Key) (string, bool, error) {
	b, ok, err := s.GetBlob(key)
	return string(b), ok, err
}

// SetInt durably writes a decimal integer value.
func (s *Store) SetInt(key Key, value int64) error {
	return s.SetString(key, strconv.FormatInt(value, 10))
}

// GetInt reads an integer value, or 0 if unset.
func (s *Store) GetInt(key Key) (int64, bool, error) {
	str, ok, err := s.GetString(key)
	if err != nil || !ok || str == "" {
		return 0, ok, err
	}
	v, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("prefs: parsing %s as int: %w", key, err)
	}
	return v, true, nil
}

// SetBase64 durably writes a base64-wrapped blob, matching spec.md
// sec.6's "values are UTF-8 strings, decimal integers, or base64-wrapped
// blobs" representation for values that are themselves binary.
func (s *Store) SetBase64(key Key, value []byte) error {
	return s.SetString(key, base64.StdEncoding.EncodeToString(value))
}

// GetBase64 reads a base64-wrapped blob.
func (s *Store) GetBase64(key Key) ([]byte, bool, error) {
	str, ok, err := s.GetString(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	b, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return nil, true, fmt.Errorf("prefs: decoding %s: %w", key, err)
	}
	return b, true, nil
}

// Delete removes key, if present.
func (s *Store) Delete(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("prefs: deleting %s: %w", key, err)
	}
	return nil
}

// ClearPerAttempt implements the "on attempt success" and "on build
// version change across reboot" reset rules (spec.md sec.4.7): clear
// per-attempt counters and the progress cursor, retaining cumulative
// totals and backoff/scattering state.
func (s *Store) ClearPerAttempt() error {
	for _, key := range perAttemptKeys {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// ClearExplicitReset implements the "on explicit reset request" rule
// (spec.md sec.4.7): clear backoff expiry and the progress cursor. The
// scattering wait has no key to clear: lib/policy recomputes it from the
// device id and the next check time on every evaluation.
func (s *Store) ClearExplicitReset() error {
	for _, key := range []Key{BackoffExpiry, ProgressCursor} {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
