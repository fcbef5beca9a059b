package prefs

import (
	"testing"
)

func TestSetGetString(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetString(PreviousVersion, "1.2.3"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetString(PreviousVersion)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "1.2.3" {
		t.Errorf("got %q, %v, want 1.2.3, true", v, ok)
	}
}

func TestGetUnsetKey(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.GetString(BootID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected unset key to report ok=false")
	}
}

func TestSetGetIntSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetInt(NumReboots, 7); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	v, ok, err := s2.GetInt(NumReboots)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != 7 {
		t.Errorf("got %d, %v, want 7, true", v, ok)
	}
}

func TestSetGetBase64(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	blob := []byte{0x00, 0xff, 0x10, 0x20}
	if err := s.SetBase64(ProgressCursor, blob); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetBase64(ProgressCursor)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(got) != string(blob) {
		t.Errorf("got %v, want %v", got, blob)
	}
}

func TestClearPerAttempt(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetInt(PayloadAttemptNumber, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.SetString(BootID, "keep-me"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearPerAttempt(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetInt(PayloadAttemptNumber); ok {
		t.Error("expected PayloadAttemptNumber to be cleared")
	}
	if v, ok, _ := s.GetString(BootID); !ok || v != "keep-me" {
		t.Error("expected BootID to survive ClearPerAttempt")
	}
}

func TestDeleteMissingKeyIsNotError(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(RollbackHappened); err != nil {
		t.Errorf("deleting unset key should not error: %v", err)
	}
}
