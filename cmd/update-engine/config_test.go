package main

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if cfg.ListenAddress == "" {
		t.Error("expected a default listen address")
	}
	if cfg.CheckIntervalSecs <= 0 {
		t.Error("expected a positive default check interval")
	}
	if cfg.Disk != "" {
		t.Errorf("expected no default disk, got %q", cfg.Disk)
	}
}
