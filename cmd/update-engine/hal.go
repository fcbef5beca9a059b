package main

import (
	"path/filepath"

	"github.com/Cloud-Foundations/abupdate/lib/bootslot"
)

// resolveHAL returns a LinuxHAL when cfg names a disk, or an in-memory
// Fake otherwise, so the CLI is usable for local development without a
// real A/B-partitioned block device.
func resolveHAL(cfg *config) (bootslot.HAL, error) {
	if cfg.Disk == "" {
		return bootslot.NewFake(0), nil
	}
	return bootslot.NewLinuxHAL(cfg.Disk, cfg.Partitions, filepath.Join(cfg.StateDir, "bootslot"))
}
