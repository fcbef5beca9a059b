// Package bootslot is the boot-slot hardware-abstraction contract named
// by spec.md sec.4.1: which A/B slot is current, which is the update
// target, and the strict one-way BootState lattice each slot moves
// through. Mutating the currently-booted slot's state to Unbootable is
// refused by every implementation (spec.md sec.4.1's safety invariant).
//
// Grounded on lib/mbr/impl.go's raw partition-table decode/encode and
// cmd/installer/configureStorage.go's drive/partition enumeration; the
// async dispatch-and-report shape for MarkBootSuccessfulAsync is modeled
// on sub/rpcd/update.go's WorkdirGoroutine.Run.
package bootslot

import (
	"context"

	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// HAL is the boot-slot hardware abstraction layer.
type HAL interface {
	// CurrentSlot returns the slot the running system booted from.
	CurrentSlot() (update.Slot, error)

	// OtherSlot returns the slot CurrentSlot is not: the natural update
	// target absent an explicit TargetSlot override.
	OtherSlot() (update.Slot, error)

	// State returns slot's current BootState.
	State(slot update.Slot) (update.BootState, error)

	// SetState transitions slot's BootState. Implementations must refuse
	// to set SlotUnbootable on the currently-booted slot.
	SetState(slot update.Slot, state update.BootState) error

	// SetActive records slot as the one to boot next.
	SetActive(slot update.Slot) error

	// MarkBootSuccessfulAsync runs slot's successful-boot bookkeeping on
	// a private goroutine and reports the result to done exactly once.
	// This mirrors the teacher's workdir-goroutine dispatch-and-report
	// pattern rather than blocking the caller on a disk/firmware round
	// trip.
	MarkBootSuccessfulAsync(ctx context.Context, slot update.Slot, done chan<- error)

	// PartitionDevicePath returns the block-device path backing the
	// named partition ("root", "kernel", ...) within slot.
	PartitionDevicePath(slot update.Slot, partitionName string) (string, error)
}
