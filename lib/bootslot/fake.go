package bootslot

import (
	"context"
	"fmt"
	"sync"

	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// Fake is an in-memory HAL for tests and for development off real
// hardware.
type Fake struct {
	mu      sync.Mutex
	current update.Slot
	states  map[update.Slot]update.BootState
	paths   map[update.Slot]map[string]string

	// SetActiveErr, if non-nil, is returned by SetActive instead of
	// switching slots, for tests exercising a finalization failure.
	SetActiveErr error
}

// NewFake returns a Fake booted from currentSlot with both slots
// initially SlotBootable.
func NewFake(currentSlot update.Slot) *Fake {
	return &Fake{
		current: currentSlot,
		states: map[update.Slot]update.BootState{
			0: update.SlotBootable,
			1: update.SlotBootable,
		},
		paths: map[update.Slot]map[string]string{0: {}, 1: {}},
	}
}

// SetPartitionPath registers the device path returned by
// PartitionDevicePath for slot/partitionName, for tests that need a
// specific backing file.
func (f *Fake) SetPartitionPath(slot update.Slot, partitionName, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[slot][partitionName] = path
}

func (f *Fake) CurrentSlot() (update.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *Fake) OtherSlot() (update.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return update.Slot(1) - f.current, nil
}

func (f *Fake) State(slot update.Slot) (update.BootState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[slot], nil
}

func (f *Fake) SetState(slot update.Slot, state update.BootState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state == update.SlotUnbootable && slot == f.current {
		return fmt.Errorf("bootslot: refusing to mark currently-booted slot %d unbootable", slot)
	}
	f.states[slot] = state
	return nil
}

func (f *Fake) SetActive(slot update.Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetActiveErr != nil {
		return f.SetActiveErr
	}
	f.current = slot
	return nil
}

func (f *Fake) MarkBootSuccessfulAsync(ctx context.Context, slot update.Slot, done chan<- error) {
	go func() {
		err := f.SetState(slot, update.SlotSuccessful)
		select {
		case done <- err:
		case <-ctx.Done():
		}
	}()
}

func (f *Fake) PartitionDevicePath(slot update.Slot, partitionName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.paths[slot][partitionName]
	if !ok {
		return "", fmt.Errorf("bootslot: no path registered for slot %d partition %q", slot, partitionName)
	}
	return path, nil
}

var _ HAL = (*Fake)(nil)
