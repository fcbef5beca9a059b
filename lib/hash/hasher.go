package hash

import (
	"crypto/sha256"
	"encoding"
	"errors"
	"hash"
)

// Hasher is a streaming hash accumulator whose internal state can be
// captured as an opaque blob and restored later, in a different process,
// to resume hashing exactly where it left off. This underlies the payload
// parser's running payload hash (spec.md sec.4.2) and the partition
// writer's per-operation source/destination hashing (spec.md sec.4.3).
//
// It mirrors the enable/disable-able incremental hasher in
// lib/fsutil.ChecksumReader/ChecksumWriter, generalized with
// Marshal/Unmarshal so the accumulated state survives a reboot.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a Hasher starting from an empty state.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// RestoreHasher reconstructs a Hasher from a blob previously produced by
// Marshal. An empty blob is equivalent to NewHasher.
func RestoreHasher(state []byte) (*Hasher, error) {
	h := sha256.New()
	if len(state) > 0 {
		unmarshaler, ok := h.(encoding.BinaryUnmarshaler)
		if !ok {
			return nil, errors.New("hash: sha256 implementation is not restartable")
		}
		if err := unmarshaler.UnmarshalBinary(state); err != nil {
			return nil, err
		}
	}
	return &Hasher{h: h}, nil
}

func (hr *Hasher) Write(p []byte) (int, error) {
	return hr.h.Write(p)
}

// Sum returns the current digest without resetting the Hasher.
func (hr *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], hr.h.Sum(nil))
	return out
}

// Marshal captures the Hasher's internal state so it can be persisted to
// the prefs store and restored by RestoreHasher after a crash or reboot.
func (hr *Hasher) Marshal() ([]byte, error) {
	marshaler, ok := hr.h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.New("hash: sha256 implementation is not restartable")
	}
	return marshaler.MarshalBinary()
}
