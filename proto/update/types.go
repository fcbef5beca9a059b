// Package update defines the wire/data-model types shared by every
// component of the update engine: slots, install plans, payload
// manifests, operations, extents and progress cursors (spec.md sec.3).
//
// Grounded on proto/sub/types.go's shape: plain exported struct fields,
// no behavior beyond small String() helpers kept in a sibling file.
package update

import (
	"time"

	"github.com/Cloud-Foundations/abupdate/lib/hash"
)

// Slot identifies one of the device's A/B root-partition sets.
type Slot uint8

// BootState is the strict lattice a Slot's boot status moves through.
// Unbootable is terminal for that image (spec.md sec.3).
type BootState uint8

const (
	SlotBootable BootState = iota
	SlotSuccessful
	SlotUnbootable
)

func (s BootState) String() string {
	switch s {
	case SlotBootable:
		return "bootable"
	case SlotSuccessful:
		return "successful"
	case SlotUnbootable:
		return "unbootable"
	default:
		return "UNKNOWN BootState"
	}
}

// PayloadType distinguishes a full image write from a delta against a
// source slot.
type PayloadType uint8

const (
	PayloadTypeFull PayloadType = iota
	PayloadTypeDelta
	PayloadTypeMinorDelta
)

func (t PayloadType) String() string {
	switch t {
	case PayloadTypeFull:
		return "full"
	case PayloadTypeDelta:
		return "delta"
	case PayloadTypeMinorDelta:
		return "minor-delta"
	default:
		return "UNKNOWN PayloadType"
	}
}

// Extent is a contiguous block range within a partition.
type Extent struct {
	StartBlock uint64
	NumBlocks  uint64
}

// EndBlock is the first block past the end of the extent.
func (e Extent) EndBlock() uint64 {
	return e.StartBlock + e.NumBlocks
}

// Overlaps returns true if e and other share at least one block.
func (e Extent) Overlaps(other Extent) bool {
	return e.StartBlock < other.EndBlock() && other.StartBlock < e.EndBlock()
}

// OperationType is a tagged variant over the kinds of install operation a
// manifest can name (spec.md sec.3).
type OperationType uint8

const (
	OpReplace OperationType = iota
	OpReplaceBZ
	OpReplaceXZ
	OpMove
	OpSourceCopy
	OpBsdiff
	OpPuffdiff
	OpSourceBsdiff
	OpZero
	OpDiscard
)

func (t OperationType) String() string {
	switch t {
	case OpReplace:
		return "REPLACE"
	case OpReplaceBZ:
		return "REPLACE_BZ"
	case OpReplaceXZ:
		return "REPLACE_XZ"
	case OpMove:
		return "MOVE"
	case OpSourceCopy:
		return "SOURCE_COPY"
	case OpBsdiff:
		return "BSDIFF"
	case OpPuffdiff:
		return "PUFFDIFF"
	case OpSourceBsdiff:
		return "SOURCE_BSDIFF"
	case OpZero:
		return "ZERO"
	case OpDiscard:
		return "DISCARD"
	default:
		return "UNKNOWN OperationType"
	}
}

// ReadsSource reports whether the operation reads extents from the source
// slot (and therefore requires a source-hash check before it applies).
func (t OperationType) ReadsSource() bool {
	switch t {
	case OpMove, OpSourceCopy, OpBsdiff, OpPuffdiff, OpSourceBsdiff:
		return true
	default:
		return false
	}
}

// InstallOperation is one atomic unit of partition modification.
type InstallOperation struct {
	Type            OperationType
	DataOffset      int64 // Offset into the payload's operation-data stream.
	DataLength      int64
	SourceExtents   []Extent
	SourceHash      hash.Hash
	DestExtents     []Extent
	DestLengthBytes int64 // Decompressed/patched length, for REPLACE_BZ/XZ and diffs.
}

// PartitionUpdate describes the update to a single named partition.
type PartitionUpdate struct {
	Name         string
	OldHash      hash.Hash // Expected hash of the source slot's partition, delta only.
	NewHash      hash.Hash
	NewSize      uint64
	Operations   []InstallOperation
	IsKernelType bool // Distinguishes NewKernelVerificationError from NewRootfsVerificationError.
}

// Manifest is the parsed payload manifest: an ordered list of partition
// updates.
type Manifest struct {
	MinorVersion uint32
	// SourceSlot is the slot a delta/minor-delta payload's operations are
	// expressed against. Zero (and ignored) for a full payload.
	SourceSlot Slot
	Partitions []PartitionUpdate
}

// Payload is one signed binary artifact: URL set, expected hashes, and
// (once fetched) its parsed manifest.
type Payload struct {
	URLs                 []string
	Size                 uint64
	Hash                 hash.Hash
	MetadataSize         uint64
	MetadataSignature    []byte
	SourceVersion        string
	TargetVersion        string
	Type                 PayloadType
	Manifest             *Manifest
	FailureCountsPerURL  []uint32 // indexed the same as URLs.
}

// PartitionSlotInfo names the source/destination device paths resolved by
// the boot-slot HAL for one partition of one payload.
type PartitionSlotInfo struct {
	Name             string
	SourcePath       string
	DestinationPath  string
}

// InstallPlan is the immutable description of a single update attempt
// (spec.md sec.3). It is produced by an external update-check
// collaborator and consumed by the attempter; it is mutated only by
// appending payload results as the attempt progresses.
type InstallPlan struct {
	Payloads        []Payload
	TargetSlot      Slot
	IsInteractive   bool
	Powerwash       bool
	RollbackAllowed bool
	Partitions      []PartitionSlotInfo
	CreatedAt       time.Time
}

// ProgressCursor is written durably after each completed operation and
// read at startup to resume a partially-applied payload (spec.md sec.3).
type ProgressCursor struct {
	PayloadIndex      int
	PartitionIndex    int
	OperationIndex    int
	BytesIntoOp       int64
	HasherState       []byte // Opaque, restored via lib/hash.RestoreHasher.
	// StreamOffset is the number of payload bytes consumed through this
	// cursor's position, so a resumed fetch can request exactly the
	// remaining range instead of restarting from byte 0.
	StreamOffset      int64
}
