// Package manifest encodes and decodes the payload manifest named by
// spec.md sec.4.2 ("manifest protobuf") directly against the protobuf
// wire format, using google.golang.org/protobuf/encoding/protowire's
// low-level varint/tag/length-delimited primitives instead of a
// generated .pb.go file. The field-number table below is this module's
// own fixed schema, documented once here.
//
//	Manifest          { 1: minor_version varint, 2: partitions repeated PartitionUpdate,
//	                     3: source_slot varint }
//	PartitionUpdate   { 1: name string, 2: old_info PartitionInfo, 3: new_info PartitionInfo,
//	                     4: operations repeated InstallOperation, 5: is_kernel_type bool }
//	PartitionInfo     { 1: hash bytes, 2: size varint }
//	InstallOperation  { 1: type varint, 2: data_offset varint, 3: data_length varint,
//	                     4: src_extents repeated Extent, 5: src_hash bytes,
//	                     6: dst_extents repeated Extent, 7: dst_length varint }
//	Extent            { 1: start_block varint, 2: num_blocks varint }
package manifest

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Cloud-Foundations/abupdate/lib/hash"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

const (
	fieldManifestMinorVersion = 1
	fieldManifestPartitions   = 2
	fieldManifestSourceSlot   = 3

	fieldPartitionName       = 1
	fieldPartitionOldInfo    = 2
	fieldPartitionNewInfo    = 3
	fieldPartitionOperations = 4
	fieldPartitionIsKernel   = 5

	fieldInfoHash = 1
	fieldInfoSize = 2

	fieldOpType        = 1
	fieldOpDataOffset  = 2
	fieldOpDataLength  = 3
	fieldOpSrcExtents  = 4
	fieldOpSrcHash     = 5
	fieldOpDstExtents  = 6
	fieldOpDstLength   = 7

	fieldExtentStart  = 1
	fieldExtentBlocks = 2
)

// Encode serializes a Manifest to its protobuf wire-format bytes.
func Encode(m *update.Manifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldManifestMinorVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.MinorVersion))
	for _, p := range m.Partitions {
		sub := encodePartition(p)
		b = protowire.AppendTag(b, fieldManifestPartitions, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	b = protowire.AppendTag(b, fieldManifestSourceSlot, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.SourceSlot))
	return b
}

func encodePartition(p update.PartitionUpdate) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPartitionName, protowire.BytesType)
	b = protowire.AppendString(b, p.Name)

	oldInfo := encodeInfo(p.OldHash, 0)
	b = protowire.AppendTag(b, fieldPartitionOldInfo, protowire.BytesType)
	b = protowire.AppendBytes(b, oldInfo)

	newInfo := encodeInfo(p.NewHash, p.NewSize)
	b = protowire.AppendTag(b, fieldPartitionNewInfo, protowire.BytesType)
	b = protowire.AppendBytes(b, newInfo)

	for _, op := range p.Operations {
		sub := encodeOperation(op)
		b = protowire.AppendTag(b, fieldPartitionOperations, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if p.IsKernelType {
		b = protowire.AppendTag(b, fieldPartitionIsKernel, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func encodeInfo(h hash.Hash, size uint64) []byte {
	var b []byte
	if !h.IsZero() {
		b = protowire.AppendTag(b, fieldInfoHash, protowire.BytesType)
		b = protowire.AppendBytes(b, h[:])
	}
	b = protowire.AppendTag(b, fieldInfoSize, protowire.VarintType)
	b = protowire.AppendVarint(b, size)
	return b
}

func encodeOperation(op update.InstallOperation) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOpType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Type))
	b = protowire.AppendTag(b, fieldOpDataOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.DataOffset))
	b = protowire.AppendTag(b, fieldOpDataLength, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.DataLength))
	for _, e := range op.SourceExtents {
		sub := encodeExtent(e)
		b = protowire.AppendTag(b, fieldOpSrcExtents, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if !op.SourceHash.IsZero() {
		b = protowire.AppendTag(b, fieldOpSrcHash, protowire.BytesType)
		b = protowire.AppendBytes(b, op.SourceHash[:])
	}
	for _, e := range op.DestExtents {
		sub := encodeExtent(e)
		b = protowire.AppendTag(b, fieldOpDstExtents, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if op.DestLengthBytes != 0 {
		b = protowire.AppendTag(b, fieldOpDstLength, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(op.DestLengthBytes))
	}
	return b
}

func encodeExtent(e update.Extent) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldExtentStart, protowire.VarintType)
	b = protowire.AppendVarint(b, e.StartBlock)
	b = protowire.AppendTag(b, fieldExtentBlocks, protowire.VarintType)
	b = protowire.AppendVarint(b, e.NumBlocks)
	return b
}

// Decode parses a protobuf wire-format manifest. It is the manifest step
// of the payload parser's state machine (spec.md sec.4.2): the caller has
// already read exactly manifest_size bytes off the header.
func Decode(data []byte) (*update.Manifest, error) {
	m := &update.Manifest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("manifest: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldManifestMinorVersion:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("manifest: bad minor_version: %w", protowire.ParseError(n))
			}
			m.MinorVersion = uint32(v)
			data = data[n:]
		case fieldManifestPartitions:
			sub, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("manifest: bad partition: %w", protowire.ParseError(n))
			}
			p, err := decodePartition(sub)
			if err != nil {
				return nil, err
			}
			m.Partitions = append(m.Partitions, p)
			data = data[n:]
		case fieldManifestSourceSlot:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("manifest: bad source_slot: %w", protowire.ParseError(n))
			}
			m.SourceSlot = update.Slot(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("manifest: bad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return m, nil
}

func decodePartition(data []byte) (update.PartitionUpdate, error) {
	var p update.PartitionUpdate
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("manifest: bad partition tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldPartitionName:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return p, fmt.Errorf("manifest: bad partition name: %w", protowire.ParseError(n))
			}
			p.Name = s
			data = data[n:]
		case fieldPartitionOldInfo:
			sub, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return p, fmt.Errorf("manifest: bad old_info: %w", protowire.ParseError(n))
			}
			h, _, err := decodeInfo(sub)
			if err != nil {
				return p, err
			}
			p.OldHash = h
			data = data[n:]
		case fieldPartitionNewInfo:
			sub, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return p, fmt.Errorf("manifest: bad new_info: %w", protowire.ParseError(n))
			}
			h, size, err := decodeInfo(sub)
			if err != nil {
				return p, err
			}
			p.NewHash = h
			p.NewSize = size
			data = data[n:]
		case fieldPartitionOperations:
			sub, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return p, fmt.Errorf("manifest: bad operation: %w", protowire.ParseError(n))
			}
			op, err := decodeOperation(sub)
			if err != nil {
				return p, err
			}
			p.Operations = append(p.Operations, op)
			data = data[n:]
		case fieldPartitionIsKernel:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return p, fmt.Errorf("manifest: bad is_kernel_type: %w", protowire.ParseError(n))
			}
			p.IsKernelType = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return p, fmt.Errorf("manifest: bad partition field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return p, nil
}

func decodeInfo(data []byte) (hash.Hash, uint64, error) {
	var h hash.Hash
	var size uint64
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return h, 0, fmt.Errorf("manifest: bad info tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldInfoHash:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return h, 0, fmt.Errorf("manifest: bad info hash: %w", protowire.ParseError(n))
			}
			copy(h[:], b)
			data = data[n:]
		case fieldInfoSize:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return h, 0, fmt.Errorf("manifest: bad info size: %w", protowire.ParseError(n))
			}
			size = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return h, 0, fmt.Errorf("manifest: bad info field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return h, size, nil
}

func decodeOperation(data []byte) (update.InstallOperation, error) {
	var op update.InstallOperation
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return op, fmt.Errorf("manifest: bad operation tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldOpType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return op, fmt.Errorf("manifest: bad op type: %w", protowire.ParseError(n))
			}
			op.Type = update.OperationType(v)
			data = data[n:]
		case fieldOpDataOffset:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return op, fmt.Errorf("manifest: bad data_offset: %w", protowire.ParseError(n))
			}
			op.DataOffset = int64(v)
			data = data[n:]
		case fieldOpDataLength:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return op, fmt.Errorf("manifest: bad data_length: %w", protowire.ParseError(n))
			}
			op.DataLength = int64(v)
			data = data[n:]
		case fieldOpSrcExtents:
			sub, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return op, fmt.Errorf("manifest: bad src_extent: %w", protowire.ParseError(n))
			}
			e, err := decodeExtent(sub)
			if err != nil {
				return op, err
			}
			op.SourceExtents = append(op.SourceExtents, e)
			data = data[n:]
		case fieldOpSrcHash:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return op, fmt.Errorf("manifest: bad src_hash: %w", protowire.ParseError(n))
			}
			copy(op.SourceHash[:], b)
			data = data[n:]
		case fieldOpDstExtents:
			sub, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return op, fmt.Errorf("manifest: bad dst_extent: %w", protowire.ParseError(n))
			}
			e, err := decodeExtent(sub)
			if err != nil {
				return op, err
			}
			op.DestExtents = append(op.DestExtents, e)
			data = data[n:]
		case fieldOpDstLength:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return op, fmt.Errorf("manifest: bad dst_length: %w", protowire.ParseError(n))
			}
			op.DestLengthBytes = int64(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return op, fmt.Errorf("manifest: bad operation field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return op, nil
}

func decodeExtent(data []byte) (update.Extent, error) {
	var e update.Extent
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("manifest: bad extent tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldExtentStart:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("manifest: bad start_block: %w", protowire.ParseError(n))
			}
			e.StartBlock = v
			data = data[n:]
		case fieldExtentBlocks:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("manifest: bad num_blocks: %w", protowire.ParseError(n))
			}
			e.NumBlocks = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return e, fmt.Errorf("manifest: bad extent field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}
