package manifest

import (
	"testing"

	"github.com/Cloud-Foundations/abupdate/proto/update"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := &update.Manifest{
		MinorVersion: 3,
		Partitions: []update.PartitionUpdate{
			{
				Name:    "boot",
				NewSize: 4096,
				Operations: []update.InstallOperation{
					{
						Type:        update.OpReplace,
						DataOffset:  0,
						DataLength:  4096,
						DestExtents: []update.Extent{{StartBlock: 0, NumBlocks: 8}},
					},
					{
						Type:          update.OpSourceCopy,
						SourceExtents: []update.Extent{{StartBlock: 0, NumBlocks: 8}},
						DestExtents:   []update.Extent{{StartBlock: 8, NumBlocks: 8}},
					},
				},
				IsKernelType: true,
			},
		},
	}
	m.Partitions[0].NewHash[0] = 0xAB
	m.Partitions[0].Operations[1].SourceHash[1] = 0xCD

	encoded := Encode(m)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.MinorVersion != m.MinorVersion {
		t.Errorf("minor version: got %d want %d", decoded.MinorVersion, m.MinorVersion)
	}
	if len(decoded.Partitions) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(decoded.Partitions))
	}
	p := decoded.Partitions[0]
	if p.Name != "boot" || p.NewSize != 4096 || !p.IsKernelType {
		t.Errorf("partition mismatch: %+v", p)
	}
	if p.NewHash != m.Partitions[0].NewHash {
		t.Errorf("new hash mismatch")
	}
	if len(p.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(p.Operations))
	}
	if p.Operations[0].Type != update.OpReplace {
		t.Errorf("op 0 type mismatch")
	}
	if p.Operations[1].Type != update.OpSourceCopy {
		t.Errorf("op 1 type mismatch")
	}
	if p.Operations[1].SourceHash != m.Partitions[0].Operations[1].SourceHash {
		t.Errorf("source hash mismatch")
	}
}
