package partitionwriter

import (
	"os"
	"testing"

	"github.com/Cloud-Foundations/abupdate/proto/update"
)

type fixedDataSource map[opKeyTest][]byte

type opKeyTest struct {
	partitionIndex, opIndex int
}

func (f fixedDataSource) OperationData(partitionIndex, opIndex int) ([]byte, error) {
	return f[opKeyTest{partitionIndex, opIndex}], nil
}

type recordingCursorSink struct {
	cursors []update.ProgressCursor
}

func (r *recordingCursorSink) SaveCursor(cursor update.ProgressCursor) error {
	r.cursors = append(r.cursors, cursor)
	return nil
}

func TestApplyPartitionAppliesEveryOperationInOrder(t *testing.T) {
	dest := makeSizedFile(t, BlockSize*2)
	w, err := Open(dest, "", false)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	first := make([]byte, BlockSize)
	for i := range first {
		first[i] = byte(i)
	}
	second := make([]byte, BlockSize)
	for i := range second {
		second[i] = byte(255 - i)
	}
	partition := update.PartitionUpdate{
		Name:    "root",
		NewSize: BlockSize * 2,
		Operations: []update.InstallOperation{
			{Type: update.OpReplace, DestExtents: []update.Extent{{StartBlock: 0, NumBlocks: 1}}},
			{Type: update.OpReplace, DestExtents: []update.Extent{{StartBlock: 1, NumBlocks: 1}}},
		},
	}
	data := fixedDataSource{
		{0, 0}: first,
		{0, 1}: second,
	}
	cursors := &recordingCursorSink{}
	if err := ApplyPartition(w, 0, 0, partition, 0, data, cursors); err != nil {
		t.Fatalf("ApplyPartition: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got[:BlockSize]) != string(first) || string(got[BlockSize:]) != string(second) {
		t.Error("partition contents do not match the applied operations")
	}
	if len(cursors.cursors) != 2 {
		t.Fatalf("got %d saved cursors, want 2", len(cursors.cursors))
	}
	if cursors.cursors[0].OperationIndex != 1 || cursors.cursors[1].OperationIndex != 2 {
		t.Errorf("unexpected cursor progression: %+v", cursors.cursors)
	}
}

func TestApplyPartitionResumesFromStartOp(t *testing.T) {
	dest := makeSizedFile(t, BlockSize)
	w, err := Open(dest, "", false)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	payload := make([]byte, BlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	partition := update.PartitionUpdate{
		Name:    "root",
		NewSize: BlockSize,
		Operations: []update.InstallOperation{
			{Type: update.OpReplace, DestExtents: []update.Extent{{StartBlock: 0, NumBlocks: 1}}},
		},
	}
	data := fixedDataSource{{0, 0}: payload}
	if err := ApplyPartition(w, 0, 0, partition, 1, data, nil); err != nil {
		t.Fatalf("ApplyPartition starting past the last operation should be a no-op: %v", err)
	}
}
