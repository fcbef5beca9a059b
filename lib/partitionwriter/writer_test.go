package partitionwriter

import (
	"errors"
	"os"
	"testing"

	"github.com/Cloud-Foundations/abupdate/lib/hash"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

func makeSizedFile(t *testing.T, size int64) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "part")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}

func TestApplyReplaceOperation(t *testing.T) {
	dest := makeSizedFile(t, BlockSize*2)
	w, err := Open(dest, "", false)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	payload := make([]byte, BlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	op := update.InstallOperation{
		Type:        update.OpReplace,
		DestExtents: []update.Extent{{StartBlock: 1, NumBlocks: 1}},
	}
	if err := ApplyOperation(w, op, payload, BlockSize*2); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got[BlockSize:]) != string(payload) {
		t.Error("replaced block does not match payload")
	}
}

func TestApplyRejectsDestExtentPastPartitionSize(t *testing.T) {
	dest := makeSizedFile(t, BlockSize*2)
	w, err := Open(dest, "", false)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	op := update.InstallOperation{
		Type:        update.OpReplace,
		DestExtents: []update.Extent{{StartBlock: 1, NumBlocks: 1}},
	}
	err = ApplyOperation(w, op, make([]byte, BlockSize), BlockSize)
	if err == nil {
		t.Fatal("expected out-of-bounds destination extent to be rejected")
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Code != update.DownloadOperationExecutionError {
		t.Errorf("got %v, want DownloadOperationExecutionError", err)
	}
}

func TestApplySourceCopyWithHashCheck(t *testing.T) {
	source := makeSizedFile(t, BlockSize)
	srcContent := make([]byte, BlockSize)
	for i := range srcContent {
		srcContent[i] = byte(255 - i)
	}
	if err := os.WriteFile(source, srcContent, 0600); err != nil {
		t.Fatal(err)
	}
	hasher := hash.NewHasher()
	hasher.Write(srcContent)
	srcHash := hasher.Sum()

	dest := makeSizedFile(t, BlockSize)
	w, err := Open(dest, source, false)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	op := update.InstallOperation{
		Type:          update.OpSourceCopy,
		SourceExtents: []update.Extent{{StartBlock: 0, NumBlocks: 1}},
		SourceHash:    srcHash,
		DestExtents:   []update.Extent{{StartBlock: 0, NumBlocks: 1}},
	}
	if err := ApplyOperation(w, op, nil, BlockSize); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(srcContent) {
		t.Error("destination does not match copied source")
	}
}

func TestApplySourceCopyRejectsBadHash(t *testing.T) {
	source := makeSizedFile(t, BlockSize)
	dest := makeSizedFile(t, BlockSize)
	w, err := Open(dest, source, false)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	op := update.InstallOperation{
		Type:          update.OpSourceCopy,
		SourceExtents: []update.Extent{{StartBlock: 0, NumBlocks: 1}},
		SourceHash:    hash.Hash{0x01}, // deliberately wrong
		DestExtents:   []update.Extent{{StartBlock: 0, NumBlocks: 1}},
	}
	if err := ApplyOperation(w, op, nil, BlockSize); err == nil {
		t.Fatal("expected source hash mismatch error")
	}
}

func TestApplyRejectsOverlappingSourceDest(t *testing.T) {
	dest := makeSizedFile(t, BlockSize*2)
	w, err := Open(dest, dest, false)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	op := update.InstallOperation{
		Type:          update.OpMove,
		SourceExtents: []update.Extent{{StartBlock: 0, NumBlocks: 2}},
		DestExtents:   []update.Extent{{StartBlock: 1, NumBlocks: 1}},
	}
	err = ApplyOperation(w, op, nil, BlockSize*2)
	if err == nil {
		t.Fatal("expected overlap rejection")
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Code != update.DownloadOperationExecutionError {
		t.Errorf("got %v, want DownloadOperationExecutionError", err)
	}
}

func TestVerifyPartitionDetectsMismatch(t *testing.T) {
	dest := makeSizedFile(t, BlockSize)
	if err := VerifyPartition(dest, hash.Hash{0x42}, BlockSize, false); err == nil {
		t.Fatal("expected verification mismatch against an all-zero file")
	}
}

func TestVerifyPartitionMatches(t *testing.T) {
	dest := makeSizedFile(t, BlockSize)
	hasher := hash.NewHasher()
	hasher.Write(make([]byte, BlockSize))
	want := hasher.Sum()
	if err := VerifyPartition(dest, want, BlockSize, true); err != nil {
		t.Fatal(err)
	}
}
