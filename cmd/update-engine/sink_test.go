package main

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Cloud-Foundations/abupdate/lib/bootslot"
	"github.com/Cloud-Foundations/abupdate/lib/hash"
	"github.com/Cloud-Foundations/abupdate/lib/partitionwriter"
	"github.com/Cloud-Foundations/abupdate/lib/payload"
	"github.com/Cloud-Foundations/abupdate/lib/prefs"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

func sizedFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "partition")
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// resumeInOperations builds a Parser already sitting in the
// operation-data state, bypassing header/manifest encoding entirely: an
// empty-HasherState Resume is equivalent to a fresh parser (lib/hash's
// RestoreHasher treats an empty blob as NewHasher), so Feed's input can
// be exactly the operation bytes under test.
func resumeInOperations(t *testing.T, sink payload.OperationSink, m *update.Manifest, expect hash.Hash) *payload.Parser {
	t.Helper()
	p, err := payload.Resume(nil, expect, sink, m, update.ProgressCursor{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	return p
}

func TestStreamingSinkAppliesOperationsAsTheyCompleteAndSavesCursor(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	opData := make([]byte, partitionwriter.BlockSize)
	for i := range opData {
		opData[i] = byte(i)
	}
	dest := sizedFile(t, partitionwriter.BlockSize)
	partitionHasher := hash.NewHasher()
	partitionHasher.Write(opData)
	m := &update.Manifest{
		Partitions: []update.PartitionUpdate{
			{
				Name:    "root",
				NewSize: uint64(partitionwriter.BlockSize),
				NewHash: partitionHasher.Sum(),
				Operations: []update.InstallOperation{
					{Type: update.OpReplace, DataLength: int64(len(opData)),
						DestExtents: []update.Extent{{StartBlock: 0, NumBlocks: 1}}},
				},
			},
		},
	}
	plan := &update.InstallPlan{
		Partitions: []update.PartitionSlotInfo{{Name: "root", DestinationPath: dest}},
	}

	sink := newStreamingSink(plan, 0, update.PayloadTypeFull, false, nil, store)
	defer sink.Close()

	h := hash.NewHasher()
	h.Write(opData)
	expect := h.Sum()
	parser := resumeInOperations(t, sink, m, expect)
	sink.attachParser(parser)

	if err := parser.Feed(opData); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := parser.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(opData) {
		t.Error("destination partition does not contain the applied operation's data")
	}

	cursor, ok, err := loadCursor(store)
	if err != nil {
		t.Fatalf("loadCursor: %v", err)
	}
	if !ok {
		t.Fatal("expected a progress cursor to have been saved")
	}
	if cursor.PartitionIndex != 0 || cursor.OperationIndex != 1 {
		t.Errorf("got cursor %+v, want to be positioned past the single operation", cursor)
	}

	_, snapshotOK, err := store.GetBlob(prefs.ManifestSnapshot)
	if err != nil {
		t.Errorf("GetBlob(ManifestSnapshot): %v", err)
	}
	if !snapshotOK {
		t.Error("expected a manifest snapshot to have been persisted")
	}
}

func TestStreamingSinkAccumulatesChunkedOperationData(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	opData := make([]byte, partitionwriter.BlockSize)
	for i := range opData {
		opData[i] = byte(i * 3)
	}
	dest := sizedFile(t, partitionwriter.BlockSize)
	partitionHasher := hash.NewHasher()
	partitionHasher.Write(opData)
	m := &update.Manifest{
		Partitions: []update.PartitionUpdate{
			{
				Name:    "root",
				NewSize: uint64(partitionwriter.BlockSize),
				NewHash: partitionHasher.Sum(),
				Operations: []update.InstallOperation{
					{Type: update.OpReplace, DataLength: int64(len(opData)),
						DestExtents: []update.Extent{{StartBlock: 0, NumBlocks: 1}}},
				},
			},
		},
	}
	plan := &update.InstallPlan{
		Partitions: []update.PartitionSlotInfo{{Name: "root", DestinationPath: dest}},
	}

	sink := newStreamingSink(plan, 0, update.PayloadTypeFull, false, nil, store)
	defer sink.Close()

	h := hash.NewHasher()
	h.Write(opData)
	expect := h.Sum()
	parser := resumeInOperations(t, sink, m, expect)
	sink.attachParser(parser)

	mid := len(opData) / 2
	if err := parser.Feed(opData[:mid]); err != nil {
		t.Fatalf("Feed first chunk: %v", err)
	}
	if _, ok, _ := loadCursor(store); ok {
		t.Error("did not expect a cursor before the operation finished streaming in")
	}
	if err := parser.Feed(opData[mid:]); err != nil {
		t.Fatalf("Feed second chunk: %v", err)
	}
	if err := parser.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got[:len(opData)]) != string(opData) {
		t.Error("destination partition does not contain the reassembled operation data")
	}
}

func TestStreamingSinkRejectsMismatchedDeltaSourceSlot(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	opData := []byte("delta-bytes")
	dest := sizedFile(t, partitionwriter.BlockSize)
	m := &update.Manifest{
		SourceSlot: 1,
		Partitions: []update.PartitionUpdate{
			{
				Name:    "root",
				NewSize: uint64(partitionwriter.BlockSize),
				Operations: []update.InstallOperation{
					{Type: update.OpReplace, DataLength: int64(len(opData)),
						DestExtents: []update.Extent{{StartBlock: 0, NumBlocks: 1}}},
				},
			},
		},
	}
	plan := &update.InstallPlan{
		Partitions: []update.PartitionSlotInfo{{Name: "root", DestinationPath: dest}},
	}
	hal := bootslot.NewFake(0)

	sink := newStreamingSink(plan, 0, update.PayloadTypeDelta, false, hal, store)
	defer sink.Close()

	h := hash.NewHasher()
	h.Write(opData)
	expect := h.Sum()
	parser := resumeInOperations(t, sink, m, expect)
	sink.attachParser(parser)

	err = parser.Feed(opData)
	if err == nil {
		t.Fatal("expected a source-slot mismatch rejection")
	}
	var stepErr *payload.StepError
	if !errors.As(err, &stepErr) || stepErr.Code != update.PayloadMismatchedType {
		t.Errorf("got %v, want PayloadMismatchedType", err)
	}
}

func TestLoadMatchingCursorRejectsOtherPayload(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	if err := (&prefsCursorSink{store: store}).SaveCursor(update.ProgressCursor{PayloadIndex: 0, OperationIndex: 3}); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	_, ok, err := loadMatchingCursor(store, 1)
	if err != nil {
		t.Fatalf("loadMatchingCursor: %v", err)
	}
	if ok {
		t.Error("expected no cursor to match a different payload index")
	}
}

func TestCursorSinkRoundTrip(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	sink := &prefsCursorSink{store: store}
	cursor := update.ProgressCursor{
		PayloadIndex:   1,
		PartitionIndex: 2,
		OperationIndex: 3,
		BytesIntoOp:    4096,
	}
	if err := sink.SaveCursor(cursor); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	got, ok, err := loadCursor(store)
	if err != nil {
		t.Fatalf("loadCursor: %v", err)
	}
	if !ok {
		t.Fatal("expected a cursor to be present")
	}
	if !reflect.DeepEqual(got, cursor) {
		t.Errorf("loadCursor = %+v, want %+v", got, cursor)
	}
}

func TestLoadCursorAbsent(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	_, ok, err := loadCursor(store)
	if err != nil {
		t.Fatalf("loadCursor: %v", err)
	}
	if ok {
		t.Error("expected no cursor in a fresh store")
	}
}
