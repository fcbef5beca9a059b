package partitionwriter

import (
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// OperationDataSource supplies the raw operation-data bytes for one
// InstallOperation, as already demultiplexed by lib/payload.Parser.
type OperationDataSource interface {
	OperationData(partitionIndex, opIndex int) ([]byte, error)
}

// CursorSink is notified after each operation completes, so the caller
// can persist an update.ProgressCursor durably before moving on.
type CursorSink interface {
	SaveCursor(cursor update.ProgressCursor) error
}

// ApplyPartition applies every operation of partition in order, starting
// from startOp (0 for a fresh attempt, or a resumed ProgressCursor's
// OperationIndex), persisting a cursor after each one.
func ApplyPartition(w *Writer, payloadIndex, partitionIndex int, partition update.PartitionUpdate,
	startOp int, data OperationDataSource, cursors CursorSink) error {
	for i := startOp; i < len(partition.Operations); i++ {
		op := partition.Operations[i]
		opData, err := data.OperationData(partitionIndex, i)
		if err != nil {
			return err
		}
		if err := ApplyOperation(w, op, opData, partition.NewSize); err != nil {
			return err
		}
		if cursors != nil {
			cursor := update.ProgressCursor{
				PayloadIndex:   payloadIndex,
				PartitionIndex: partitionIndex,
				OperationIndex: i + 1,
			}
			if err := cursors.SaveCursor(cursor); err != nil {
				return err
			}
		}
	}
	return nil
}
