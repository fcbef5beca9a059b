package update

import (
	"fmt"
)

func (p InstallPlan) String() string {
	s := fmt.Sprintf("InstallPlan{TargetSlot: %d, Interactive: %t, Rollback: %t, Powerwash: %t",
		p.TargetSlot, p.IsInteractive, p.RollbackAllowed, p.Powerwash)
	for _, payload := range p.Payloads {
		s += fmt.Sprintf("\n  Payload{Type: %s, Size: %d, %s -> %s}",
			payload.Type, payload.Size, payload.SourceVersion, payload.TargetVersion)
	}
	return s + "}"
}

func (c ProgressCursor) String() string {
	return fmt.Sprintf("cursor{payload: %d, operation: %d, bytes: %d}",
		c.PayloadIndex, c.OperationIndex, c.BytesIntoOp)
}
