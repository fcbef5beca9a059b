package attempter

import (
	"testing"
	"time"
)

func TestNewMetricsSetUsable(t *testing.T) {
	m := newMetricsSet()
	m.checksStarted.Add(1)
	m.checksSucceeded.Add(1)
	m.checksFailed.Add(1)
	m.stateTransitions.Add(1)
	m.abnormalTerminations.Add(1)
	m.payloadAttemptCount.Add(1)
	if m.downloadTime == nil || m.applyTime == nil {
		t.Fatal("expected both latency distributions to be non-nil")
	}
	m.downloadTime.Add(time.Duration(0))
	m.applyTime.Add(time.Duration(0))
}
