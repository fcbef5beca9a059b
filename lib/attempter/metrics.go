package attempter

import (
	"sync/atomic"

	"github.com/Cloud-Foundations/tricorder/go/tricorder"
	"github.com/Cloud-Foundations/tricorder/go/tricorder/units"
)

// counter is a monotonic uint64 registered directly with tricorder by
// pointer, the way sub/rpcd/api.go registers &rpcObj.lastSuccessfulImageName
// and lib/filegen/register.go registers distribution pointers: tricorder
// reads the field through the pointer on each scrape, so no separate
// snapshot/export step is needed.
type counter struct {
	value uint64
}

func (c *counter) Add(n uint64) {
	atomic.AddUint64(&c.value, n)
}

type metricsSet struct {
	checksStarted        counter
	checksSucceeded      counter
	checksFailed         counter
	stateTransitions     counter
	abnormalTerminations counter
	payloadAttemptCount  counter

	downloadTime *tricorder.CumulativeDistribution
	applyTime    *tricorder.CumulativeDistribution
}

func newMetricsSet() *metricsSet {
	m := &metricsSet{
		downloadTime: tricorder.NewGeometricBucketer(0.1, 1e6).NewCumulativeDistribution(),
		applyTime:    tricorder.NewGeometricBucketer(0.1, 1e6).NewCumulativeDistribution(),
	}
	dir, err := tricorder.RegisterDirectory("update-engine")
	if err != nil {
		// A duplicate directory registration (e.g. multiple Attempters
		// in one process, as in tests) is not fatal: the counters and
		// distributions above still work, they are just unreachable
		// from a scrape for the second instance.
		return m
	}
	registerCounter(dir, "checks-started", &m.checksStarted.value, "update checks started")
	registerCounter(dir, "checks-succeeded", &m.checksSucceeded.value, "update checks that resulted in an applied update")
	registerCounter(dir, "checks-failed", &m.checksFailed.value, "update checks that ended in error")
	registerCounter(dir, "state-transitions", &m.stateTransitions.value, "attempter state transitions")
	registerCounter(dir, "abnormal-terminations", &m.abnormalTerminations.value, "attempts that ended in a non-policy, non-check error")
	registerCounter(dir, "payload-attempt-count", &m.payloadAttemptCount.value, "payload application attempts, across retries")
	dir.RegisterMetric("download-time", m.downloadTime, units.Millisecond, "time spent downloading and applying a payload")
	dir.RegisterMetric("attempt-time", m.applyTime, units.Millisecond, "total time from check start to terminal state")
	return m
}

func registerCounter(dir *tricorder.DirectorySpec, name string, value *uint64, comment string) {
	if err := dir.RegisterMetric(name, value, units.None, comment); err != nil {
		return
	}
}
