package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/Cloud-Foundations/abupdate/lib/backoffdelay"
	"github.com/Cloud-Foundations/abupdate/lib/bootslot"
	"github.com/Cloud-Foundations/abupdate/lib/fetcher"
	liblog "github.com/Cloud-Foundations/abupdate/lib/log"
	"github.com/Cloud-Foundations/abupdate/lib/partitionwriter"
	"github.com/Cloud-Foundations/abupdate/lib/payload"
	"github.com/Cloud-Foundations/abupdate/lib/policy"
	"github.com/Cloud-Foundations/abupdate/lib/prefs"
	"github.com/Cloud-Foundations/abupdate/lib/retry"
	"github.com/Cloud-Foundations/abupdate/lib/sign"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// maxFailuresPerURL bounds how many times a single URL may fail before
// policy.SelectURL skips it in favor of the next mirror (spec.md
// sec.4.5's URL selection/wrap-around rule).
const maxFailuresPerURL = 3

// fetchDelegate adapts a lib/fetcher.Fetcher's callback-style transfer
// into a blocking call, feeding every chunk through a payload.Parser as
// it arrives (spec.md sec.4.2/sec.5's strict delivery-order guarantee is
// exactly what lets the parser be fed synchronously off this delegate).
type fetchDelegate struct {
	parser  *payload.Parser
	store   *prefs.Store
	done    chan error
	feedErr error
}

func (d *fetchDelegate) BytesReceived(data []byte) error {
	if err := d.parser.Feed(data); err != nil {
		d.feedErr = err
		return err
	}
	d.recordBytes(int64(len(data)))
	return nil
}

// recordBytes keeps the current-attempt and cumulative download
// counters (spec.md sec.6's persisted-state table) live as bytes
// arrive. A counter-update failure is dropped silently (nothing is
// logged) rather than returned: returning it would turn a transient
// prefs write hiccup into an aborted download.
func (d *fetchDelegate) recordBytes(n int64) {
	if d.store == nil {
		return
	}
	current, _, err := d.store.GetInt(prefs.CurrentBytesDownloaded)
	if err == nil {
		err = d.store.SetInt(prefs.CurrentBytesDownloaded, current+n)
	}
	if err != nil {
		return
	}
	total, _, err := d.store.GetInt(prefs.TotalBytesDownloaded)
	if err != nil {
		return
	}
	d.store.SetInt(prefs.TotalBytesDownloaded, total+n)
}

func (d *fetchDelegate) SeekToOffset(offset int64) {}

func (d *fetchDelegate) TransferComplete(success bool) {
	if !success {
		d.done <- fmt.Errorf("update-engine: transfer incomplete")
		return
	}
	d.done <- nil
}

func (d *fetchDelegate) TransferTerminated(err error) {
	if d.feedErr != nil {
		d.done <- d.feedErr
		return
	}
	d.done <- err
}

// downloadApplyAction is one pipeline.Action: fetch a payload's bytes,
// parse and verify them, then apply every partition's operations to its
// destination slot and verify the result (spec.md sec.4.2-sec.4.3).
type downloadApplyAction struct {
	payloadIndex int
	plan         *update.InstallPlan
	hal          bootslot.HAL
	certBundle   *sign.CertificateBundle
	fetch        fetcher.Fetcher
	store        *prefs.Store
	logger       liblog.DebugLogger
}

func (a *downloadApplyAction) Name() string {
	return fmt.Sprintf("download-apply-payload-%d", a.payloadIndex)
}

func (a *downloadApplyAction) Perform(t *tomb.Tomb) (update.ErrorCode, error) {
	p := a.plan.Payloads[a.payloadIndex]

	sink := newStreamingSink(a.plan, a.payloadIndex, p.Type, a.plan.IsInteractive, a.hal, a.store)
	defer sink.Close()

	parser, offset, err := a.buildParser(sink, p)
	if err != nil {
		return update.DownloadStateInitializationError, err
	}
	sink.attachParser(parser)

	urls := p.URLs
	if startIdx := policy.SelectURL(p.URLs, p.FailureCountsPerURL, 0, maxFailuresPerURL); startIdx > 0 {
		urls = append(append([]string{}, p.URLs[startIdx:]...), p.URLs[:startIdx]...)
	}

	delegate := &fetchDelegate{parser: parser, store: a.store, done: make(chan error, 1)}
	var beginErr error
	retryErr := retry.Retry(func() bool {
		beginErr = a.fetch.Begin(context.Background(), urls, offset, int64(p.Size)-offset, "", delegate)
		if beginErr != nil {
			a.logger.Printf("update-engine: fetch start attempt failed: %v", beginErr)
		}
		return beginErr == nil
	}, retry.Params{
		MaxRetries: 5,
		Sleeper:    backoffdelay.NewExponential(time.Second, 30*time.Second, 1),
	})
	if retryErr != nil {
		return update.DownloadTransferError, fmt.Errorf("update-engine: starting fetch: %w", beginErr)
	}

	select {
	case <-t.Dying():
		a.fetch.Terminate()
		<-delegate.done
		return update.UserCancelled, t.Err()
	case err := <-delegate.done:
		if err != nil {
			return unwrapStepErr(err, update.DownloadTransferError)
		}
	}

	if err := parser.Finish(); err != nil {
		return unwrapStepErr(err, update.DownloadWriteError)
	}
	return update.Success, nil
}

// buildParser constructs the Parser this attempt drives: a fresh one
// starting at the beginning of the payload, or one restarted from a
// persisted cursor/manifest snapshot belonging to this same payload
// (spec.md sec.8 scenario S2's "resume after a severed stream").
func (a *downloadApplyAction) buildParser(sink *streamingSink, p update.Payload) (*payload.Parser, int64, error) {
	cursor, ok, err := loadMatchingCursor(a.store, a.payloadIndex)
	if err != nil {
		return nil, 0, fmt.Errorf("update-engine: loading progress cursor: %w", err)
	}
	if !ok {
		return payload.NewParser(a.certBundle, p.Hash, sink), 0, nil
	}
	m, err := loadManifestSnapshot(a.store)
	if err != nil {
		return nil, 0, err
	}
	parser, err := payload.Resume(a.certBundle, p.Hash, sink, m, cursor)
	if err != nil {
		return nil, 0, fmt.Errorf("update-engine: resuming parser: %w", err)
	}
	sink.resumeFrom(m)
	return parser, cursor.StreamOffset, nil
}

// unwrapStepErr recovers the ErrorCode a payload.StepError or
// partitionwriter.StepError already carries, falling back to fallback
// for an error that was never classified to begin with.
func unwrapStepErr(err error, fallback update.ErrorCode) (update.ErrorCode, error) {
	var payloadErr *payload.StepError
	if errors.As(err, &payloadErr) {
		return payloadErr.Code, payloadErr.Err
	}
	var writerErr *partitionwriter.StepError
	if errors.As(err, &writerErr) {
		return writerErr.Code, writerErr.Err
	}
	return fallback, err
}

func findPartitionInfo(infos []update.PartitionSlotInfo, name string) (update.PartitionSlotInfo, bool) {
	for _, info := range infos {
		if info.Name == name {
			return info, true
		}
	}
	return update.PartitionSlotInfo{}, false
}
