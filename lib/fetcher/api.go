// Package fetcher defines the byte-range HTTP fetcher contract the
// update engine consumes (spec.md sec.6). The concrete HTTP client is an
// external collaborator and out of scope by spec.md sec.1; this package
// only defines the interface the pipeline's download action drives, plus
// one net/http-backed reference implementation for tests.
//
// Grounded on sub/client/fetch.go's request/reply shape for a fetch
// operation and sub/rpcd/fetch.go's in-flight/progress bookkeeping.
package fetcher

import (
	"context"
)

// Delegate receives callbacks from a Fetcher during a transfer.
// Ordering guarantee (spec.md sec.5): calls are delivered in the order
// posted, never concurrently.
type Delegate interface {
	// BytesReceived is called as data arrives. It must return quickly;
	// long work should be queued.
	BytesReceived(data []byte) error

	// SeekToOffset is called when the server redirects the read cursor
	// (e.g. after a range request is partially honored differently than
	// requested).
	SeekToOffset(offset int64)

	// TransferComplete is called exactly once, with success=true if the
	// full requested range was delivered.
	TransferComplete(success bool)

	// TransferTerminated is called if the transfer ends due to Terminate
	// or an unrecoverable error, instead of TransferComplete.
	TransferTerminated(err error)
}

// Fetcher performs a resumable byte-range GET.
type Fetcher interface {
	// Begin starts (or restarts) a transfer of length bytes starting at
	// offset from one of urls, verifying the server against the
	// certificate bundle at certBundlePath if non-empty.
	Begin(ctx context.Context, urls []string, offset, length int64,
		certBundlePath string, delegate Delegate) error

	// Pause suspends the in-flight transfer. Best-effort: the underlying
	// connection should be released (spec.md sec.4.4).
	Pause() error

	// Resume continues a paused transfer from the same logical point.
	Resume() error

	// Terminate ends the transfer promptly; TransferTerminated will be
	// delivered to the active delegate.
	Terminate() error

	// ResponseCode returns the most recent HTTP status code observed, or
	// 0 if none yet.
	ResponseCode() int
}
