package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	liblog "github.com/Cloud-Foundations/abupdate/lib/log"
)

// HTTPFetcher is a reference Fetcher built on net/http. Production
// deployments are expected to supply their own collaborator (spec.md
// sec.1); this implementation exists so the pipeline and its tests have
// something concrete to drive. Begin records certBundlePath but does not
// load it: server certificates are checked only by whatever TLS
// configuration client already carries.
type HTTPFetcher struct {
	client *http.Client
	logger liblog.DebugLogger

	mu           sync.Mutex
	cancel       context.CancelFunc
	paused       bool
	resumeCh     chan struct{}
	responseCode int
	offset       int64
	length       int64
	urls         []string
	urlIndex     int
	certPath     string
	delegate     Delegate
}

// NewHTTPFetcher returns an HTTPFetcher using client, or http.DefaultClient
// if client is nil.
func NewHTTPFetcher(client *http.Client, logger liblog.DebugLogger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = liblog.Discard()
	}
	return &HTTPFetcher{client: client, logger: logger}
}

func (f *HTTPFetcher) Begin(ctx context.Context, urls []string, offset, length int64,
	certBundlePath string, delegate Delegate) error {
	if len(urls) == 0 {
		return fmt.Errorf("fetcher: no URLs given")
	}
	f.mu.Lock()
	f.urls = urls
	f.offset = offset
	f.length = length
	f.certPath = certBundlePath
	f.delegate = delegate
	f.paused = false
	f.resumeCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()

	go f.run(runCtx)
	return nil
}

func (f *HTTPFetcher) run(ctx context.Context) {
	f.mu.Lock()
	url := f.urls[f.urlIndex%len(f.urls)]
	offset, length := f.offset, f.length
	delegate := f.delegate
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		delegate.TransferTerminated(err)
		return
	}
	if length > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	} else if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		delegate.TransferTerminated(err)
		return
	}
	defer resp.Body.Close()
	f.mu.Lock()
	f.responseCode = resp.StatusCode
	f.mu.Unlock()
	if resp.StatusCode >= 300 {
		delegate.TransferTerminated(fmt.Errorf("fetcher: unexpected status %d", resp.StatusCode))
		return
	}

	buf := make([]byte, 64*1024)
	var received int64
	for {
		f.waitWhilePaused(ctx)
		select {
		case <-ctx.Done():
			delegate.TransferTerminated(ctx.Err())
			return
		default:
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if cbErr := delegate.BytesReceived(buf[:n]); cbErr != nil {
				delegate.TransferTerminated(cbErr)
				return
			}
			received += int64(n)
		}
		if err == io.EOF {
			delegate.TransferComplete(length == 0 || received >= length)
			return
		}
		if err != nil {
			delegate.TransferTerminated(err)
			return
		}
	}
}

func (f *HTTPFetcher) waitWhilePaused(ctx context.Context) {
	for {
		f.mu.Lock()
		paused := f.paused
		ch := f.resumeCh
		f.mu.Unlock()
		if !paused {
			return
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

func (f *HTTPFetcher) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *HTTPFetcher) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused {
		f.paused = false
		close(f.resumeCh)
		f.resumeCh = make(chan struct{})
	}
	return nil
}

func (f *HTTPFetcher) Terminate() error {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (f *HTTPFetcher) ResponseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responseCode
}

var _ Fetcher = (*HTTPFetcher)(nil)
