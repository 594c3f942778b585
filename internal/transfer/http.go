package transfer

import (
	"context"
	"time"

	"github.com/cavaliergopher/grab/v3"

	"offline-store/internal/domain"
)

// HTTPRunner downloads over HTTP(S). Progress is polled from the transfer at a
// fixed interval because grab exposes counters rather than callbacks.
type HTTPRunner struct {
	client   *grab.Client
	interval time.Duration
}

func NewHTTPRunner(interval time.Duration, userAgent string) *HTTPRunner {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	client := grab.NewClient()
	if userAgent != "" {
		client.UserAgent = userAgent
	}
	return &HTTPRunner{client: client, interval: interval}
}

func (r *HTTPRunner) Start(ctx context.Context, req Request, onProgress Progress) (Result, error) {
	greq, err := grab.NewRequest(req.Destination, req.RemoteURL)
	if err != nil {
		return Result{}, &domain.TransferError{URL: req.RemoteURL, Err: err}
	}
	greq = greq.WithContext(ctx)
	greq.NoResume = !req.Resume

	resp := r.client.Do(greq)

	report := func() {
		if onProgress != nil {
			onProgress(resp.BytesComplete(), resp.Size())
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

Loop:
	for {
		select {
		case <-ticker.C:
			report()
		case <-resp.Done:
			break Loop
		}
	}

	if err := resp.Err(); err != nil {
		return Result{}, &domain.TransferError{URL: req.RemoteURL, Err: err}
	}
	report()

	path := resp.Filename
	if path == "" {
		path = req.Destination
	}
	return measure(req.RemoteURL, path)
}
