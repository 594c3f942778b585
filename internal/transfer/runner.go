// Package transfer moves a track's audio bytes from its remote location to a local file.
package transfer

import (
	"context"
	"errors"
	"os"

	"offline-store/internal/domain"
	"offline-store/internal/storage"
)

// Progress receives cumulative bytes written and the expected total (<= 0 when unknown).
type Progress func(bytesWritten, bytesExpected int64)

// Request describes one transfer.
type Request struct {
	RemoteURL   string
	Destination string
	// Resume continues from the bytes already at Destination instead of truncating.
	Resume bool
}

// Result is the outcome of a completed transfer.
type Result struct {
	LocalPath  string
	BytesTotal int64
}

// Runner drives a single transfer. It never removes partial files on failure;
// the caller owns cleanup. Cancelling ctx aborts the transfer.
type Runner interface {
	Start(ctx context.Context, req Request, onProgress Progress) (Result, error)
}

// Router dispatches s3:// sources to the object-storage runner and everything
// else to the HTTP runner.
type Router struct {
	HTTP Runner
	S3   Runner
}

func (r *Router) Start(ctx context.Context, req Request, onProgress Progress) (Result, error) {
	if storage.IsURL(req.RemoteURL) {
		if r.S3 == nil {
			return Result{}, &domain.TransferError{URL: req.RemoteURL, Err: errors.New("object storage is not configured")}
		}
		return r.S3.Start(ctx, req, onProgress)
	}
	if r.HTTP == nil {
		return Result{}, &domain.TransferError{URL: req.RemoteURL, Err: errors.New("http transfers are not configured")}
	}
	return r.HTTP.Start(ctx, req, onProgress)
}

func measure(url, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, &domain.TransferError{URL: url, Err: err}
	}
	return Result{LocalPath: path, BytesTotal: info.Size()}, nil
}

var (
	_ Runner = (*Router)(nil)
	_ Runner = (*HTTPRunner)(nil)
	_ Runner = (*S3Runner)(nil)
)
