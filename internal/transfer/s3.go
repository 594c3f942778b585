package transfer

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"offline-store/internal/domain"
	"offline-store/internal/storage"
)

// S3Runner downloads s3://bucket/key sources through the object-storage service.
type S3Runner struct {
	store storage.Service
}

func NewS3Runner(store storage.Service) *S3Runner {
	return &S3Runner{store: store}
}

func (r *S3Runner) Start(ctx context.Context, req Request, onProgress Progress) (Result, error) {
	fail := func(err error) (Result, error) {
		return Result{}, &domain.TransferError{URL: req.RemoteURL, Err: err}
	}

	bucket, key, err := storage.ParseURL(req.RemoteURL)
	if err != nil {
		return fail(err)
	}
	size, err := r.store.ObjectSize(ctx, bucket, key)
	if err != nil {
		return fail(err)
	}

	var offset int64
	if req.Resume {
		info, err := os.Stat(req.Destination)
		switch {
		case err == nil:
			offset = info.Size()
		case !errors.Is(err, fs.ErrNotExist):
			return fail(err)
		}
	}
	if offset > size {
		// the remote object changed underneath a paused transfer
		offset = 0
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(req.Destination, flags, 0o644)
	if err != nil {
		return fail(err)
	}

	if onProgress != nil {
		onProgress(offset, size)
	}
	if offset < size {
		_, err = r.store.Download(ctx, bucket, key, f, offset, func(done int64) {
			if onProgress != nil {
				onProgress(offset+done, size)
			}
		})
	}
	closeErr := f.Close()
	if err != nil {
		return fail(err)
	}
	if closeErr != nil {
		return fail(closeErr)
	}
	if err := os.Truncate(req.Destination, size); err != nil {
		return fail(err)
	}

	return measure(req.RemoteURL, req.Destination)
}
