package domain

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	// ErrQuotaExceeded is matched by every QuotaExceededError.
	ErrQuotaExceeded = errors.New("insufficient offline storage")
	// ErrOffline indicates that no network connection is available.
	ErrOffline = errors.New("no network connection")
	// ErrWifiRequired indicates the policy only allows downloads over an unmetered connection.
	ErrWifiRequired = errors.New("wi-fi required for downloads")
	// ErrDownloadPaused is returned to waiters of a transfer that was paused.
	ErrDownloadPaused = errors.New("download paused")
	// ErrDownloadCancelled is returned to waiters of a transfer that was cancelled.
	ErrDownloadCancelled = errors.New("download cancelled")
	// ErrTrackNotFound is returned when the catalog has no track with the requested id.
	ErrTrackNotFound = errors.New("track not found")
	// ErrInvalidTrackID is returned for ids that cannot name a file in the download directory.
	ErrInvalidTrackID = errors.New("invalid track id")
)

// QuotaExceededError is returned when admitting a download would overrun the storage budget.
type QuotaExceededError struct {
	Used      int64
	Requested int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: need %s, %s of %s in use",
		ErrQuotaExceeded.Error(),
		humanize.IBytes(uint64(max(e.Requested, 0))),
		humanize.IBytes(uint64(max(e.Used, 0))),
		humanize.IBytes(uint64(max(e.Limit, 0))),
	)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// TransferError wraps a failure of the byte transfer itself.
type TransferError struct {
	URL string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// FilesystemError wraps a failed directory or file operation.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// RemoteError wraps a failed ledger or catalog round-trip.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
