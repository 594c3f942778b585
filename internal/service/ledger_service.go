package service

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"offline-store/internal/domain"
	"offline-store/internal/repository"
)

// LedgerClient is the system of record for which tracks a user has offline.
// All failures are returned as *domain.RemoteError.
type LedgerClient interface {
	ListForUser(ctx context.Context, userID string) ([]domain.OfflineTrackRecord, error)
	Insert(ctx context.Context, entry domain.LedgerEntry) error
	Delete(ctx context.Context, userID, trackID string) error
}

type LedgerOptions struct {
	// InsertAttempts bounds how often a ledger insert is tried before giving up.
	InsertAttempts uint
	RetryDelay     time.Duration
	Logger         *logrus.Logger
}

type ledgerClient struct {
	repo repository.LedgerRepository
	opts LedgerOptions
}

func NewLedgerClient(repo repository.LedgerRepository, opts LedgerOptions) LedgerClient {
	if opts.InsertAttempts == 0 {
		opts.InsertAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &ledgerClient{repo: repo, opts: opts}
}

func (c *ledgerClient) ListForUser(ctx context.Context, userID string) ([]domain.OfflineTrackRecord, error) {
	records, err := c.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, &domain.RemoteError{Op: "list", Err: err}
	}
	return records, nil
}

func (c *ledgerClient) Insert(ctx context.Context, entry domain.LedgerEntry) error {
	logger := c.opts.Logger.WithField("track_id", entry.TrackID)
	err := retry.Do(
		func() error {
			return c.repo.Insert(ctx, entry)
		},
		retry.Context(ctx),
		retry.Attempts(c.opts.InsertAttempts),
		retry.Delay(c.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("ledger insert attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		return &domain.RemoteError{Op: "insert", Err: err}
	}
	return nil
}

func (c *ledgerClient) Delete(ctx context.Context, userID, trackID string) error {
	if err := c.repo.Delete(ctx, userID, trackID); err != nil {
		return &domain.RemoteError{Op: "delete", Err: err}
	}
	return nil
}
