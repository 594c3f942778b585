package repository

import (
	"context"

	"offline-store/internal/domain"
)

// LedgerRepository persists the per-user downloads ledger.
type LedgerRepository interface {
	Init(ctx context.Context) error
	ListForUser(ctx context.Context, userID string) ([]domain.OfflineTrackRecord, error)
	// Insert upserts on (user_id, track_id).
	Insert(ctx context.Context, entry domain.LedgerEntry) error
	// Delete removes the row if present; a missing row is not an error.
	Delete(ctx context.Context, userID, trackID string) error
}

// CatalogRepository resolves track metadata from the catalog.
type CatalogRepository interface {
	Init(ctx context.Context) error
	GetTrack(ctx context.Context, id string) (*domain.TrackRef, error)
	UpsertTrack(ctx context.Context, track domain.TrackRef) error
}
