package service

import (
	"context"
	"errors"
	"time"

	"offline-store/internal/domain"
	"offline-store/internal/repository"
	"offline-store/internal/storage"
)

// TrackCatalog resolves track ids into downloadable TrackRefs.
type TrackCatalog interface {
	GetTrack(ctx context.Context, id string) (domain.TrackRef, error)
}

type trackCatalog struct {
	tracks     repository.CatalogRepository
	storage    storage.Service
	presignTTL time.Duration
}

// NewTrackCatalog builds the catalog. store may be nil, in which case s3://
// artwork references are returned unsigned.
func NewTrackCatalog(tracks repository.CatalogRepository, store storage.Service, presignTTL time.Duration) TrackCatalog {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &trackCatalog{
		tracks:     tracks,
		storage:    store,
		presignTTL: presignTTL,
	}
}

func (c *trackCatalog) GetTrack(ctx context.Context, id string) (domain.TrackRef, error) {
	track, err := c.tracks.GetTrack(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTrackNotFound) {
			return domain.TrackRef{}, err
		}
		return domain.TrackRef{}, &domain.RemoteError{Op: "get track", Err: err}
	}

	// audio stays as s3:// so the transfer router can use the SDK downloader
	if c.storage != nil && storage.IsURL(track.ArtworkURL) {
		bucket, key, err := storage.ParseURL(track.ArtworkURL)
		if err == nil {
			if signed, err := c.storage.GetObjectURL(ctx, bucket, key, c.presignTTL); err == nil {
				track.ArtworkURL = signed
			}
		}
	}
	return *track, nil
}
