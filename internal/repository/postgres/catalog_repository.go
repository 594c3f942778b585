package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"offline-store/internal/domain"
	"offline-store/internal/repository"
)

const createTracksTable = `
	CREATE TABLE IF NOT EXISTS tracks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		artist TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		audio_url TEXT NOT NULL,
		artwork_url TEXT NOT NULL DEFAULT ''
	)
`

// CatalogRepository reads track metadata.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) repository.CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) Init(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createTracksTable); err != nil {
		return fmt.Errorf("creating tracks table: %w", err)
	}
	return nil
}

// GetTrack retrieves a track by ID.
func (r *CatalogRepository) GetTrack(ctx context.Context, id string) (*domain.TrackRef, error) {
	query := `
		SELECT id, title, artist, duration_seconds, audio_url, artwork_url
		FROM tracks
		WHERE id = $1
	`
	var track domain.TrackRef
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&track.ID,
		&track.Title,
		&track.Artist,
		&track.DurationSeconds,
		&track.AudioURL,
		&track.ArtworkURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return &track, nil
}

// UpsertTrack creates or updates a track.
func (r *CatalogRepository) UpsertTrack(ctx context.Context, track domain.TrackRef) error {
	query := `
		INSERT INTO tracks (id, title, artist, duration_seconds, audio_url, artwork_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			artist = EXCLUDED.artist,
			duration_seconds = EXCLUDED.duration_seconds,
			audio_url = EXCLUDED.audio_url,
			artwork_url = EXCLUDED.artwork_url
	`
	_, err := r.pool.Exec(ctx, query,
		track.ID,
		track.Title,
		track.Artist,
		track.DurationSeconds,
		track.AudioURL,
		track.ArtworkURL,
	)
	if err != nil {
		return fmt.Errorf("upserting track: %w", err)
	}
	return nil
}
