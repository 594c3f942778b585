package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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
);
`

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) repository.CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTracksTable); err != nil {
		return fmt.Errorf("create tracks table: %w", err)
	}
	return nil
}

func (r *CatalogRepository) GetTrack(ctx context.Context, id string) (*domain.TrackRef, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, title, artist, duration_seconds, audio_url, artwork_url
FROM tracks
WHERE id=?`, id)

	var track domain.TrackRef
	if err := row.Scan(
		&track.ID,
		&track.Title,
		&track.Artist,
		&track.DurationSeconds,
		&track.AudioURL,
		&track.ArtworkURL,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTrackNotFound
		}
		return nil, fmt.Errorf("scan track: %w", err)
	}
	return &track, nil
}

func (r *CatalogRepository) UpsertTrack(ctx context.Context, track domain.TrackRef) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tracks (id, title, artist, duration_seconds, audio_url, artwork_url)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	title=excluded.title,
	artist=excluded.artist,
	duration_seconds=excluded.duration_seconds,
	audio_url=excluded.audio_url,
	artwork_url=excluded.artwork_url`,
		track.ID,
		track.Title,
		track.Artist,
		track.DurationSeconds,
		track.AudioURL,
		track.ArtworkURL,
	)
	if err != nil {
		return fmt.Errorf("upsert track: %w", err)
	}
	return nil
}
