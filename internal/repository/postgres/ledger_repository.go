package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"offline-store/internal/domain"
	"offline-store/internal/repository"
)

const createDownloadsTable = `
	CREATE TABLE IF NOT EXISTS downloads (
		user_id TEXT NOT NULL,
		track_id TEXT NOT NULL,
		local_path TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		downloaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, track_id)
	)
`

// LedgerRepository handles the downloads ledger.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) repository.LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) Init(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createDownloadsTable); err != nil {
		return fmt.Errorf("creating downloads table: %w", err)
	}
	return nil
}

// ListForUser returns the user's ledger rows joined with catalog metadata.
func (r *LedgerRepository) ListForUser(ctx context.Context, userID string) ([]domain.OfflineTrackRecord, error) {
	query := `
		SELECT d.track_id, d.local_path, d.file_size, d.downloaded_at,
			COALESCE(t.title, ''), COALESCE(t.artist, ''), COALESCE(t.duration_seconds, 0),
			COALESCE(t.audio_url, ''), COALESCE(t.artwork_url, '')
		FROM downloads d
		LEFT JOIN tracks t ON t.id = d.track_id
		WHERE d.user_id = $1
		ORDER BY d.downloaded_at ASC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying downloads: %w", err)
	}
	defer rows.Close()

	var records []domain.OfflineTrackRecord
	for rows.Next() {
		var rec domain.OfflineTrackRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.LocalPath,
			&rec.FileSizeBytes,
			&rec.DownloadedAt,
			&rec.Title,
			&rec.Artist,
			&rec.DurationSeconds,
			&rec.AudioURL,
			&rec.ArtworkURL,
		); err != nil {
			return nil, fmt.Errorf("scanning download: %w", err)
		}
		rec.DownloadedAt = rec.DownloadedAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Insert creates or refreshes the ledger row for (user, track).
func (r *LedgerRepository) Insert(ctx context.Context, entry domain.LedgerEntry) error {
	downloadedAt := entry.DownloadedAt
	if downloadedAt.IsZero() {
		downloadedAt = time.Now()
	}
	query := `
		INSERT INTO downloads (user_id, track_id, local_path, file_size, downloaded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, track_id) DO UPDATE SET
			local_path = EXCLUDED.local_path,
			file_size = EXCLUDED.file_size,
			downloaded_at = EXCLUDED.downloaded_at
	`
	_, err := r.pool.Exec(ctx, query, entry.UserID, entry.TrackID, entry.LocalPath, entry.FileSizeBytes, downloadedAt)
	if err != nil {
		return fmt.Errorf("inserting download: %w", err)
	}
	return nil
}

// Delete removes the ledger row for (user, track) if it exists.
func (r *LedgerRepository) Delete(ctx context.Context, userID, trackID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM downloads WHERE user_id = $1 AND track_id = $2`, userID, trackID)
	if err != nil {
		return fmt.Errorf("deleting download: %w", err)
	}
	return nil
}
