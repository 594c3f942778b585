package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"offline-store/internal/domain"
	"offline-store/internal/repository"
)

const createDownloadsTable = `
CREATE TABLE IF NOT EXISTS downloads (
	user_id TEXT NOT NULL,
	track_id TEXT NOT NULL,
	local_path TEXT NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	downloaded_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, track_id)
);
CREATE INDEX IF NOT EXISTS idx_downloads_user_id ON downloads(user_id);
`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) repository.LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createDownloadsTable); err != nil {
		return fmt.Errorf("create downloads table: %w", err)
	}
	return nil
}

func (r *LedgerRepository) ListForUser(ctx context.Context, userID string) ([]domain.OfflineTrackRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT d.track_id, d.local_path, d.file_size, d.downloaded_at,
	t.title, t.artist, t.duration_seconds, t.audio_url, t.artwork_url
FROM downloads d
LEFT JOIN tracks t ON t.id = d.track_id
WHERE d.user_id=?
ORDER BY d.downloaded_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer rows.Close()

	var records []domain.OfflineTrackRecord
	for rows.Next() {
		var (
			rec          domain.OfflineTrackRecord
			downloadedAt time.Time
			title        sql.NullString
			artist       sql.NullString
			duration     sql.NullInt64
			audioURL     sql.NullString
			artworkURL   sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.LocalPath,
			&rec.FileSizeBytes,
			&downloadedAt,
			&title,
			&artist,
			&duration,
			&audioURL,
			&artworkURL,
		); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		rec.DownloadedAt = downloadedAt.UTC()
		rec.Title = title.String
		rec.Artist = artist.String
		rec.DurationSeconds = int(duration.Int64)
		rec.AudioURL = audioURL.String
		rec.ArtworkURL = artworkURL.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *LedgerRepository) Insert(ctx context.Context, entry domain.LedgerEntry) error {
	downloadedAt := entry.DownloadedAt
	if downloadedAt.IsZero() {
		downloadedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO downloads (user_id, track_id, local_path, file_size, downloaded_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id, track_id) DO UPDATE SET
	local_path=excluded.local_path,
	file_size=excluded.file_size,
	downloaded_at=excluded.downloaded_at`,
		entry.UserID,
		entry.TrackID,
		entry.LocalPath,
		entry.FileSizeBytes,
		downloadedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	return nil
}

func (r *LedgerRepository) Delete(ctx context.Context, userID, trackID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE user_id=? AND track_id=?`, userID, trackID); err != nil {
		return fmt.Errorf("delete download: %w", err)
	}
	return nil
}
