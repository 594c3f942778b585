package domain

import "time"

// TrackRef is the catalog snapshot needed to download a track.
type TrackRef struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	DurationSeconds int    `json:"duration_seconds"`
	AudioURL        string `json:"audio_url"`
	ArtworkURL      string `json:"artwork_url,omitempty"`
}

// OfflineTrackRecord describes a completed download and where its file lives.
type OfflineTrackRecord struct {
	TrackRef
	LocalPath     string    `json:"local_path"`
	DownloadedAt  time.Time `json:"downloaded_at"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	// PendingSync is set while the ledger has not confirmed the row.
	PendingSync bool `json:"pending_sync"`
}

// LedgerEntry is one row of the remote downloads ledger.
type LedgerEntry struct {
	UserID        string
	TrackID       string
	LocalPath     string
	FileSizeBytes int64
	DownloadedAt  time.Time
}
