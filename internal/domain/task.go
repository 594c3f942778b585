package domain

import "time"

type TaskStatus string

const (
	TaskStatusQueued      TaskStatus = "queued"
	TaskStatusDownloading TaskStatus = "downloading"
	TaskStatusPaused      TaskStatus = "paused"
	TaskStatusError       TaskStatus = "error"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// IsActive reports whether a task in this state holds or waits for a transfer slot.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusQueued || s == TaskStatusDownloading
}

// DownloadTask is the transient state of one in-progress transfer.
type DownloadTask struct {
	TrackID         string     `json:"track_id"`
	AttemptID       string     `json:"attempt_id"`
	Status          TaskStatus `json:"status"`
	Progress        int        `json:"progress"`
	BytesDownloaded int64      `json:"bytes_downloaded"`
	TotalBytes      int64      `json:"total_bytes"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	LocalPath       string     `json:"local_path"`
	StartedAt       time.Time  `json:"started_at"`
}
