package http

import (
	"time"

	"offline-store/internal/domain"
	"offline-store/internal/offline"
)

type OfflineTrackResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	DurationSeconds int    `json:"duration_seconds"`
	ArtworkURL      string `json:"artwork_url,omitempty"`
	LocalPath       string `json:"local_path"`
	FileSizeBytes   int64  `json:"file_size_bytes"`
	DownloadedAt    string `json:"downloaded_at"`
	PendingSync     bool   `json:"pending_sync"`
}

type TaskResponse struct {
	TrackID         string            `json:"track_id"`
	AttemptID       string            `json:"attempt_id"`
	Status          domain.TaskStatus `json:"status"`
	Progress        int               `json:"progress"`
	BytesDownloaded int64             `json:"bytes_downloaded"`
	TotalBytes      int64             `json:"total_bytes"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	StartedAt       *string           `json:"started_at,omitempty"`
}

type UsageResponse struct {
	offline.Usage
	Used      string `json:"used"`
	Max       string `json:"max"`
	Available string `json:"available"`
}

func recordToResponse(record domain.OfflineTrackRecord) OfflineTrackResponse {
	return OfflineTrackResponse{
		ID:              record.ID,
		Title:           record.Title,
		Artist:          record.Artist,
		DurationSeconds: record.DurationSeconds,
		ArtworkURL:      record.ArtworkURL,
		LocalPath:       record.LocalPath,
		FileSizeBytes:   record.FileSizeBytes,
		DownloadedAt:    record.DownloadedAt.Format(time.RFC3339),
		PendingSync:     record.PendingSync,
	}
}

func taskToResponse(task domain.DownloadTask) TaskResponse {
	resp := TaskResponse{
		TrackID:         task.TrackID,
		AttemptID:       task.AttemptID,
		Status:          task.Status,
		Progress:        task.Progress,
		BytesDownloaded: task.BytesDownloaded,
		TotalBytes:      task.TotalBytes,
		ErrorMessage:    task.ErrorMessage,
	}
	if !task.StartedAt.IsZero() {
		v := task.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &v
	}
	return resp
}
