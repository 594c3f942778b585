package offline

import (
	"sort"

	"offline-store/internal/domain"
)

func (c *catalog) IsOffline(trackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[trackID]
	return ok
}

// IsDownloading reports whether trackID is queued or transferring. Paused
// downloads are not downloading.
func (c *catalog) IsDownloading(trackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tasks[trackID]
	return ok && st.task.Status.IsActive()
}

func (c *catalog) GetDownloadProgress(trackID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.tasks[trackID]; ok {
		return st.task.Progress
	}
	return 0
}

func (c *catalog) GetOfflineTrack(trackID string) (domain.OfflineTrackRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[trackID]
	return record, ok
}

func (c *catalog) GetTask(trackID string) (domain.DownloadTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.tasks[trackID]; ok {
		return st.task, true
	}
	return domain.DownloadTask{}, false
}

// OfflineTracks returns the records, oldest download first.
func (c *catalog) OfflineTracks() []domain.OfflineTrackRecord {
	c.mu.Lock()
	out := make([]domain.OfflineTrackRecord, 0, len(c.records))
	for _, record := range c.records {
		out = append(out, record)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DownloadedAt.Equal(out[j].DownloadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DownloadedAt.Before(out[j].DownloadedAt)
	})
	return out
}

func (c *catalog) Tasks() []domain.DownloadTask {
	c.mu.Lock()
	out := make([]domain.DownloadTask, 0, len(c.tasks))
	for _, st := range c.tasks {
		out = append(out, st.task)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

func (c *catalog) Usage() Usage {
	limit := c.deps.Settings.Policy().MaxOfflineBytes
	c.mu.Lock()
	defer c.mu.Unlock()
	return Usage{
		UsedBytes:     c.usage,
		ReservedBytes: c.reservedLocked(""),
		MaxBytes:      limit,
		Tracks:        len(c.records),
	}
}

func (c *catalog) Stats() Stats {
	c.mu.Lock()
	stats := c.stats
	c.mu.Unlock()
	stats.Running = c.deps.Workers.Running()
	return stats
}

func (c *catalog) Policy() domain.StoragePolicy {
	return c.deps.Settings.Policy()
}
