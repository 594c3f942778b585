package offline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/google/uuid"

	"offline-store/internal/connectivity"
	"offline-store/internal/domain"
	"offline-store/internal/downloader"
	"offline-store/internal/files"
	"offline-store/internal/quota"
	"offline-store/internal/transfer"
)

// Download is a handle on one admitted download attempt.
type Download struct {
	TrackID   string
	AttemptID string
	handle    *downloader.Handle
}

// Done is closed when the attempt has finished, failed, paused or been cancelled.
func (d *Download) Done() <-chan struct{} {
	return d.handle.Done()
}

// Wait blocks until the attempt ends and returns its outcome. A paused attempt
// yields domain.ErrDownloadPaused, a cancelled one domain.ErrDownloadCancelled.
// Giving up on ctx does not stop the download.
func (d *Download) Wait(ctx context.Context) error {
	if err := d.handle.Wait(ctx); err != nil {
		return err
	}
	return d.handle.Err()
}

func (c *catalog) DownloadTrack(ctx context.Context, track domain.TrackRef) error {
	d, err := c.StartDownload(ctx, track)
	if err != nil || d == nil {
		return err
	}
	return d.Wait(ctx)
}

// StartDownload admits track and starts its transfer in the background. It
// returns nil, nil when the track is already offline and the existing handle
// when a download for it is already under way.
func (c *catalog) StartDownload(_ context.Context, track domain.TrackRef) (*Download, error) {
	if err := files.CheckTrackID(track.ID); err != nil {
		return nil, err
	}
	if track.AudioURL == "" {
		return nil, fmt.Errorf("track %s has no audio url", track.ID)
	}

	policy := c.deps.Settings.Policy()
	network := c.deps.Network.Status()
	estimate := quota.Estimate(track, quota.BitrateFor(policy.DownloadQuality))

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[track.ID]; ok {
		return nil, nil
	}
	if st, ok := c.tasks[track.ID]; ok {
		if st.task.Status == domain.TaskStatusPaused {
			return c.resumeLocked(st, policy, network)
		}
		return st.download, nil
	}

	used := c.usage + c.reservedLocked("")
	if !quota.Fits(used, estimate, policy.MaxOfflineBytes) {
		return nil, &domain.QuotaExceededError{Used: used, Requested: estimate, Limit: policy.MaxOfflineBytes}
	}
	if err := gate(policy, network); err != nil {
		return nil, err
	}

	st := &taskState{
		track: track,
		task: domain.DownloadTask{
			TrackID:    track.ID,
			TotalBytes: estimate,
			LocalPath:  c.deps.Files.PathFor(track.ID, files.ExtFromURL(track.AudioURL)),
		},
	}
	c.tasks[track.ID] = st
	c.launchLocked(st, false)
	c.logger(track.ID).Infof("download admitted, estimated %d bytes", estimate)
	return st.download, nil
}

// PauseDownload stops the transfer and keeps the partial file so that
// ResumeDownload can continue from the same offset.
func (c *catalog) PauseDownload(ctx context.Context, trackID string) error {
	c.mu.Lock()
	st, ok := c.tasks[trackID]
	if !ok || !st.task.Status.IsActive() {
		c.mu.Unlock()
		return nil
	}
	st.task.Status = domain.TaskStatusPaused
	attempt := st.task.AttemptID
	c.mu.Unlock()

	c.logger(trackID).Info("pausing download")
	return c.deps.Workers.Cancel(ctx, attempt, domain.ErrDownloadPaused)
}

func (c *catalog) ResumeDownload(_ context.Context, trackID string) (*Download, error) {
	policy := c.deps.Settings.Policy()
	network := c.deps.Network.Status()

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tasks[trackID]
	if !ok {
		return nil, nil
	}
	if st.task.Status != domain.TaskStatusPaused {
		return st.download, nil
	}
	return c.resumeLocked(st, policy, network)
}

func (c *catalog) resumeLocked(st *taskState, policy domain.StoragePolicy, network connectivity.Status) (*Download, error) {
	if err := gate(policy, network); err != nil {
		return nil, err
	}
	c.launchLocked(st, true)
	c.logger(st.track.ID).Infof("resuming download at %d bytes", st.task.BytesDownloaded)
	return st.download, nil
}

// CancelDownload aborts any transfer for trackID, waits for it to stop and
// deletes the partial file. When ctx ends first the transfer finishes the
// cleanup itself. Cancelling an unknown track is a no-op.
func (c *catalog) CancelDownload(ctx context.Context, trackID string) error {
	c.mu.Lock()
	st, ok := c.tasks[trackID]
	if !ok {
		c.mu.Unlock()
		c.removePartials(trackID)
		return nil
	}
	if st.task.Status == domain.TaskStatusCancelled {
		d := st.download
		c.mu.Unlock()
		if err := d.handle.Wait(ctx); err != nil {
			c.logger(trackID).Debugf("cancelled transfer still stopping: %v", err)
		}
		return nil
	}
	st.task.Status = domain.TaskStatusCancelled
	attempt, dest := st.task.AttemptID, st.task.LocalPath
	c.mu.Unlock()

	logger := c.logger(trackID)
	if err := c.deps.Workers.Cancel(ctx, attempt, domain.ErrDownloadCancelled); err != nil {
		// the transfer goroutine removes the partial file once it exits
		logger.Warnf("transfer still stopping, cleanup deferred: %v", err)
		return nil
	}
	c.dropCancelled(trackID, st, dest)
	logger.Info("download cancelled")
	return nil
}

// dropCancelled deletes the partial file of a cancelled task and then forgets
// the task. The task stays registered until the file is gone, so no new
// attempt can write that path in between. Safe to call more than once.
func (c *catalog) dropCancelled(trackID string, st *taskState, dest string) error {
	c.mu.Lock()
	owned := c.tasks[trackID] == st
	c.mu.Unlock()
	if !owned {
		return domain.ErrDownloadCancelled
	}

	if err := c.deps.Files.Delete(dest); err != nil {
		c.logger(trackID).Warnf("remove partial file: %v", err)
	}

	c.mu.Lock()
	if c.tasks[trackID] == st {
		delete(c.tasks, trackID)
		c.stats.Cancelled++
	}
	c.mu.Unlock()
	return domain.ErrDownloadCancelled
}

func (c *catalog) launchLocked(st *taskState, resume bool) {
	var prev <-chan struct{}
	if st.download != nil {
		prev = st.download.Done()
	}

	trackID := st.track.ID
	attempt := uuid.NewString()
	st.task.AttemptID = attempt
	st.task.Status = domain.TaskStatusQueued
	st.task.ErrorMessage = ""

	handle := c.deps.Workers.Spawn(attempt, func(ctx context.Context) error {
		if prev != nil {
			// the previous attempt may still be writing the same file
			select {
			case <-prev:
			case <-ctx.Done():
				return context.Cause(ctx)
			}
		}
		return c.run(ctx, trackID, attempt, resume)
	})
	st.download = &Download{TrackID: trackID, AttemptID: attempt, handle: handle}
}

func (c *catalog) run(ctx context.Context, trackID, attempt string, resume bool) error {
	c.mu.Lock()
	st, ok := c.ownedLocked(trackID, attempt)
	if !ok {
		c.mu.Unlock()
		return domain.ErrDownloadCancelled
	}
	if st.task.Status == domain.TaskStatusCancelled {
		dest := st.task.LocalPath
		c.mu.Unlock()
		return c.dropCancelled(trackID, st, dest)
	}
	if st.task.Status == domain.TaskStatusPaused {
		c.mu.Unlock()
		return domain.ErrDownloadPaused
	}
	st.task.Status = domain.TaskStatusDownloading
	if st.task.StartedAt.IsZero() {
		st.task.StartedAt = c.now().UTC()
	}
	req := transfer.Request{
		RemoteURL:   st.track.AudioURL,
		Destination: st.task.LocalPath,
		Resume:      resume,
	}
	c.mu.Unlock()

	c.logger(trackID).WithField("resume", resume).Info("download started")

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	result, err := c.deps.Runner.Start(runCtx, req, func(written, expected int64) {
		if qerr := c.progress(trackID, attempt, written, expected); qerr != nil {
			abort(qerr)
		}
	})
	if cause := context.Cause(runCtx); cause != nil && errors.Is(cause, domain.ErrQuotaExceeded) {
		err = cause
	}
	if err != nil {
		return c.fail(trackID, attempt, req.Destination, err)
	}
	return c.complete(ctx, trackID, attempt, result)
}

// progress records a transfer update. It returns a quota error when the size
// reported by the server no longer fits the budget.
func (c *catalog) progress(trackID, attempt string, written, expected int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.ownedLocked(trackID, attempt)
	if !ok || st.task.Status != domain.TaskStatusDownloading {
		return nil
	}
	st.task.BytesDownloaded = written
	if expected <= 0 {
		return nil
	}
	st.task.Progress = percent(written, expected)
	if expected == st.task.TotalBytes {
		return nil
	}

	st.task.TotalBytes = expected
	limit := c.deps.Settings.Policy().MaxOfflineBytes
	used := c.usage + c.reservedLocked(trackID)
	if !quota.Fits(used, expected, limit) {
		return &domain.QuotaExceededError{Used: used, Requested: expected, Limit: limit}
	}
	return nil
}

func (c *catalog) complete(ctx context.Context, trackID, attempt string, result transfer.Result) error {
	size, ok, err := c.deps.Files.SizeOf(result.LocalPath)
	if err == nil && !ok {
		err = &domain.FilesystemError{Op: "stat", Path: result.LocalPath, Err: fs.ErrNotExist}
	}
	if err != nil {
		return c.fail(trackID, attempt, result.LocalPath, err)
	}
	limit := c.deps.Settings.Policy().MaxOfflineBytes

	c.mu.Lock()
	st, ok := c.ownedLocked(trackID, attempt)
	if !ok {
		c.mu.Unlock()
		return domain.ErrDownloadCancelled
	}
	if st.task.Status == domain.TaskStatusCancelled {
		c.mu.Unlock()
		return c.dropCancelled(trackID, st, result.LocalPath)
	}
	used := c.usage + c.reservedLocked(trackID)
	if !quota.Fits(used, size, limit) {
		c.mu.Unlock()
		return c.fail(trackID, attempt, result.LocalPath,
			&domain.QuotaExceededError{Used: used, Requested: size, Limit: limit})
	}
	record := domain.OfflineTrackRecord{
		TrackRef:      st.track,
		LocalPath:     result.LocalPath,
		DownloadedAt:  c.now().UTC(),
		FileSizeBytes: size,
		PendingSync:   true,
	}
	delete(c.tasks, trackID)
	c.records[trackID] = record
	c.gen++
	c.usage += size
	c.stats.Completed++
	c.mu.Unlock()

	c.logger(trackID).Infof("download completed, %d bytes", size)
	c.savePending()

	// the file is on disk; the ledger write must not be undone by a late pause or cancel
	ctx = context.WithoutCancel(ctx)
	if err := c.confirm(ctx, record); err != nil {
		c.logger(trackID).Warnf("ledger insert failed, record kept pending sync: %v", err)
	}
	if _, err := c.GetOfflineSize(ctx); err != nil {
		c.logger(trackID).Warnf("measure offline usage: %v", err)
	}
	return nil
}

// fail handles a transfer that ended with err. Paused attempts keep their
// partial file; every other failure removes it and drops the task.
func (c *catalog) fail(trackID, attempt, dest string, err error) error {
	logger := c.logger(trackID)

	c.mu.Lock()
	st, ok := c.ownedLocked(trackID, attempt)
	if !ok {
		c.mu.Unlock()
		return domain.ErrDownloadCancelled
	}
	if st.task.Status == domain.TaskStatusCancelled {
		c.mu.Unlock()
		return c.dropCancelled(trackID, st, dest)
	}
	if st.task.Status == domain.TaskStatusPaused {
		c.stats.Paused++
		written := st.task.BytesDownloaded
		c.mu.Unlock()
		logger.Infof("download paused at %d bytes", written)
		return domain.ErrDownloadPaused
	}
	// keep the task visible as failed until the partial file is gone, so a new
	// attempt cannot start writing the path we are about to delete
	st.task.Status = domain.TaskStatusError
	st.task.ErrorMessage = err.Error()
	c.mu.Unlock()

	if derr := c.deps.Files.Delete(dest); derr != nil {
		logger.Warnf("remove partial file: %v", derr)
	}

	c.mu.Lock()
	if c.tasks[trackID] == st {
		delete(c.tasks, trackID)
		c.stats.Failed++
	}
	c.mu.Unlock()

	logger.Errorf("download failed: %v", err)
	return err
}

// confirm writes record to the ledger and clears its pending flag.
func (c *catalog) confirm(ctx context.Context, record domain.OfflineTrackRecord) error {
	err := c.deps.Ledger.Insert(ctx, domain.LedgerEntry{
		UserID:        c.cfg.UserID,
		TrackID:       record.ID,
		LocalPath:     record.LocalPath,
		FileSizeBytes: record.FileSizeBytes,
		DownloadedAt:  record.DownloadedAt,
	})

	c.mu.Lock()
	cur, present := c.records[record.ID]
	same := present && cur.LocalPath == record.LocalPath && cur.DownloadedAt.Equal(record.DownloadedAt)
	switch {
	case err != nil && same:
		c.stats.LedgerPending++
	case err == nil && same:
		cur.PendingSync = false
		c.records[record.ID] = cur
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if same {
		c.savePending()
	}
	if !present {
		// removed while the insert was in flight
		if derr := c.deps.Ledger.Delete(ctx, c.cfg.UserID, record.ID); derr != nil {
			c.logger(record.ID).Warnf("ledger delete after removal: %v", derr)
		}
	}
	return nil
}

// removePartials deletes leftover files for trackID when it has neither a
// record nor a task.
func (c *catalog) removePartials(trackID string) {
	names, err := c.deps.Files.ListDirectory()
	if err != nil {
		c.logger(trackID).Warnf("list download directory: %v", err)
		return
	}
	for _, name := range names {
		// exact stem match, so "album" never claims "album.1.mp3"
		if files.TrackIDFromName(name) != trackID {
			continue
		}
		c.mu.Lock()
		_, recorded := c.records[trackID]
		_, tracked := c.tasks[trackID]
		c.mu.Unlock()
		if recorded || tracked {
			return
		}
		path := filepath.Join(c.deps.Files.Root(), name)
		if err := c.deps.Files.Delete(path); err != nil {
			c.logger(trackID).Warnf("remove partial file: %v", err)
		}
	}
}

func (c *catalog) ownedLocked(trackID, attempt string) (*taskState, bool) {
	st, ok := c.tasks[trackID]
	if !ok || st.task.AttemptID != attempt {
		return nil, false
	}
	return st, true
}

// reservedLocked sums the sizes claimed by live and paused tasks other than exclude.
func (c *catalog) reservedLocked(exclude string) int64 {
	var total int64
	for id, st := range c.tasks {
		if id == exclude {
			continue
		}
		if st.task.Status.IsActive() || st.task.Status == domain.TaskStatusPaused {
			total += st.task.TotalBytes
		}
	}
	return total
}

func gate(policy domain.StoragePolicy, network connectivity.Status) error {
	if !network.Online {
		return domain.ErrOffline
	}
	if policy.WifiOnly && !network.Unmetered {
		return domain.ErrWifiRequired
	}
	return nil
}

func percent(written, expected int64) int {
	if expected <= 0 || written <= 0 {
		return 0
	}
	if written >= expected {
		return 100
	}
	return int(written * 100 / expected)
}
