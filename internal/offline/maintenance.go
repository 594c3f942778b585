package offline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"offline-store/internal/domain"
)

// RemoveFromOffline deletes the ledger row and the local file of a downloaded
// track. A ledger failure leaves the record untouched.
func (c *catalog) RemoveFromOffline(ctx context.Context, trackID string) error {
	c.mu.Lock()
	record, ok := c.records[trackID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	logger := c.logger(trackID)
	if !record.PendingSync {
		if err := c.deps.Ledger.Delete(ctx, c.cfg.UserID, trackID); err != nil {
			return fmt.Errorf("remove track %s: %w", trackID, err)
		}
	}

	c.mu.Lock()
	if cur, ok := c.records[trackID]; ok && cur.LocalPath == record.LocalPath {
		delete(c.records, trackID)
		c.gen++
	}
	c.mu.Unlock()
	if record.PendingSync {
		c.savePending()
	}

	if err := c.deps.Files.Delete(record.LocalPath); err != nil {
		logger.Warnf("remove offline file: %v", err)
	}
	if _, err := c.GetOfflineSize(ctx); err != nil {
		logger.Warnf("measure offline usage: %v", err)
	}
	logger.Info("removed from offline")
	return nil
}

// GetOfflineSize sums the on-disk size of every recorded file that still exists.
// The total only replaces the cached usage when no record changed meanwhile;
// whoever changed them recomputes or adjusts usage themselves.
func (c *catalog) GetOfflineSize(_ context.Context) (int64, error) {
	paths, gen := c.recordPaths()

	var total int64
	for _, path := range paths {
		size, ok, err := c.deps.Files.SizeOf(path)
		if err != nil {
			return 0, err
		}
		if ok {
			total += size
		}
	}

	c.commitUsage(gen, total)
	return total, nil
}

func (c *catalog) commitUsage(gen uint64, total int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.usage = total
	return true
}

func (c *catalog) CanDownloadMore(extraBytes int64) bool {
	limit := c.deps.Settings.Policy().MaxOfflineBytes
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage+extraBytes <= limit
}

// ValidateOfflineFiles drops records whose file is missing and returns their
// ids. It never deletes files.
func (c *catalog) ValidateOfflineFiles(ctx context.Context) ([]string, error) {
	paths, _ := c.recordPaths()

	var missing []string
	for id, path := range paths {
		exists, err := c.deps.Files.Exists(path)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	dropped := make([]string, 0, len(missing))
	prune := make([]string, 0, len(missing))
	c.mu.Lock()
	for _, id := range missing {
		record, ok := c.records[id]
		if !ok || record.LocalPath != paths[id] {
			continue
		}
		delete(c.records, id)
		c.gen++
		dropped = append(dropped, id)
		if !record.PendingSync {
			prune = append(prune, id)
		}
	}
	c.mu.Unlock()
	if len(prune) < len(dropped) {
		c.savePending()
	}

	for _, id := range dropped {
		c.logger(id).Warn("offline file missing, record dropped")
	}
	if c.cfg.PruneLedgerOnValidate {
		for _, id := range prune {
			if err := c.deps.Ledger.Delete(ctx, c.cfg.UserID, id); err != nil {
				c.logger(id).Warnf("prune ledger row: %v", err)
			}
		}
	}
	if _, err := c.GetOfflineSize(ctx); err != nil {
		return dropped, err
	}
	return dropped, nil
}

// CleanupOfflineFiles deletes files in the download directory that belong to
// neither a record nor a task, and returns their names.
func (c *catalog) CleanupOfflineFiles(_ context.Context) ([]string, error) {
	names, err := c.deps.Files.ListDirectory()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	known := make(map[string]struct{}, len(c.records)+len(c.tasks))
	for _, record := range c.records {
		known[filepath.Base(record.LocalPath)] = struct{}{}
	}
	for _, st := range c.tasks {
		known[filepath.Base(st.task.LocalPath)] = struct{}{}
	}
	c.mu.Unlock()

	var removed []string
	var errs []error
	for _, name := range names {
		if _, ok := known[name]; ok {
			continue
		}
		if err := c.deps.Files.Delete(filepath.Join(c.deps.Files.Root(), name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		c.cfg.Logger.Infof("removed %d orphaned files", len(removed))
	}
	return removed, errors.Join(errs...)
}

// SyncWithLedger replaces the record set with the ledger's rows for the user.
// Records still waiting for their ledger insert are kept and the insert retried.
func (c *catalog) SyncWithLedger(ctx context.Context) error {
	remote, err := c.deps.Ledger.ListForUser(ctx, c.cfg.UserID)
	if err != nil {
		return fmt.Errorf("sync with ledger: %w", err)
	}

	next := make(map[string]domain.OfflineTrackRecord, len(remote))
	for _, record := range remote {
		record.PendingSync = false
		next[record.ID] = record
	}

	var pending []domain.OfflineTrackRecord
	var dropped []string
	c.mu.Lock()
	for id, record := range c.records {
		if _, ok := next[id]; ok {
			continue
		}
		if record.PendingSync {
			next[id] = record
			pending = append(pending, record)
			continue
		}
		dropped = append(dropped, id)
	}
	c.records = next
	c.gen++
	c.mu.Unlock()
	c.savePending()

	for _, id := range dropped {
		c.logger(id).Info("record not in ledger, dropped")
	}
	for _, record := range pending {
		if err := c.confirm(ctx, record); err != nil {
			c.logger(record.ID).Warnf("ledger insert retry failed, still pending: %v", err)
		}
	}
	if _, err := c.GetOfflineSize(ctx); err != nil {
		return err
	}
	c.cfg.Logger.Infof("ledger sync: %d records, %d pending", len(next), len(pending))
	return nil
}

// RemoveOlderThan removes every download made before cutoff.
func (c *catalog) RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	c.mu.Lock()
	var stale []string
	for id, record := range c.records {
		if record.DownloadedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	removed := 0
	var errs []error
	for _, id := range stale {
		if err := c.RemoveFromOffline(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (c *catalog) recordPaths() (map[string]string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make(map[string]string, len(c.records))
	for id, record := range c.records {
		paths[id] = record.LocalPath
	}
	return paths, c.gen
}
