package offline

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"offline-store/internal/domain"
)

// AddToDownloadQueue appends trackID unless it is already queued.
func (c *catalog) AddToDownloadQueue(trackID string) bool {
	if trackID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.queue, trackID) {
		return false
	}
	c.queue = append(c.queue, trackID)
	return true
}

func (c *catalog) RemoveFromDownloadQueue(trackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := slices.Index(c.queue, trackID)
	if idx < 0 {
		return false
	}
	c.queue = slices.Delete(c.queue, idx, idx+1)
	return true
}

func (c *catalog) ClearDownloadQueue() {
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
}

func (c *catalog) Queue() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.queue)
}

// ProcessDownloadQueue downloads queued tracks one after another, removing each
// id once its download has finished either way. Only one drain runs at a time.
func (c *catalog) ProcessDownloadQueue(ctx context.Context) error {
	if c.deps.Tracks == nil {
		return errors.New("no track catalog configured")
	}
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			break
		}
		trackID := c.queue[0]
		c.mu.Unlock()

		err := c.downloadQueued(ctx, trackID)
		c.RemoveFromDownloadQueue(trackID)
		if err != nil {
			errs = append(errs, fmt.Errorf("track %s: %w", trackID, err))
		}
	}
	return errors.Join(errs...)
}

func (c *catalog) downloadQueued(ctx context.Context, trackID string) error {
	track, err := c.deps.Tracks.GetTrack(ctx, trackID)
	if err != nil {
		return err
	}
	err = c.DownloadTrack(ctx, track)
	if errors.Is(err, domain.ErrDownloadPaused) || errors.Is(err, domain.ErrDownloadCancelled) {
		c.logger(trackID).Infof("queued download stopped: %v", err)
		return nil
	}
	return err
}

// OnFavorite queues a newly favorited track and drains the queue when the
// policy downloads favorites automatically. It reports whether the track was queued.
func (c *catalog) OnFavorite(ctx context.Context, trackID string) (bool, error) {
	if !c.deps.Settings.Policy().AutoDownloadFavorites {
		return false, nil
	}
	if c.IsOffline(trackID) {
		return false, nil
	}
	c.AddToDownloadQueue(trackID)
	return true, c.ProcessDownloadQueue(ctx)
}
