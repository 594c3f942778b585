package files

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reports out-of-band removals in the download directory. onChange runs at
// most once per delay window after the last remove/rename event. Watch blocks until
// ctx is done.
func (m *Manager) Watch(ctx context.Context, delay time.Duration, logger *logrus.Logger, onChange func()) error {
	if delay <= 0 {
		delay = time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.root); err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(delay, onChange)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				logger.WithField("file", event.Name).Debug("download file removed")
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("watch download dir: %v", err)
		}
	}
}
