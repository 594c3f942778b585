// Package offline owns the set of downloaded tracks, the in-flight download
// tasks and the storage budget they are admitted against.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"offline-store/internal/connectivity"
	"offline-store/internal/domain"
	"offline-store/internal/downloader"
	"offline-store/internal/files"
	"offline-store/internal/service"
	"offline-store/internal/transfer"
)

// Catalog is the offline download state machine.
type Catalog interface {
	Start(ctx context.Context) error
	Shutdown()

	DownloadTrack(ctx context.Context, track domain.TrackRef) error
	StartDownload(ctx context.Context, track domain.TrackRef) (*Download, error)
	PauseDownload(ctx context.Context, trackID string) error
	ResumeDownload(ctx context.Context, trackID string) (*Download, error)
	CancelDownload(ctx context.Context, trackID string) error
	RemoveFromOffline(ctx context.Context, trackID string) error

	AddToDownloadQueue(trackID string) bool
	RemoveFromDownloadQueue(trackID string) bool
	ClearDownloadQueue()
	Queue() []string
	ProcessDownloadQueue(ctx context.Context) error
	OnFavorite(ctx context.Context, trackID string) (bool, error)

	GetOfflineSize(ctx context.Context) (int64, error)
	CanDownloadMore(extraBytes int64) bool
	ValidateOfflineFiles(ctx context.Context) ([]string, error)
	CleanupOfflineFiles(ctx context.Context) ([]string, error)
	SyncWithLedger(ctx context.Context) error
	RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	IsOffline(trackID string) bool
	IsDownloading(trackID string) bool
	GetDownloadProgress(trackID string) int
	GetOfflineTrack(trackID string) (domain.OfflineTrackRecord, bool)
	GetTask(trackID string) (domain.DownloadTask, bool)
	OfflineTracks() []domain.OfflineTrackRecord
	Tasks() []domain.DownloadTask
	Usage() Usage
	Stats() Stats
	Policy() domain.StoragePolicy
}

// PendingStore persists records whose ledger insert is unconfirmed.
type PendingStore interface {
	Load() ([]domain.OfflineTrackRecord, error)
	Save(records []domain.OfflineTrackRecord) error
}

// Settings supplies the storage policy.
type Settings interface {
	Load() domain.StoragePolicy
	Policy() domain.StoragePolicy
}

// Dependencies are the collaborators a catalog drives.
type Dependencies struct {
	Files    *files.Manager
	Ledger   service.LedgerClient
	Runner   transfer.Runner
	Network  connectivity.Monitor
	Settings Settings
	Tracks   service.TrackCatalog
	Workers  downloader.Manager
	// Pending is optional; without it unconfirmed records do not survive a restart.
	Pending PendingStore
}

type Config struct {
	UserID string
	// PruneLedgerOnValidate also deletes the ledger rows of records dropped by
	// ValidateOfflineFiles.
	PruneLedgerOnValidate bool
	Logger                *logrus.Logger
}

// Usage is the aggregate storage figure exposed to consumers.
type Usage struct {
	UsedBytes     int64 `json:"used_bytes"`
	ReservedBytes int64 `json:"reserved_bytes"`
	MaxBytes      int64 `json:"max_bytes"`
	Tracks        int   `json:"tracks"`
}

// Stats counts finished download attempts since the process started.
type Stats struct {
	Completed     uint64
	Failed        uint64
	Cancelled     uint64
	Paused        uint64
	LedgerPending uint64
	Running       int
}

type catalog struct {
	cfg  Config
	deps Dependencies
	now  func() time.Time

	mu      sync.Mutex
	records map[string]domain.OfflineTrackRecord
	// gen changes whenever records gain, lose or move an entry
	gen     uint64
	tasks   map[string]*taskState
	queue   []string
	usage   int64
	stats   Stats

	drainMu   sync.Mutex
	journalMu sync.Mutex
}

type taskState struct {
	task     domain.DownloadTask
	track    domain.TrackRef
	download *Download
}

func NewCatalog(cfg Config, deps Dependencies) (Catalog, error) {
	if cfg.UserID == "" {
		return nil, errors.New("offline catalog requires a user id")
	}
	if deps.Files == nil || deps.Ledger == nil || deps.Runner == nil || deps.Network == nil || deps.Settings == nil {
		return nil, errors.New("offline catalog is missing a dependency")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if deps.Workers == nil {
		deps.Workers = downloader.NewManager(downloader.Config{Logger: cfg.Logger})
	}
	return &catalog{
		cfg:     cfg,
		deps:    deps,
		now:     time.Now,
		records: make(map[string]domain.OfflineTrackRecord),
		tasks:   make(map[string]*taskState),
	}, nil
}

// Start rebuilds the catalog: it prepares the download directory, loads the
// policy, reconciles with the ledger, drops records whose files are gone and
// measures usage. Old downloads are removed when the retention policy is on.
func (c *catalog) Start(ctx context.Context) error {
	c.deps.Workers.Start(ctx)

	if err := c.deps.Files.EnsureDirectory(); err != nil {
		return fmt.Errorf("prepare download directory: %w", err)
	}
	policy := c.deps.Settings.Load()
	c.loadPending()

	if err := c.SyncWithLedger(ctx); err != nil {
		// keep serving what is on disk; the next sync will catch up
		c.cfg.Logger.Warnf("initial ledger sync failed: %v", err)
	}
	if _, err := c.ValidateOfflineFiles(ctx); err != nil {
		return fmt.Errorf("validate offline files: %w", err)
	}
	used, err := c.GetOfflineSize(ctx)
	if err != nil {
		return fmt.Errorf("measure offline usage: %w", err)
	}

	if policy.DeleteOldDownloads {
		cutoff := c.now().AddDate(0, 0, -policy.OldDownloadThresholdDays)
		if _, err := c.RemoveOlderThan(ctx, cutoff); err != nil {
			c.cfg.Logger.Warnf("retention cleanup: %v", err)
		}
	}

	c.mu.Lock()
	count := len(c.records)
	c.mu.Unlock()
	c.cfg.Logger.Infof("offline catalog ready: %d tracks, %d bytes in %s", count, used, c.deps.Files.Root())
	return nil
}

// loadPending restores journaled records so that sync retries their ledger
// insert instead of treating their files as orphans.
func (c *catalog) loadPending() {
	if c.deps.Pending == nil {
		return
	}
	records, err := c.deps.Pending.Load()
	if err != nil {
		c.cfg.Logger.Warnf("load pending downloads: %v", err)
		return
	}

	c.mu.Lock()
	for _, record := range records {
		if _, ok := c.records[record.ID]; ok {
			continue
		}
		record.PendingSync = true
		c.records[record.ID] = record
		c.gen++
	}
	c.mu.Unlock()
	if len(records) > 0 {
		c.cfg.Logger.Infof("restored %d downloads awaiting ledger confirmation", len(records))
	}
}

// savePending writes the current pending records to the journal. Snapshots are
// taken under journalMu so the last write always reflects the latest state.
func (c *catalog) savePending() {
	if c.deps.Pending == nil {
		return
	}
	c.journalMu.Lock()
	defer c.journalMu.Unlock()

	c.mu.Lock()
	var pending []domain.OfflineTrackRecord
	for _, record := range c.records {
		if record.PendingSync {
			pending = append(pending, record)
		}
	}
	c.mu.Unlock()

	if err := c.deps.Pending.Save(pending); err != nil {
		c.cfg.Logger.Warnf("save pending downloads: %v", err)
	}
}

func (c *catalog) Shutdown() {
	c.deps.Workers.Shutdown()
}

func (c *catalog) logger(trackID string) *logrus.Entry {
	return c.cfg.Logger.WithField("track_id", trackID)
}

var _ Catalog = (*catalog)(nil)
