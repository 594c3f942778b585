// Package settings persists the offline StoragePolicy as a single JSON document.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"offline-store/internal/domain"
	"offline-store/internal/files"
)

var (
	// ErrInvalidPolicy is wrapped by every validation failure of Update.
	ErrInvalidPolicy = errors.New("invalid storage policy")
	// ErrRetentionFailed is wrapped when the policy was saved but the
	// retention cleanup that followed failed.
	ErrRetentionFailed = errors.New("retention cleanup failed")
)

// Retention removes offline downloads older than a cutoff.
type Retention interface {
	RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Store loads and updates the persisted StoragePolicy.
type Store struct {
	path   string
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.RWMutex
	policy    domain.StoragePolicy
	retention Retention
}

func NewStore(path string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		path:   path,
		logger: logger,
		now:    time.Now,
		policy: domain.DefaultStoragePolicy(),
	}
}

// AttachRetention registers the cleanup invoked when an update enables deleteOldDownloads.
func (s *Store) AttachRetention(r Retention) {
	s.mu.Lock()
	s.retention = r
	s.mu.Unlock()
}

// Load reads the policy file. A missing or unreadable file yields the default policy.
func (s *Store) Load() domain.StoragePolicy {
	policy := domain.DefaultStoragePolicy()

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Infof("no storage policy at %s, using defaults", s.path)
	case err != nil:
		s.logger.Warnf("read storage policy: %v, using defaults", err)
	default:
		// decode over the defaults so fields missing from older files keep their default
		loaded := policy
		if err := json.Unmarshal(data, &loaded); err != nil {
			s.logger.Warnf("decode storage policy: %v, using defaults", err)
		} else if err := validate(loaded); err != nil {
			s.logger.Warnf("load storage policy: %v, using defaults", err)
		} else {
			policy = loaded
		}
	}

	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()
	return policy
}

// Policy returns the current policy without touching disk.
func (s *Store) Policy() domain.StoragePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Update merges patch into the current policy and persists it.
//
// If deleteOldDownloads is true after the merge, downloads older than
// oldDownloadThresholdDays are deleted before Update returns. Callers changing
// settings may therefore remove user data.
func (s *Store) Update(ctx context.Context, patch domain.PolicyPatch) (domain.StoragePolicy, error) {
	s.mu.Lock()
	next := patch.Apply(s.policy)
	if err := validate(next); err != nil {
		s.mu.Unlock()
		return domain.StoragePolicy{}, err
	}
	if err := s.persist(next); err != nil {
		s.mu.Unlock()
		return domain.StoragePolicy{}, err
	}
	s.policy = next
	retention := s.retention
	s.mu.Unlock()

	if next.DeleteOldDownloads && retention != nil {
		cutoff := s.now().AddDate(0, 0, -next.OldDownloadThresholdDays)
		removed, err := retention.RemoveOlderThan(ctx, cutoff)
		if err != nil {
			return next, fmt.Errorf("%w: %w", ErrRetentionFailed, err)
		}
		if removed > 0 {
			s.logger.Infof("retention cleanup removed %d downloads older than %s", removed, cutoff.Format(time.RFC3339))
		}
	}
	return next, nil
}

func (s *Store) persist(policy domain.StoragePolicy) error {
	data, err := json.MarshalIndent(policy, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage policy: %w", err)
	}
	return files.WriteAtomic(s.path, data)
}

func validate(p domain.StoragePolicy) error {
	if p.MaxOfflineBytes <= 0 {
		return fmt.Errorf("%w: max offline bytes must be positive", ErrInvalidPolicy)
	}
	if !p.DownloadQuality.Valid() {
		return fmt.Errorf("%w: unknown download quality %q", ErrInvalidPolicy, p.DownloadQuality)
	}
	if p.OldDownloadThresholdDays < 1 {
		return fmt.Errorf("%w: old download threshold must be at least one day", ErrInvalidPolicy)
	}
	return nil
}
