// Package journal keeps completed downloads whose ledger insert has not been
// confirmed, so they survive a restart.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"offline-store/internal/domain"
	"offline-store/internal/files"
)

// File is a JSON journal of pending offline records.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Load returns the journaled records. A missing journal is empty.
func (f *File) Load() ([]domain.OfflineTrackRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.FilesystemError{Op: "read", Path: f.path, Err: err}
	}

	var records []domain.OfflineTrackRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode pending journal %s: %w", f.path, err)
	}
	for i := range records {
		records[i].PendingSync = true
	}
	return records, nil
}

// Save replaces the journal with records. An empty set removes the file.
func (f *File) Save(records []domain.OfflineTrackRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(records) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &domain.FilesystemError{Op: "remove", Path: f.path, Err: err}
		}
		return nil
	}

	sorted := append([]domain.OfflineTrackRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pending journal: %w", err)
	}
	return files.WriteAtomic(f.path, data)
}
