// Package files wraps the offline download directory.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"offline-store/internal/domain"
)

const defaultExt = "mp3"

// Manager performs filesystem operations on the download directory.
// Errors are returned as *domain.FilesystemError and never retried.
type Manager struct {
	root string
}

func NewManager(root string) *Manager {
	return &Manager{root: filepath.Clean(root)}
}

// Root returns the download directory.
func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) EnsureDirectory() error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return &domain.FilesystemError{Op: "mkdir", Path: m.root, Err: err}
	}
	return nil
}

func (m *Manager) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &domain.FilesystemError{Op: "stat", Path: path, Err: err}
}

// SizeOf returns the byte size of path; ok is false when the file does not exist.
func (m *Manager) SizeOf(path string) (size int64, ok bool, err error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &domain.FilesystemError{Op: "stat", Path: path, Err: err}
	}
	return info.Size(), true, nil
}

// Delete removes path. Deleting a missing file is not an error.
func (m *Manager) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &domain.FilesystemError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// ListDirectory returns the names of regular files in the download directory.
func (m *Manager) ListDirectory() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.FilesystemError{Op: "readdir", Path: m.root, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// PathFor returns the destination path of a track's audio file.
func (m *Manager) PathFor(trackID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = defaultExt
	}
	return filepath.Join(m.root, trackID+"."+ext)
}

// CheckTrackID rejects ids that cannot be used as a file name inside the
// download directory.
func CheckTrackID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\\x00") || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTrackID, id)
	}
	return nil
}

// TrackIDFromName recovers the track id from a file name laid out by PathFor.
// Only the final extension is stripped, so dotted ids survive.
func TrackIDFromName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteAtomic replaces path with data through a temp file in the same directory.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return &domain.FilesystemError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &domain.FilesystemError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &domain.FilesystemError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &domain.FilesystemError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// ExtFromURL picks a file extension from the path of an audio URL.
func ExtFromURL(rawURL string) string {
	path := rawURL
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "/:") {
		return defaultExt
	}
	return strings.ToLower(ext)
}
