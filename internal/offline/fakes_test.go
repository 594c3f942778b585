package offline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"offline-store/internal/connectivity"
	"offline-store/internal/domain"
	"offline-store/internal/downloader"
	"offline-store/internal/files"
	"offline-store/internal/journal"
	"offline-store/internal/settings"
	"offline-store/internal/transfer"
)

// fakeRunner writes zero bytes to the destination in two steps, reporting
// progress after each. A non-resume transfer waits on hold between the steps;
// stall blocks there too but ignores ctx.
type fakeRunner struct {
	mu       sync.Mutex
	size     int64
	expected int64
	failWith error
	hold     chan struct{}
	stall    chan struct{}
	calls    []transfer.Request
	running  int
	peak     int
}

func (r *fakeRunner) Start(ctx context.Context, req transfer.Request, onProgress transfer.Progress) (transfer.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.running++
	r.peak = max(r.peak, r.running)
	size, expected, failWith, hold, stall := r.size, r.expected, r.failWith, r.hold, r.stall
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
	}()
	if expected == 0 {
		expected = size
	}

	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	var offset int64
	if req.Resume {
		if info, err := os.Stat(req.Destination); err == nil {
			offset = info.Size()
		}
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(req.Destination, flag, 0o644)
	if err != nil {
		return transfer.Result{}, err
	}
	defer f.Close()

	write := func(upTo int64) error {
		if upTo > offset {
			if _, err := f.Write(make([]byte, upTo-offset)); err != nil {
				return err
			}
			offset = upTo
		}
		onProgress(offset, expected)
		return ctx.Err()
	}

	if err := write(size / 2); err != nil {
		return transfer.Result{}, err
	}
	if failWith != nil {
		return transfer.Result{}, &domain.TransferError{URL: req.RemoteURL, Err: failWith}
	}
	if hold != nil && !req.Resume {
		select {
		case <-hold:
		case <-ctx.Done():
			return transfer.Result{}, ctx.Err()
		}
	}
	if stall != nil {
		<-stall
	}
	if err := write(size); err != nil {
		return transfer.Result{}, err
	}
	return transfer.Result{LocalPath: req.Destination, BytesTotal: size}, nil
}

func (r *fakeRunner) Calls() []transfer.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transfer.Request(nil), r.calls...)
}

func (r *fakeRunner) Peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

type fakeLedger struct {
	mu        sync.Mutex
	rows      map[string]domain.LedgerEntry
	inserts   int
	insertErr error
	deleteErr error
	listErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[string]domain.LedgerEntry)}
}

func (l *fakeLedger) ListForUser(_ context.Context, userID string) ([]domain.OfflineTrackRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, &domain.RemoteError{Op: "list", Err: l.listErr}
	}
	var out []domain.OfflineTrackRecord
	for _, row := range l.rows {
		if row.UserID != userID {
			continue
		}
		out = append(out, domain.OfflineTrackRecord{
			TrackRef:      domain.TrackRef{ID: row.TrackID},
			LocalPath:     row.LocalPath,
			DownloadedAt:  row.DownloadedAt,
			FileSizeBytes: row.FileSizeBytes,
		})
	}
	return out, nil
}

func (l *fakeLedger) Insert(_ context.Context, entry domain.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inserts++
	if l.insertErr != nil {
		return &domain.RemoteError{Op: "insert", Err: l.insertErr}
	}
	l.rows[entry.TrackID] = entry
	return nil
}

func (l *fakeLedger) Delete(_ context.Context, _ string, trackID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deleteErr != nil {
		return &domain.RemoteError{Op: "delete", Err: l.deleteErr}
	}
	delete(l.rows, trackID)
	return nil
}

func (l *fakeLedger) set(fn func(l *fakeLedger)) {
	l.mu.Lock()
	fn(l)
	l.mu.Unlock()
}

func (l *fakeLedger) Rows() map[string]domain.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.LedgerEntry, len(l.rows))
	for k, v := range l.rows {
		out[k] = v
	}
	return out
}

func (l *fakeLedger) Inserts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inserts
}

type fakeTracks map[string]domain.TrackRef

func (f fakeTracks) GetTrack(_ context.Context, id string) (domain.TrackRef, error) {
	track, ok := f[id]
	if !ok {
		return domain.TrackRef{}, domain.ErrTrackNotFound
	}
	return track, nil
}

type testEnv struct {
	dir      string
	logger   *logrus.Logger
	catalog  *catalog
	runner   *fakeRunner
	ledger   *fakeLedger
	pending  *journal.File
	settings *settings.Store
	network  *connectivity.State
	tracks   fakeTracks
}

func newTestEnv(t *testing.T, patch domain.PolicyPatch) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	root := t.TempDir()
	store := settings.NewStore(filepath.Join(root, "policy.json"), logger)
	store.Load()
	_, err := store.Update(context.Background(), patch)
	require.NoError(t, err)

	env := &testEnv{
		dir:      filepath.Join(root, "offline"),
		logger:   logger,
		runner:   &fakeRunner{size: 1000},
		ledger:   newFakeLedger(),
		pending:  journal.NewFile(filepath.Join(root, "pending-downloads.json")),
		settings: store,
		network:  connectivity.NewState(connectivity.Status{Online: true, Unmetered: true}),
		tracks:   fakeTracks{},
	}
	require.NoError(t, files.NewManager(env.dir).EnsureDirectory())
	env.catalog = env.newCatalog(t)
	return env
}

// newCatalog builds a catalog over the env's directory, ledger and journal.
func (e *testEnv) newCatalog(t *testing.T) *catalog {
	t.Helper()
	cat, err := NewCatalog(Config{UserID: "user-1", Logger: e.logger}, Dependencies{
		Files:    files.NewManager(e.dir),
		Ledger:   e.ledger,
		Runner:   e.runner,
		Network:  e.network,
		Settings: e.settings,
		Tracks:   e.tracks,
		Workers:  downloader.NewManager(downloader.Config{MaxConcurrent: 3, Logger: e.logger}),
		Pending:  e.pending,
	})
	require.NoError(t, err)
	c := cat.(*catalog)
	t.Cleanup(c.Shutdown)
	return c
}

// restart replaces the catalog with a fresh one, as after a process restart.
func (e *testEnv) restart(t *testing.T) {
	t.Helper()
	e.catalog.Shutdown()
	e.catalog = e.newCatalog(t)
	require.NoError(t, e.catalog.Start(context.Background()))
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func testTrack(id string) domain.TrackRef {
	return domain.TrackRef{
		ID:              id,
		Title:           "Track " + id,
		Artist:          "Artist",
		DurationSeconds: 200,
		AudioURL:        "https://cdn.example.com/audio/" + id + ".mp3",
	}
}

func ptr[T any](v T) *T { return &v }
