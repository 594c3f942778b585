package offline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline-store/internal/connectivity"
	"offline-store/internal/domain"
)

func TestDownloadTrack_HappyPath(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{MaxOfflineBytes: ptr(int64(10_000_000))})
	env.runner.size = 3_100_000
	ctx := context.Background()

	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))

	record, ok := env.catalog.GetOfflineTrack("t1")
	require.True(t, ok)
	assert.Equal(t, int64(3_100_000), record.FileSizeBytes)
	assert.Equal(t, env.path("t1.mp3"), record.LocalPath)
	assert.False(t, record.PendingSync)
	assert.Equal(t, "Track t1", record.Title)

	assert.True(t, env.catalog.IsOffline("t1"))
	assert.False(t, env.catalog.IsDownloading("t1"))
	assert.Empty(t, env.catalog.Tasks())
	assert.Equal(t, int64(3_100_000), env.catalog.Usage().UsedBytes)
	assert.Zero(t, env.catalog.Usage().ReservedBytes)

	rows := env.ledger.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "user-1", rows["t1"].UserID)
	assert.Equal(t, int64(3_100_000), rows["t1"].FileSizeBytes)
	assert.Equal(t, uint64(1), env.catalog.Stats().Completed)
}

func TestDownloadTrack_QuotaRejectedBeforeAnyWork(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{MaxOfflineBytes: ptr(int64(1_000_000))})

	err := env.catalog.DownloadTrack(context.Background(), testTrack("t1"))

	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	var quotaErr *domain.QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, int64(3_200_000), quotaErr.Requested)
	assert.Equal(t, int64(1_000_000), quotaErr.Limit)

	_, ok := env.catalog.GetTask("t1")
	assert.False(t, ok)
	assert.Empty(t, env.runner.Calls())
	_, err = os.Stat(env.path("t1.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDownloadTrack_QuotaCountsReservedTasks(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{MaxOfflineBytes: ptr(int64(5_000_000))})
	env.runner.expected = 3_000_000
	env.runner.hold = make(chan struct{})
	ctx := context.Background()

	first, err := env.catalog.StartDownload(ctx, testTrack("t1"))
	require.NoError(t, err)

	_, err = env.catalog.StartDownload(ctx, testTrack("t2"))
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	close(env.runner.hold)
	require.NoError(t, first.Wait(ctx))
}

func TestDownloadTrack_ConnectivityGate(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()

	env.network.Set(connectivity.Status{Online: false})
	assert.ErrorIs(t, env.catalog.DownloadTrack(ctx, testTrack("t1")), domain.ErrOffline)

	env.network.Set(connectivity.Status{Online: true, Unmetered: false})
	assert.ErrorIs(t, env.catalog.DownloadTrack(ctx, testTrack("t1")), domain.ErrWifiRequired)

	assert.Empty(t, env.catalog.Tasks())
	assert.Empty(t, env.runner.Calls())

	_, err := env.settings.Update(ctx, domain.PolicyPatch{WifiOnly: ptr(false)})
	require.NoError(t, err)
	assert.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))
}

func TestDownloadTrack_FailedTransferCleansUp(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.runner.failWith = errors.New("connection reset")

	err := env.catalog.DownloadTrack(context.Background(), testTrack("t1"))

	var transferErr *domain.TransferError
	require.True(t, errors.As(err, &transferErr))
	_, ok := env.catalog.GetTask("t1")
	assert.False(t, ok)
	assert.False(t, env.catalog.IsOffline("t1"))
	_, err = os.Stat(env.path("t1.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Empty(t, env.ledger.Rows())
	assert.Equal(t, uint64(1), env.catalog.Stats().Failed)
}

func TestDownloadTrack_ReportedSizeOverBudgetAborts(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{MaxOfflineBytes: ptr(int64(5_000_000))})
	env.runner.size = 1000
	env.runner.expected = 6_000_000

	err := env.catalog.DownloadTrack(context.Background(), testTrack("t1"))

	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	_, ok := env.catalog.GetTask("t1")
	assert.False(t, ok)
	_, err = os.Stat(env.path("t1.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDownloadTrack_Dedupe(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.runner.hold = make(chan struct{})
	ctx := context.Background()

	first, err := env.catalog.StartDownload(ctx, testTrack("t1"))
	require.NoError(t, err)
	second, err := env.catalog.StartDownload(ctx, testTrack("t1"))
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.True(t, env.catalog.IsDownloading("t1"))

	close(env.runner.hold)
	require.NoError(t, first.Wait(ctx))
	require.NoError(t, second.Wait(ctx))

	again, err := env.catalog.StartDownload(ctx, testTrack("t1"))
	require.NoError(t, err)
	assert.Nil(t, again)
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))

	assert.Len(t, env.runner.Calls(), 1)
	assert.Len(t, env.catalog.OfflineTracks(), 1)
	assert.Len(t, env.ledger.Rows(), 1)
	assert.Equal(t, 1, env.ledger.Inserts())
}

func TestCancelDownload_Idempotent(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.runner.hold = make(chan struct{})
	defer close(env.runner.hold)
	ctx := context.Background()

	d, err := env.catalog.StartDownload(ctx, testTrack("t1"))
	require.NoError(t, err)
	waitForBytes(t, env.catalog, "t1")

	require.NoError(t, env.catalog.CancelDownload(ctx, "t1"))
	assert.ErrorIs(t, d.Wait(ctx), domain.ErrDownloadCancelled)

	_, ok := env.catalog.GetTask("t1")
	assert.False(t, ok)
	_, err = os.Stat(env.path("t1.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, env.catalog.CancelDownload(ctx, "t1"))
	assert.False(t, env.catalog.IsOffline("t1"))
	assert.Empty(t, env.ledger.Rows())
}

func TestCancelDownload_RemovesLeftoverPartial(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	require.NoError(t, os.WriteFile(env.path("ghost.mp3"), []byte("partial"), 0o644))

	require.NoError(t, env.catalog.CancelDownload(context.Background(), "ghost"))

	_, err := os.Stat(env.path("ghost.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.runner.size = 2000
	env.runner.hold = make(chan struct{})
	defer close(env.runner.hold)
	ctx := context.Background()

	d, err := env.catalog.StartDownload(ctx, testTrack("t1"))
	require.NoError(t, err)
	waitForBytes(t, env.catalog, "t1")

	require.NoError(t, env.catalog.PauseDownload(ctx, "t1"))
	assert.ErrorIs(t, d.Wait(ctx), domain.ErrDownloadPaused)

	task, ok := env.catalog.GetTask("t1")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPaused, task.Status)
	assert.Equal(t, int64(1000), task.BytesDownloaded)
	assert.False(t, env.catalog.IsDownloading("t1"))
	info, err := os.Stat(env.path("t1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), info.Size())

	// pausing again changes nothing
	require.NoError(t, env.catalog.PauseDownload(ctx, "t1"))

	resumed, err := env.catalog.ResumeDownload(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.NotEqual(t, d.AttemptID, resumed.AttemptID)
	require.NoError(t, resumed.Wait(ctx))

	calls := env.runner.Calls()
	require.Len(t, calls, 2)
	assert.False(t, calls[0].Resume)
	assert.True(t, calls[1].Resume)

	record, ok := env.catalog.GetOfflineTrack("t1")
	require.True(t, ok)
	assert.Equal(t, int64(2000), record.FileSizeBytes)
	assert.Equal(t, uint64(1), env.catalog.Stats().Paused)
}

func TestResumeDownload_RequiresConnectivity(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.runner.hold = make(chan struct{})
	defer close(env.runner.hold)
	ctx := context.Background()

	_, err := env.catalog.StartDownload(ctx, testTrack("t1"))
	require.NoError(t, err)
	waitForBytes(t, env.catalog, "t1")
	require.NoError(t, env.catalog.PauseDownload(ctx, "t1"))

	env.network.Set(connectivity.Status{Online: false})
	_, err = env.catalog.ResumeDownload(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrOffline)

	task, ok := env.catalog.GetTask("t1")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPaused, task.Status)

	d, err := env.catalog.ResumeDownload(ctx, "unknown")
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestRemoveFromOffline_Idempotent(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))

	require.NoError(t, env.catalog.RemoveFromOffline(ctx, "t1"))
	require.NoError(t, env.catalog.RemoveFromOffline(ctx, "t1"))

	assert.False(t, env.catalog.IsOffline("t1"))
	assert.Empty(t, env.ledger.Rows())
	assert.Zero(t, env.catalog.Usage().UsedBytes)
	_, err := os.Stat(env.path("t1.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRemoveFromOffline_LedgerFailureAborts(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))
	env.ledger.set(func(l *fakeLedger) { l.deleteErr = errors.New("unauthorized") })

	err := env.catalog.RemoveFromOffline(ctx, "t1")

	var remoteErr *domain.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.True(t, env.catalog.IsOffline("t1"))
	_, err = os.Stat(env.path("t1.mp3"))
	assert.NoError(t, err)
}

func TestLedgerInsertFailureKeepsPendingRecord(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	env.ledger.set(func(l *fakeLedger) { l.insertErr = errors.New("timeout") })

	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))

	record, ok := env.catalog.GetOfflineTrack("t1")
	require.True(t, ok)
	assert.True(t, record.PendingSync)
	assert.Equal(t, uint64(1), env.catalog.Stats().LedgerPending)

	// a pending record has no ledger row to delete
	require.NoError(t, env.catalog.RemoveFromOffline(ctx, "t1"))
	assert.False(t, env.catalog.IsOffline("t1"))
}

func TestSyncWithLedger_ReconcilesByDiff(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()

	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("confirmed")))
	env.ledger.set(func(l *fakeLedger) { l.insertErr = errors.New("timeout") })
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("pending")))

	env.ledger.set(func(l *fakeLedger) {
		// row removed elsewhere, another device's download added
		delete(l.rows, "confirmed")
		l.rows["remote"] = domain.LedgerEntry{
			UserID:        "user-1",
			TrackID:       "remote",
			LocalPath:     env.path("remote.mp3"),
			FileSizeBytes: 10,
			DownloadedAt:  time.Now().UTC(),
		}
		l.insertErr = nil
	})

	require.NoError(t, env.catalog.SyncWithLedger(ctx))

	assert.False(t, env.catalog.IsOffline("confirmed"), "records missing from the ledger are dropped")
	assert.True(t, env.catalog.IsOffline("remote"))
	pending, ok := env.catalog.GetOfflineTrack("pending")
	require.True(t, ok, "unconfirmed downloads survive sync")
	assert.False(t, pending.PendingSync)
	assert.Contains(t, env.ledger.Rows(), "pending")
}

func TestSyncWithLedger_Failure(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.ledger.set(func(l *fakeLedger) { l.listErr = errors.New("offline") })

	err := env.catalog.SyncWithLedger(context.Background())

	var remoteErr *domain.RemoteError
	assert.True(t, errors.As(err, &remoteErr))
}

func TestStart_RebuildsFromLedgerAndValidates(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	seedLedger(t, env, "a", 100, time.Now())
	seedLedger(t, env, "b", 200, time.Now())
	env.ledger.set(func(l *fakeLedger) {
		l.rows["gone"] = domain.LedgerEntry{UserID: "user-1", TrackID: "gone", LocalPath: env.path("gone.mp3"), DownloadedAt: time.Now()}
	})

	require.NoError(t, env.catalog.Start(ctx))

	assert.True(t, env.catalog.IsOffline("a"))
	assert.True(t, env.catalog.IsOffline("b"))
	assert.False(t, env.catalog.IsOffline("gone"))
	assert.Equal(t, int64(300), env.catalog.Usage().UsedBytes)
	// validation never touches the ledger unless pruning is enabled
	assert.Contains(t, env.ledger.Rows(), "gone")
}

func TestStart_AppliesRetention(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{
		DeleteOldDownloads:       ptr(true),
		OldDownloadThresholdDays: ptr(7),
	})
	seedLedger(t, env, "old", 100, time.Now().AddDate(0, 0, -30))
	seedLedger(t, env, "new", 100, time.Now())

	require.NoError(t, env.catalog.Start(context.Background()))

	assert.False(t, env.catalog.IsOffline("old"))
	assert.True(t, env.catalog.IsOffline("new"))
	assert.NotContains(t, env.ledger.Rows(), "old")
	_, err := os.Stat(env.path("old.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidateOfflineFiles_DropsOnlyMissing(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("keep")))
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("lost")))
	require.NoError(t, os.Remove(env.path("lost.mp3")))

	dropped, err := env.catalog.ValidateOfflineFiles(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"lost"}, dropped)
	assert.True(t, env.catalog.IsOffline("keep"))
	assert.False(t, env.catalog.IsOffline("lost"))
	assert.Equal(t, int64(1000), env.catalog.Usage().UsedBytes)
	assert.Contains(t, env.ledger.Rows(), "lost")
}

func TestValidateOfflineFiles_PrunesLedgerWhenEnabled(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.catalog.cfg.PruneLedgerOnValidate = true
	ctx := context.Background()
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("lost")))
	require.NoError(t, os.Remove(env.path("lost.mp3")))

	_, err := env.catalog.ValidateOfflineFiles(ctx)

	require.NoError(t, err)
	assert.NotContains(t, env.ledger.Rows(), "lost")
}

func TestCleanupOfflineFiles_RemovesOnlyOrphans(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))
	require.NoError(t, os.WriteFile(env.path("orphan.mp3"), []byte("x"), 0o644))

	removed, err := env.catalog.CleanupOfflineFiles(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"orphan.mp3"}, removed)
	_, err = os.Stat(env.path("t1.mp3"))
	assert.NoError(t, err)
	_, err = os.Stat(env.path("orphan.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCleanupOfflineFiles_SkipsPausedPartials(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.runner.hold = make(chan struct{})
	defer close(env.runner.hold)
	ctx := context.Background()
	_, err := env.catalog.StartDownload(ctx, testTrack("t1"))
	require.NoError(t, err)
	waitForBytes(t, env.catalog, "t1")
	require.NoError(t, env.catalog.PauseDownload(ctx, "t1"))

	removed, err := env.catalog.CleanupOfflineFiles(ctx)

	require.NoError(t, err)
	assert.Empty(t, removed)
	_, err = os.Stat(env.path("t1.mp3"))
	assert.NoError(t, err)
}

func TestDownloadQueue(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	for _, id := range []string{"a", "b", "c"} {
		env.tracks[id] = testTrack(id)
	}

	assert.True(t, env.catalog.AddToDownloadQueue("a"))
	assert.True(t, env.catalog.AddToDownloadQueue("b"))
	assert.False(t, env.catalog.AddToDownloadQueue("a"))
	assert.True(t, env.catalog.AddToDownloadQueue("c"))
	assert.Equal(t, []string{"a", "b", "c"}, env.catalog.Queue())

	assert.True(t, env.catalog.RemoveFromDownloadQueue("b"))
	assert.False(t, env.catalog.RemoveFromDownloadQueue("b"))
	assert.Equal(t, []string{"a", "c"}, env.catalog.Queue())

	env.catalog.ClearDownloadQueue()
	assert.Empty(t, env.catalog.Queue())
}

func TestProcessDownloadQueue_Sequential(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	for _, id := range []string{"a", "b", "c"} {
		env.tracks[id] = testTrack(id)
		env.catalog.AddToDownloadQueue(id)
	}
	env.catalog.AddToDownloadQueue("missing")

	err := env.catalog.ProcessDownloadQueue(context.Background())

	require.ErrorIs(t, err, domain.ErrTrackNotFound)
	assert.Empty(t, env.catalog.Queue())
	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, env.catalog.IsOffline(id), id)
	}
	assert.Equal(t, 1, env.runner.Peak())
	calls := env.runner.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, env.path("a.mp3"), calls[0].Destination)
	assert.Equal(t, env.path("c.mp3"), calls[2].Destination)
}

func TestOnFavorite(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.tracks["t1"] = testTrack("t1")
	ctx := context.Background()

	queued, err := env.catalog.OnFavorite(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, queued)
	assert.False(t, env.catalog.IsOffline("t1"))

	_, err = env.settings.Update(ctx, domain.PolicyPatch{AutoDownloadFavorites: ptr(true)})
	require.NoError(t, err)

	queued, err = env.catalog.OnFavorite(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, queued)
	assert.True(t, env.catalog.IsOffline("t1"))
}

func TestRemoveOlderThan(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	env.catalog.now = func() time.Time { return now.AddDate(0, 0, -10) }
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("old")))
	env.catalog.now = func() time.Time { return now }
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("new")))

	removed, err := env.catalog.RemoveOlderThan(ctx, now.AddDate(0, 0, -5))

	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, env.catalog.IsOffline("old"))
	assert.True(t, env.catalog.IsOffline("new"))
}

func TestCanDownloadMore(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{MaxOfflineBytes: ptr(int64(1500))})
	track := testTrack("t1")
	track.DurationSeconds = 0

	assert.True(t, env.catalog.CanDownloadMore(1500))
	require.NoError(t, env.catalog.DownloadTrack(context.Background(), track))

	assert.True(t, env.catalog.CanDownloadMore(500))
	assert.False(t, env.catalog.CanDownloadMore(501))
}

func waitForBytes(t *testing.T, c *catalog, trackID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, ok := c.GetTask(trackID)
		return ok && task.Status == domain.TaskStatusDownloading && task.BytesDownloaded > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func seedLedger(t *testing.T, env *testEnv, id string, size int, at time.Time) {
	t.Helper()
	path := env.path(id + ".mp3")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	env.ledger.set(func(l *fakeLedger) {
		l.rows[id] = domain.LedgerEntry{
			UserID:        "user-1",
			TrackID:       id,
			LocalPath:     path,
			FileSizeBytes: int64(size),
			DownloadedAt:  at.UTC(),
		}
	})
}

func TestCancelDownload_DoesNotTouchDottedSibling(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("album.1")))
	require.FileExists(t, env.path("album.1.mp3"))
	require.NoError(t, os.WriteFile(env.path("album.mp3"), []byte("partial"), 0o644))

	require.NoError(t, env.catalog.CancelDownload(ctx, "album"))

	assert.FileExists(t, env.path("album.1.mp3"))
	assert.True(t, env.catalog.IsOffline("album.1"))
	_, err := os.Stat(env.path("album.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStartDownload_RejectsUnsafeIDs(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})

	for _, id := range []string{"../outside", "a/b", ".."} {
		track := testTrack("x")
		track.ID = id
		_, err := env.catalog.StartDownload(context.Background(), track)
		assert.ErrorIs(t, err, domain.ErrInvalidTrackID, id)
	}
	assert.Empty(t, env.runner.Calls())
}

func TestCancelDownload_TimeoutDefersCleanupToTransfer(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	env.runner.stall = make(chan struct{})
	ctx := context.Background()

	d, err := env.catalog.StartDownload(ctx, testTrack("t1"))
	require.NoError(t, err)
	waitForBytes(t, env.catalog, "t1")

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.NoError(t, env.catalog.CancelDownload(cancelCtx, "t1"))

	task, ok := env.catalog.GetTask("t1")
	require.True(t, ok, "task stays registered until the transfer exits")
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)

	close(env.runner.stall)
	assert.ErrorIs(t, d.Wait(ctx), domain.ErrDownloadCancelled)

	_, ok = env.catalog.GetTask("t1")
	assert.False(t, ok)
	_, err = os.Stat(env.path("t1.mp3"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, uint64(1), env.catalog.Stats().Cancelled)
	assert.False(t, env.catalog.IsOffline("t1"))
}

func TestPendingRecordSurvivesRestart(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	env.ledger.set(func(l *fakeLedger) { l.insertErr = errors.New("timeout") })

	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))
	journaled, err := env.pending.Load()
	require.NoError(t, err)
	require.Len(t, journaled, 1)

	env.restart(t)

	record, ok := env.catalog.GetOfflineTrack("t1")
	require.True(t, ok, "pending download restored from the journal")
	assert.True(t, record.PendingSync)
	assert.Equal(t, int64(1000), env.catalog.Usage().UsedBytes)

	removed, err := env.catalog.CleanupOfflineFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.FileExists(t, env.path("t1.mp3"))

	env.ledger.set(func(l *fakeLedger) { l.insertErr = nil })
	env.restart(t)

	record, ok = env.catalog.GetOfflineTrack("t1")
	require.True(t, ok)
	assert.False(t, record.PendingSync)
	assert.Contains(t, env.ledger.Rows(), "t1")
	journaled, err = env.pending.Load()
	require.NoError(t, err)
	assert.Empty(t, journaled)
}

func TestPendingJournalDropsRemovedRecord(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	env.ledger.set(func(l *fakeLedger) { l.insertErr = errors.New("timeout") })
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))

	require.NoError(t, env.catalog.RemoveFromOffline(ctx, "t1"))

	journaled, err := env.pending.Load()
	require.NoError(t, err)
	assert.Empty(t, journaled)

	env.restart(t)
	assert.False(t, env.catalog.IsOffline("t1"))
}

func TestGetOfflineSize_KeepsConcurrentCompletion(t *testing.T) {
	env := newTestEnv(t, domain.PolicyPatch{})
	ctx := context.Background()
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t1")))

	// a measurement taken before t2 completes must not overwrite its usage
	_, gen := env.catalog.recordPaths()
	require.NoError(t, env.catalog.DownloadTrack(ctx, testTrack("t2")))

	assert.False(t, env.catalog.commitUsage(gen, 1000))
	assert.Equal(t, int64(2000), env.catalog.Usage().UsedBytes)

	_, gen = env.catalog.recordPaths()
	assert.True(t, env.catalog.commitUsage(gen, 2000))
}
