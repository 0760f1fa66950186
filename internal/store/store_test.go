package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/storage"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	sb, err := storage.NewSandbox(dir)
	require.NoError(t, err)
	return New(sb, slog.New(slog.NewTextHandler(os.Stderr, nil))), dir
}

func TestStore_CreateGet(t *testing.T) {
	st, dir := newTestStore(t)

	s := models.NewDownloadSession("item1", "", "My Movie", "720p")
	require.NoError(t, st.Create(s))

	// session.json exists on disk
	_, err := os.Stat(filepath.Join(dir, s.ID, "session.json"))
	require.NoError(t, err)

	got, err := st.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, models.StatusQueued, got.Status)

	_, err = st.Get("missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestStore_UpdatePersists(t *testing.T) {
	st, dir := newTestStore(t)

	s := models.NewDownloadSession("item1", "", "x", "720p")
	require.NoError(t, st.Create(s))

	_, err := st.Update(s.ID, func(sess *models.DownloadSession) error {
		sess.TotalSegments = 5
		sess.RecordSegment(0)
		sess.RecordSegment(3)
		return nil
	})
	require.NoError(t, err)

	// Reload straight from disk; derived count must match the set.
	data, err := os.ReadFile(filepath.Join(dir, s.ID, "session.json"))
	require.NoError(t, err)
	var onDisk models.DownloadSession
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 2, onDisk.CompletedSegments)
	assert.Equal(t, 2, onDisk.CompletedIndexes.Len())
}

func TestStore_UpdateErrorWritesNothing(t *testing.T) {
	st, _ := newTestStore(t)

	s := models.NewDownloadSession("item1", "", "x", "720p")
	require.NoError(t, st.Create(s))

	_, err := st.Update(s.ID, func(sess *models.DownloadSession) error {
		return models.ErrInvalidTransition
	})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err := st.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	st, _ := newTestStore(t)

	s := models.NewDownloadSession("item1", "", "x", "720p")
	require.NoError(t, st.Create(s))

	got, err := st.Get(s.ID)
	require.NoError(t, err)
	got.CompletedIndexes.Add(99)
	got.Status = models.StatusCancelled

	fresh, err := st.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, fresh.Status)
	assert.False(t, fresh.CompletedIndexes.Contains(99))
}

func TestStore_Delete(t *testing.T) {
	st, dir := newTestStore(t)

	s := models.NewDownloadSession("item1", "", "x", "720p")
	require.NoError(t, st.Create(s))
	require.NoError(t, st.Delete(s.ID))

	_, err := st.Get(s.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	_, err = os.Stat(filepath.Join(dir, s.ID))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, st.Delete(s.ID), models.ErrSessionNotFound)
}

func TestStore_Reconcile(t *testing.T) {
	st, dir := newTestStore(t)

	downloading := models.NewDownloadSession("a", "", "a", "720p")
	require.NoError(t, downloading.MarkDownloading())
	require.NoError(t, st.Create(downloading))

	queued := models.NewDownloadSession("b", "", "b", "720p")
	queued.QueuePosition = 1
	require.NoError(t, st.Create(queued))

	completed := models.NewDownloadSession("c", "", "c", "720p")
	require.NoError(t, completed.MarkDownloading())
	require.NoError(t, completed.MarkCompleted())
	require.NoError(t, st.Create(completed))

	// Corrupt session dir is skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "corrupt"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt", "session.json"), []byte("{not json"), 0o640))

	// Fresh store simulating restart.
	sb, err := storage.NewSandbox(dir)
	require.NoError(t, err)
	st2 := New(sb, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, st2.Reconcile())

	got, err := st2.Get(downloading.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "download interrupted by restart", got.Error)

	got, err = st2.Get(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)
	assert.Zero(t, got.QueuePosition)

	got, err = st2.Get(completed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	_, err = st2.Get("corrupt")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestStore_RetentionRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)

	s := models.NewDownloadSession("item1", "", "x", "720p")
	require.NoError(t, st.Create(s))

	meta, err := st.LoadRetention(s.ID)
	require.NoError(t, err)
	assert.Nil(t, meta)

	downloaded := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveRetention(models.NewRetentionMeta(s.ID, downloaded, 7)))

	meta, err = st.LoadRetention(s.ID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.NotNil(t, meta.ExpiresAt)
	assert.Equal(t, downloaded.Add(7*24*time.Hour), meta.ExpiresAt.UTC())
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	st, _ := newTestStore(t)

	s := models.NewDownloadSession("item1", "", "x", "720p")
	s.TotalSegments = 100
	require.NoError(t, st.Create(s))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx uint32) {
			defer wg.Done()
			_, err := st.Update(s.ID, func(sess *models.DownloadSession) error {
				sess.RecordSegment(idx)
				return nil
			})
			assert.NoError(t, err)
		}(uint32(i))
	}
	wg.Wait()

	got, err := st.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.CompletedSegments)
	assert.Equal(t, 50, got.CompletedIndexes.Len())
}
