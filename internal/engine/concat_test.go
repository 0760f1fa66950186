package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/fetcharr/internal/storage"
	"github.com/jmylchreest/fetcharr/internal/store"
)

func writeSessionFile(t *testing.T, sandbox *storage.Sandbox, sessionID, name string, data []byte) {
	t.Helper()
	require.NoError(t, sandbox.MkdirAll(sessionID))
	require.NoError(t, sandbox.WriteFile(store.SessionFilePath(sessionID, name), data))
}

func TestConcatSegments_OrderAndInit(t *testing.T) {
	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	writeSessionFile(t, sandbox, "sess", InitSegmentFile, []byte("INIT"))
	writeSessionFile(t, sandbox, "sess", SegmentFile(0), []byte("AAA"))
	writeSessionFile(t, sandbox, "sess", SegmentFile(1), []byte("BBB"))
	writeSessionFile(t, sandbox, "sess", SegmentFile(2), []byte("CCC"))

	// Indexes deliberately out of order; concat must sort ascending.
	err = ConcatSegments(context.Background(), sandbox, "sess", []uint32{2, 0, 1}, true)
	require.NoError(t, err)

	got, err := sandbox.ReadFile(store.SessionFilePath("sess", ConcatFile))
	require.NoError(t, err)
	assert.Equal(t, "INITAAABBBCCC", string(got))
}

func TestConcatSegments_NoInit(t *testing.T) {
	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	writeSessionFile(t, sandbox, "sess", SegmentFile(0), []byte("AAA"))
	writeSessionFile(t, sandbox, "sess", SegmentFile(1), []byte("BBB"))

	err = ConcatSegments(context.Background(), sandbox, "sess", []uint32{0, 1}, false)
	require.NoError(t, err)

	got, err := sandbox.ReadFile(store.SessionFilePath("sess", ConcatFile))
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(got))
}

func TestConcatSegments_MissingSegment(t *testing.T) {
	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	writeSessionFile(t, sandbox, "sess", SegmentFile(0), []byte("AAA"))

	err = ConcatSegments(context.Background(), sandbox, "sess", []uint32{0, 1}, false)
	assert.Error(t, err)
}

func TestConcatSegments_Cancelled(t *testing.T) {
	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	writeSessionFile(t, sandbox, "sess", SegmentFile(0), []byte("AAA"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = ConcatSegments(ctx, sandbox, "sess", []uint32{0}, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoveConcatArtifacts(t *testing.T) {
	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	writeSessionFile(t, sandbox, "sess", ConcatFile, []byte("data"))
	require.NoError(t, RemoveConcatArtifacts(sandbox, "sess"))

	ok, err := sandbox.Exists(store.SessionFilePath("sess", ConcatFile))
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing again is fine.
	require.NoError(t, RemoveConcatArtifacts(sandbox, "sess"))
}
