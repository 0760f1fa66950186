package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/store"
)

// segmentServer serves styp fixtures and records per-path hit counts.
type segmentServer struct {
	*httptest.Server

	mu       sync.Mutex
	hits     map[string]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	// delayNanos is the artificial per-request latency.
	delayNanos atomic.Int64

	// fail maps a path to an HTTP status returned instead of the fixture.
	fail map[string]int
}

func newSegmentServer() *segmentServer {
	s := &segmentServer{
		hits: make(map[string]int),
		fail: make(map[string]int),
	}
	s.delayNanos.Store(int64(10 * time.Millisecond))
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := s.inFlight.Add(1)
		defer s.inFlight.Add(-1)
		for {
			seen := s.maxSeen.Load()
			if cur <= seen || s.maxSeen.CompareAndSwap(seen, cur) {
				break
			}
		}

		s.mu.Lock()
		s.hits[r.URL.Path]++
		status := s.fail[r.URL.Path]
		s.mu.Unlock()

		// Give parallel requests a chance to overlap.
		time.Sleep(time.Duration(s.delayNanos.Load()))

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(segmentFixture(2048))
	}))
	return s
}

func (s *segmentServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *segmentServer) segments(n int) []models.HLSSegment {
	segs := make([]models.HLSSegment, n)
	for i := 0; i < n; i++ {
		segs[i] = models.HLSSegment{
			Index:    uint32(i),
			URL:      fmt.Sprintf("%s/%d.mp4", s.URL, i),
			Duration: 4.0,
		}
	}
	return segs
}

func newTestDriver(t *testing.T, concurrency int) (*Driver, *Fetcher) {
	t.Helper()
	f := newTestFetcher(t, fastConfig(3))
	return NewDriver(f, concurrency, slog.Default()), f
}

func TestDriver_FetchesAllSegments(t *testing.T) {
	srv := newSegmentServer()
	defer srv.Close()

	d, f := newTestDriver(t, 3)

	var mu sync.Mutex
	completed := models.NewIndexSet()
	var lastDone, lastTotal int

	err := d.Run(context.Background(), DriveRequest{
		SessionID: "sess",
		InitURL:   srv.URL + "/init.mp4",
		Segments:  srv.segments(6),
		OnSegmentComplete: func(idx uint32) {
			mu.Lock()
			completed.Add(idx)
			mu.Unlock()
		},
		OnProgress: func(done, total int) {
			mu.Lock()
			lastDone, lastTotal = done, total
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 6, completed.Len())
	assert.Equal(t, 6, lastDone)
	assert.Equal(t, 6, lastTotal)

	assert.True(t, fileExists(t, f.sandbox, store.SessionFilePath("sess", InitSegmentFile)))
	for i := 0; i < 6; i++ {
		assert.True(t, fileExists(t, f.sandbox, store.SessionFilePath("sess", SegmentFile(uint32(i)))))
	}
}

func TestDriver_HonorsConcurrencyCap(t *testing.T) {
	srv := newSegmentServer()
	defer srv.Close()

	d, _ := newTestDriver(t, 2)

	err := d.Run(context.Background(), DriveRequest{
		SessionID: "sess",
		Segments:  srv.segments(10),
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, srv.maxSeen.Load(), int32(2))
}

func TestDriver_SkipsVerifiedSegments(t *testing.T) {
	srv := newSegmentServer()
	defer srv.Close()

	d, f := newTestDriver(t, 2)

	// Segments 0 and 1 already on disk and valid; 2 is claimed done but
	// undersized, so it must be refetched.
	require.NoError(t, f.sandbox.MkdirAll("sess"))
	for i := 0; i < 2; i++ {
		_, err := f.sandbox.AtomicWriteReader(
			store.SessionFilePath("sess", SegmentFile(uint32(i))),
			strings.NewReader(string(segmentFixture(2048))))
		require.NoError(t, err)
	}
	_, err := f.sandbox.AtomicWriteReader(
		store.SessionFilePath("sess", SegmentFile(2)),
		strings.NewReader("tiny"))
	require.NoError(t, err)

	completed := models.NewIndexSet()
	completed.Add(0)
	completed.Add(1)
	completed.Add(2)

	var mu sync.Mutex
	fetched := models.NewIndexSet()

	err = d.Run(context.Background(), DriveRequest{
		SessionID: "sess",
		Segments:  srv.segments(4),
		Completed: completed,
		OnSegmentComplete: func(idx uint32) {
			mu.Lock()
			fetched.Add(idx)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, srv.hitCount("/0.mp4"))
	assert.Equal(t, 0, srv.hitCount("/1.mp4"))
	assert.Equal(t, 1, srv.hitCount("/2.mp4"))
	assert.Equal(t, 1, srv.hitCount("/3.mp4"))
	assert.Equal(t, []uint32{2, 3}, fetched.Sorted())
}

func TestDriver_FatalErrorStopsRun(t *testing.T) {
	srv := newSegmentServer()
	defer srv.Close()
	srv.fail["/1.mp4"] = http.StatusForbidden

	d, _ := newTestDriver(t, 1)

	err := d.Run(context.Background(), DriveRequest{
		SessionID: "sess",
		Segments:  srv.segments(5),
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindAuthExpired, models.KindOf(err))

	// With one worker the segments after the failure are never requested.
	assert.Equal(t, 0, srv.hitCount("/3.mp4"))
	assert.Equal(t, 0, srv.hitCount("/4.mp4"))
}

func TestDriver_NoInitSegment(t *testing.T) {
	srv := newSegmentServer()
	defer srv.Close()

	d, f := newTestDriver(t, 2)

	err := d.Run(context.Background(), DriveRequest{
		SessionID: "sess",
		Segments:  srv.segments(3),
	})
	require.NoError(t, err)
	assert.False(t, fileExists(t, f.sandbox, store.SessionFilePath("sess", InitSegmentFile)))
}

func TestDriver_OuterCancelWins(t *testing.T) {
	srv := newSegmentServer()
	defer srv.Close()

	d, _ := newTestDriver(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	err := d.Run(ctx, DriveRequest{
		SessionID: "sess",
		Segments:  srv.segments(50),
	})
	assert.ErrorIs(t, err, context.Canceled)
}
