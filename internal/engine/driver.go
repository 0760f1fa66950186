package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/observability"
	"github.com/jmylchreest/fetcharr/internal/store"
)

// InitSegmentFile is the on-disk name of the stream's init segment.
const InitSegmentFile = "init.mp4"

// SegmentFile returns the on-disk name for a media segment.
func SegmentFile(index uint32) string {
	return fmt.Sprintf("%d.mp4", index)
}

// DriveRequest describes one driver run over a session's segments.
type DriveRequest struct {
	SessionID string

	// InitURL is empty when the stream has no init segment.
	InitURL  string
	Segments []models.HLSSegment

	// Completed holds indices persisted as done from a previous run.
	// The driver verifies them against the disk before trusting them.
	Completed models.IndexSet

	// OnSegmentComplete is called exactly once per newly fetched segment,
	// after its file is durable. It is the only authoritative progress
	// side effect.
	OnSegmentComplete func(index uint32)

	// OnProgress receives (done, total) snapshots; may be nil.
	OnProgress func(done, total int)
}

// Driver fans segment fetches out over a bounded worker pool.
type Driver struct {
	fetcher     *Fetcher
	concurrency int
	logger      *slog.Logger
}

// NewDriver creates a driver running at most concurrency parallel fetches
// per session.
func NewDriver(fetcher *Fetcher, concurrency int, logger *slog.Logger) *Driver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Driver{
		fetcher:     fetcher,
		concurrency: concurrency,
		logger:      observability.WithComponent(logger, "driver"),
	}
}

// Run fetches every segment not already on disk. The init segment is
// fetched first, alone; media segments then run through the pool.
// Completion order is irrelevant. The first fatal error cancels the
// remaining workers; already fetched segments stay on disk for resume.
func (d *Driver) Run(ctx context.Context, req DriveRequest) error {
	total := len(req.Segments)
	completed := d.verifyCompleted(req)

	var done atomic.Int64
	done.Store(int64(completed.Len()))
	emit := func() {
		if req.OnProgress != nil {
			req.OnProgress(int(done.Load()), total)
		}
	}
	emit()

	if req.InitURL != "" {
		if err := d.ensureInit(ctx, req); err != nil {
			return err
		}
	}

	var pending []models.HLSSegment
	for _, seg := range req.Segments {
		if !completed.Contains(seg.Index) {
			pending = append(pending, seg)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	d.logger.Debug("driving segment fetches",
		slog.String("session_id", req.SessionID),
		slog.Int("pending", len(pending)),
		slog.Int("total", total),
		slog.Int("concurrency", d.concurrency))

	workCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	work := make(chan models.HLSSegment)
	var wg sync.WaitGroup

	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range work {
				if workCtx.Err() != nil {
					return
				}
				relPath := store.SessionFilePath(req.SessionID, SegmentFile(seg.Index))
				if err := d.fetcher.FetchSegment(workCtx, seg.URL, relPath); err != nil {
					cancel(fmt.Errorf("segment %d: %w", seg.Index, err))
					return
				}
				if req.OnSegmentComplete != nil {
					req.OnSegmentComplete(seg.Index)
				}
				done.Add(1)
				emit()
			}
		}()
	}

	for _, seg := range pending {
		select {
		case work <- seg:
		case <-workCtx.Done():
		}
		if workCtx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()

	if cause := context.Cause(workCtx); cause != nil && cause != context.Canceled {
		if ctx.Err() != nil {
			// Outer cancellation (pause/cancel/shutdown) wins.
			return ctx.Err()
		}
		return cause
	}
	return ctx.Err()
}

// verifyCompleted checks each persisted index against disk: the file must
// exist and meet the size floor, otherwise the index is re-fetched.
func (d *Driver) verifyCompleted(req DriveRequest) models.IndexSet {
	verified := models.NewIndexSet()
	if req.Completed == nil {
		return verified
	}

	for _, idx := range req.Completed.Sorted() {
		relPath := store.SessionFilePath(req.SessionID, SegmentFile(idx))
		size, err := d.fetcher.sandbox.Size(relPath)
		if err != nil || size < d.fetcher.MinSegmentSize() {
			d.logger.Warn("persisted segment failed verification, refetching",
				slog.String("session_id", req.SessionID),
				slog.Uint64("index", uint64(idx)),
				slog.Int64("size", size))
			continue
		}
		verified.Add(idx)
	}
	return verified
}

// ensureInit fetches the init segment if it is not already valid on disk.
func (d *Driver) ensureInit(ctx context.Context, req DriveRequest) error {
	relPath := store.SessionFilePath(req.SessionID, InitSegmentFile)
	if size, err := d.fetcher.sandbox.Size(relPath); err == nil && size >= d.fetcher.MinSegmentSize() {
		return nil
	}
	if err := d.fetcher.FetchSegment(ctx, req.InitURL, relPath); err != nil {
		return fmt.Errorf("init segment: %w", err)
	}
	return nil
}
