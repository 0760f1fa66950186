package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/store"
	"github.com/jmylchreest/fetcharr/pkg/format"
)

// stopReason distinguishes why a worker was asked to stop; it decides the
// status the session lands in.
type stopReason int

const (
	stopNone stopReason = iota
	stopPause
	stopCancel
	stopShutdown
)

// workerHandle is the scheduler's grip on a running worker.
type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	reason stopReason
}

// stop records the first stop reason and cancels the worker context.
func (h *workerHandle) stop(r stopReason) {
	h.mu.Lock()
	if h.reason == stopNone {
		h.reason = r
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *workerHandle) stopReason() stopReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// runWorker executes one download end to end and settles the session's final
// status. Exactly one worker runs per session.
func (s *Scheduler) runWorker(ctx context.Context, h *workerHandle, id string) {
	defer s.wg.Done()

	err := s.executeDownload(ctx, id)

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	s.settle(id, err, h.stopReason())
	close(h.done)

	s.mu.Lock()
	s.promoteLocked()
	s.mu.Unlock()
}

// settle maps the worker outcome to the session's final state. A stop reason
// takes precedence over the returned error, since cancellation surfaces as a
// context error.
func (s *Scheduler) settle(id string, err error, reason stopReason) {
	switch reason {
	case stopShutdown:
		// Left as downloading on disk; the next boot reconciles it to
		// failed("download interrupted by restart").
		return

	case stopCancel:
		if updated, uerr := s.store.Update(id, func(cur *models.DownloadSession) error {
			return cur.MarkCancelled()
		}); uerr == nil {
			s.publish(updated)
		}
		if derr := s.store.Delete(id); derr != nil && !errors.Is(derr, models.ErrSessionNotFound) {
			s.logger.Warn("deleting cancelled session",
				slog.String("session_id", id),
				slog.String("error", derr.Error()))
		}
		s.logger.Info("download cancelled", slog.String("session_id", id))
		return

	case stopPause:
		updated, uerr := s.store.Update(id, func(cur *models.DownloadSession) error {
			return cur.MarkPaused()
		})
		if uerr != nil {
			// The worker may have finished before the pause landed.
			if !errors.Is(uerr, models.ErrInvalidTransition) {
				s.logger.Warn("pausing session",
					slog.String("session_id", id),
					slog.String("error", uerr.Error()))
			}
			return
		}
		s.publish(updated)
		s.logger.Info("download paused", slog.String("session_id", id))
		return
	}

	if err == nil {
		return
	}

	updated, uerr := s.store.Update(id, func(cur *models.DownloadSession) error {
		return cur.MarkFailed(err)
	})
	if uerr != nil {
		s.logger.Warn("failing session",
			slog.String("session_id", id),
			slog.String("error", uerr.Error()))
		return
	}
	s.publish(updated)
	s.logger.Error("download failed",
		slog.String("session_id", id),
		slog.String("kind", string(models.KindOf(err))),
		slog.String("error", err.Error()))
}

// executeDownload runs the worker lifecycle: parse playlists, drive segment
// fetches with per-segment persistence, then concatenate and remux. A session
// resumed with every segment already on disk skips straight to finalization,
// which is how a failed remux is retried without refetching.
func (s *Scheduler) executeDownload(ctx context.Context, id string) error {
	session, err := s.store.Get(id)
	if err != nil {
		return err
	}

	if session.TotalSegments == 0 || session.CompletedIndexes.Len() < session.TotalSegments {
		manifest, perr := s.parser.Parse(ctx, session.HLSURL)
		if perr != nil {
			return perr
		}

		session, err = s.store.Update(id, func(cur *models.DownloadSession) error {
			cur.TotalSegments = len(manifest.Segments)
			return nil
		})
		if err != nil {
			return err
		}

		req := DriveRequest{
			SessionID: id,
			InitURL:   manifest.InitURL,
			Segments:  manifest.Segments,
			Completed: session.CompletedIndexes,
			OnSegmentComplete: func(index uint32) {
				if _, uerr := s.store.Update(id, func(cur *models.DownloadSession) error {
					cur.RecordSegment(index)
					return nil
				}); uerr != nil {
					s.logger.Warn("persisting segment completion",
						slog.String("session_id", id),
						slog.Uint64("index", uint64(index)),
						slog.String("error", uerr.Error()))
				}
			},
			OnProgress: func(done, total int) {
				s.hub.Publish(ProgressEvent{
					SessionID:         id,
					Status:            models.StatusDownloading,
					CompletedSegments: done,
					TotalSegments:     total,
				})
			},
		}
		if err := s.driver.Run(ctx, req); err != nil {
			return err
		}
	}

	return s.finalizeFile(ctx, id)
}

// finalizeFile concatenates the fetched segments and remuxes the result into
// the final seekable MP4. On success the scratch files are deleted; on
// failure everything stays for a remux-only resume.
func (s *Scheduler) finalizeFile(ctx context.Context, id string) error {
	session, err := s.store.Get(id)
	if err != nil {
		return err
	}

	sandbox := s.store.Sandbox()
	hasInit, err := sandbox.Exists(store.SessionFilePath(id, InitSegmentFile))
	if err != nil {
		return models.NewDownloadError(models.ErrorKindIO, err)
	}

	indexes := session.CompletedIndexes.Sorted()
	if err := ConcatSegments(ctx, sandbox, id, indexes, hasInit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	concatPath, err := sandbox.ResolvePath(store.SessionFilePath(id, ConcatFile))
	if err != nil {
		return models.NewDownloadError(models.ErrorKindIO, err)
	}
	finalPath, err := sandbox.ResolvePath(store.SessionFilePath(id, session.Filename))
	if err != nil {
		return models.NewDownloadError(models.ErrorKindIO, err)
	}

	if err := s.remuxer.Remux(ctx, concatPath, finalPath); err != nil {
		return err
	}

	s.cleanupScratch(id, indexes, hasInit)

	updated, err := s.store.Update(id, func(cur *models.DownloadSession) error {
		return cur.MarkCompleted()
	})
	if err != nil {
		return err
	}
	s.publish(updated)

	if s.retention != nil && updated.CompletedAt != nil {
		if rerr := s.retention.EnsureMeta(id, *updated.CompletedAt); rerr != nil {
			s.logger.Warn("recording retention metadata",
				slog.String("session_id", id),
				slog.String("error", rerr.Error()))
		}
	}

	finalSize, _ := sandbox.Size(store.SessionFilePath(id, session.Filename))
	s.logger.Info("download completed",
		slog.String("session_id", id),
		slog.String("filename", updated.Filename),
		slog.Int("segments", updated.CompletedSegments),
		slog.String("size", format.Bytes(finalSize)))
	return nil
}

// cleanupScratch removes the concat file, the init segment, and every media
// segment once the final file exists.
func (s *Scheduler) cleanupScratch(id string, indexes []uint32, hasInit bool) {
	sandbox := s.store.Sandbox()

	if err := RemoveConcatArtifacts(sandbox, id); err != nil {
		s.logger.Warn("removing concat scratch",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}
	if hasInit {
		if err := sandbox.Remove(store.SessionFilePath(id, InitSegmentFile)); err != nil {
			s.logger.Warn("removing init segment",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}
	for _, idx := range indexes {
		if err := sandbox.Remove(store.SessionFilePath(id, SegmentFile(idx))); err != nil {
			s.logger.Warn("removing segment",
				slog.String("session_id", id),
				slog.Uint64("index", uint64(idx)),
				slog.String("error", err.Error()))
		}
	}
}
