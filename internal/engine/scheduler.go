package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/fetcharr/internal/hls"
	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/observability"
	"github.com/jmylchreest/fetcharr/internal/store"
)

// PlaylistParser resolves an HLS master URL into the segment manifest.
type PlaylistParser interface {
	Parse(ctx context.Context, masterURL string) (*hls.Manifest, error)
}

// RemuxRunner runs the finalization remux.
type RemuxRunner interface {
	Available() bool
	Remux(ctx context.Context, inputPath, outputPath string) error
}

// RetentionRecorder ensures retention metadata exists for a completed
// download. May be nil when retention is disabled.
type RetentionRecorder interface {
	EnsureMeta(sessionID string, downloadedAt time.Time) error
}

// StartRequest carries everything needed to enqueue a new download. The
// caller resolves item metadata and builds the HLS URL before calling in.
type StartRequest struct {
	ItemID          string
	MediaSourceID   string
	Title           string
	DurationSeconds float64
	Preset          string
	HLSURL          string

	EstimatedSizeBytes int64
}

// QueueInfo is a snapshot of scheduler occupancy.
type QueueInfo struct {
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Scheduler is the concurrency authority: it owns the queue order, the
// promotion of queued sessions into workers, and every status transition.
// At most maxConcurrent sessions are downloading at any time.
type Scheduler struct {
	store     *store.Store
	parser    PlaylistParser
	driver    *Driver
	remuxer   RemuxRunner
	retention RetentionRecorder
	hub       *ProgressHub
	logger    *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu            sync.Mutex
	maxConcurrent int
	active        map[string]*workerHandle
	shuttingDown  bool
	wg            sync.WaitGroup
}

// NewScheduler wires the scheduler over its collaborators. retention may be
// nil.
func NewScheduler(st *store.Store, parser PlaylistParser, driver *Driver, remuxer RemuxRunner, retention RetentionRecorder, maxConcurrent int, logger *slog.Logger) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:         st,
		parser:        parser,
		driver:        driver,
		remuxer:       remuxer,
		retention:     retention,
		hub:           NewProgressHub(),
		logger:        observability.WithComponent(logger, "scheduler"),
		baseCtx:       ctx,
		baseCancel:    cancel,
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*workerHandle),
	}
}

// Hub returns the progress fan-out hub.
func (s *Scheduler) Hub() *ProgressHub {
	return s.hub
}

// StartDownload creates a new queued session at the tail of the queue and
// promotes if a worker slot is free.
func (s *Scheduler) StartDownload(req StartRequest) (*models.DownloadSession, error) {
	if req.ItemID == "" {
		return nil, models.ErrItemIDRequired
	}

	session := models.NewDownloadSession(req.ItemID, req.MediaSourceID, req.Title, req.Preset)
	session.HLSURL = req.HLSURL
	session.DurationSeconds = req.DurationSeconds
	session.EstimatedSizeBytes = req.EstimatedSizeBytes

	s.mu.Lock()
	session.QueuePosition = len(s.queuedSessions()) + 1
	if err := s.store.Create(session); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.logger.Info("download queued",
		slog.String("session_id", session.ID),
		slog.String("title", session.Title),
		slog.Int("position", session.QueuePosition))
	s.promoteLocked()
	s.mu.Unlock()

	return s.store.Get(session.ID)
}

// CancelDownload stops the session if active, marks it cancelled, and deletes
// its directory and record. Cancelling an unknown or already cancelled
// session is a no-op.
func (s *Scheduler) CancelDownload(id string) error {
	s.mu.Lock()
	if h, ok := s.active[id]; ok {
		h.stop(stopCancel)
		s.mu.Unlock()
		<-h.done
		return nil
	}
	defer s.mu.Unlock()

	session, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if session.Status == models.StatusCancelled {
		return nil
	}
	if !session.CanTransition(models.StatusCancelled) {
		return models.ErrInvalidTransition
	}
	wasQueued := session.Status == models.StatusQueued

	updated, err := s.store.Update(id, func(cur *models.DownloadSession) error {
		return cur.MarkCancelled()
	})
	if err != nil {
		return err
	}
	s.publish(updated)

	if err := s.store.Delete(id); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		return err
	}
	s.logger.Info("download cancelled", slog.String("session_id", id))

	if wasQueued {
		s.renumberLocked()
	}
	return nil
}

// PauseDownload stops an active worker cooperatively or takes a queued
// session out of the queue. Fetched segments stay on disk.
func (s *Scheduler) PauseDownload(id string) error {
	s.mu.Lock()
	if h, ok := s.active[id]; ok {
		h.stop(stopPause)
		s.mu.Unlock()
		<-h.done
		return nil
	}
	defer s.mu.Unlock()

	session, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if !session.CanPause() {
		return models.ErrInvalidTransition
	}

	updated, err := s.store.Update(id, func(cur *models.DownloadSession) error {
		return cur.MarkPaused()
	})
	if err != nil {
		return err
	}
	s.publish(updated)
	s.renumberLocked()
	return nil
}

// ResumePaused re-enqueues a paused session at the tail of the queue.
func (s *Scheduler) ResumePaused(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if session.Status != models.StatusPaused {
		return models.ErrInvalidTransition
	}
	return s.enqueueLocked(id)
}

// ResumeDownload re-enqueues a failed session. The worker picks up the
// persisted completedIndexes, so only missing segments are fetched; a failed
// remux with all segments on disk re-runs concat+remux only.
func (s *Scheduler) ResumeDownload(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if !session.CanResume() {
		return models.ErrInvalidTransition
	}
	return s.enqueueLocked(id)
}

func (s *Scheduler) enqueueLocked(id string) error {
	position := len(s.queuedSessions()) + 1
	updated, err := s.store.Update(id, func(cur *models.DownloadSession) error {
		return cur.MarkQueued(position)
	})
	if err != nil {
		return err
	}
	s.publish(updated)
	s.promoteLocked()
	return nil
}

// MoveToFront moves a queued session to position 1.
func (s *Scheduler) MoveToFront(id string) error {
	return s.ReorderQueue(id, 1)
}

// ReorderQueue moves a queued session to the given 1-based position, clamped
// to the queue bounds. Remaining entries are renumbered contiguously.
func (s *Scheduler) ReorderQueue(id string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if session.Status != models.StatusQueued {
		return models.ErrNotQueued
	}

	queued := s.queuedSessions()
	var rest []*models.DownloadSession
	for _, q := range queued {
		if q.ID != id {
			rest = append(rest, q)
		}
	}

	if position < 1 {
		position = 1
	}
	if position > len(rest)+1 {
		position = len(rest) + 1
	}

	ordered := make([]*models.DownloadSession, 0, len(queued))
	ordered = append(ordered, rest[:position-1]...)
	ordered = append(ordered, session)
	ordered = append(ordered, rest[position-1:]...)

	for i, q := range ordered {
		want := i + 1
		if q.QueuePosition == want {
			continue
		}
		if _, err := s.store.Update(q.ID, func(cur *models.DownloadSession) error {
			cur.QueuePosition = want
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDownload deletes a non-active session's directory and record.
func (s *Scheduler) RemoveDownload(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if !session.CanRemove() {
		return models.ErrSessionActive
	}
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.logger.Info("download removed", slog.String("session_id", id))
	return nil
}

// GetAllDownloads returns a snapshot of every session, newest first.
func (s *Scheduler) GetAllDownloads() []*models.DownloadSession {
	return s.store.List()
}

// GetProgress returns a snapshot of one session.
func (s *Scheduler) GetProgress(id string) (*models.DownloadSession, error) {
	return s.store.Get(id)
}

// GetQueueInfo returns current occupancy.
func (s *Scheduler) GetQueueInfo() QueueInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueInfo{
		Active:        len(s.active),
		Queued:        len(s.queuedSessions()),
		MaxConcurrent: s.maxConcurrent,
	}
}

// MaxConcurrent returns the current worker cap.
func (s *Scheduler) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

// SetMaxConcurrent hot-swaps the worker cap. Raising it promotes queued
// sessions immediately; lowering it lets running workers finish.
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == s.maxConcurrent {
		return
	}
	s.logger.Info("max concurrent downloads changed",
		slog.Int("from", s.maxConcurrent),
		slog.Int("to", n))
	s.maxConcurrent = n
	s.promoteLocked()
}

// Shutdown stops all workers without changing persisted state: downloading
// sessions stay downloading on disk and are reconciled to failed on the next
// boot. Blocks until workers exit or ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	for _, h := range s.active {
		h.stop(stopShutdown)
	}
	s.mu.Unlock()
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// promoteLocked fills free worker slots from the head of the queue. Caller
// holds s.mu.
func (s *Scheduler) promoteLocked() {
	for {
		if s.shuttingDown || len(s.active) >= s.maxConcurrent {
			return
		}
		queued := s.queuedSessions()
		if len(queued) == 0 {
			return
		}
		next := queued[0]

		if _, err := s.store.Update(next.ID, func(cur *models.DownloadSession) error {
			return cur.MarkDownloading()
		}); err != nil {
			s.logger.Warn("promoting session",
				slog.String("session_id", next.ID),
				slog.String("error", err.Error()))
			return
		}
		s.renumberLocked()

		ctx, cancel := context.WithCancel(s.baseCtx)
		h := &workerHandle{cancel: cancel, done: make(chan struct{})}
		s.active[next.ID] = h
		s.wg.Add(1)
		go s.runWorker(ctx, h, next.ID)

		s.logger.Info("download promoted",
			slog.String("session_id", next.ID),
			slog.String("title", next.Title))
	}
}

// queuedSessions returns queued sessions ordered by position. Caller holds
// s.mu.
func (s *Scheduler) queuedSessions() []*models.DownloadSession {
	var queued []*models.DownloadSession
	for _, session := range s.store.List() {
		if session.Status == models.StatusQueued {
			queued = append(queued, session)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		return queued[i].QueuePosition < queued[j].QueuePosition
	})
	return queued
}

// renumberLocked rewrites queue positions to 1..n. Caller holds s.mu.
func (s *Scheduler) renumberLocked() {
	for i, session := range s.queuedSessions() {
		want := i + 1
		if session.QueuePosition == want {
			continue
		}
		if _, err := s.store.Update(session.ID, func(cur *models.DownloadSession) error {
			cur.QueuePosition = want
			return nil
		}); err != nil {
			s.logger.Warn("renumbering queue",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) publish(session *models.DownloadSession) {
	s.hub.Publish(ProgressEvent{
		SessionID:         session.ID,
		Status:            session.Status,
		CompletedSegments: session.CompletedSegments,
		TotalSegments:     session.TotalSegments,
		Error:             session.Error,
	})
}
