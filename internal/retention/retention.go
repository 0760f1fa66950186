// Package retention deletes completed downloads whose retention window has
// expired. Expiry is always anchored on the download's completion time, so
// changing a retention value never restarts the clock.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/observability"
	"github.com/jmylchreest/fetcharr/internal/store"
)

// Policy supplies the global retention default. 0 means keep forever.
type Policy interface {
	GlobalRetentionDays() int
}

// Manager owns retention metadata and runs the periodic sweep.
type Manager struct {
	store    *store.Store
	policy   Policy
	guard    *ServeGuard
	schedule cron.Schedule
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a retention manager. scheduleSpec is a cron expression or
// descriptor ("@every 1h").
func New(st *store.Store, policy Policy, guard *ServeGuard, scheduleSpec string, logger *slog.Logger) (*Manager, error) {
	schedule, err := cron.ParseStandard(scheduleSpec)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", scheduleSpec, err)
	}
	return &Manager{
		store:    st,
		policy:   policy,
		guard:    guard,
		schedule: schedule,
		logger:   observability.WithComponent(logger, "retention"),
	}, nil
}

// Guard returns the active-reader guard the stream handler registers with.
func (m *Manager) Guard() *ServeGuard {
	return m.guard
}

// Start runs a boot sweep and then sweeps on the configured schedule until
// Stop is called.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	m.sweepAndLog(ctx)
	for {
		next := m.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.sweepAndLog(ctx)
		}
	}
}

func (m *Manager) sweepAndLog(ctx context.Context) {
	removed, err := m.Sweep(ctx)
	if err != nil {
		m.logger.Warn("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		m.logger.Info("retention sweep removed downloads", slog.Int("removed", removed))
	}
}

// Sweep deletes every completed session whose effective retention window has
// passed, skipping sessions currently being streamed. Returns the number of
// sessions removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	global := m.policy.GlobalRetentionDays()
	removed := 0

	for _, session := range m.store.List() {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if session.Status != models.StatusCompleted {
			continue
		}

		meta, err := m.store.LoadRetention(session.ID)
		if err != nil {
			m.logger.Warn("reading retention metadata",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()))
			continue
		}
		if meta == nil {
			continue
		}

		// Evaluate against the current global default rather than the
		// persisted expiry, so settings changes apply without a rewrite.
		meta.Recompute(global)
		if !meta.Expired(now) {
			continue
		}
		if m.guard.InUse(session.ID) {
			m.logger.Debug("skipping expired download in use",
				slog.String("session_id", session.ID))
			continue
		}

		if err := m.store.Delete(session.ID); err != nil {
			m.logger.Warn("deleting expired download",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()))
			continue
		}
		m.logger.Info("expired download deleted",
			slog.String("session_id", session.ID),
			slog.String("title", session.Title))
		removed++
	}
	return removed, nil
}

// EnsureMeta creates retention metadata for a completed download if none
// exists yet. Existing metadata, including per-file overrides, is never
// overwritten.
func (m *Manager) EnsureMeta(sessionID string, downloadedAt time.Time) error {
	existing, err := m.store.LoadRetention(sessionID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	meta := models.NewRetentionMeta(sessionID, downloadedAt, m.policy.GlobalRetentionDays())
	return m.store.SaveRetention(meta)
}

// GetRetention returns the retention metadata for a session, creating it
// lazily for completed sessions that predate retention tracking.
func (m *Manager) GetRetention(id string) (*models.RetentionMeta, error) {
	session, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	meta, err := m.store.LoadRetention(id)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		meta.Recompute(m.policy.GlobalRetentionDays())
		return meta, nil
	}

	if session.Status != models.StatusCompleted || session.CompletedAt == nil {
		return nil, models.ErrNotCompleted
	}
	if err := m.EnsureMeta(id, *session.CompletedAt); err != nil {
		return nil, err
	}
	return m.store.LoadRetention(id)
}

// UpdateRetention sets or clears (nil) the per-file retention override and
// re-derives the expiry from the original completion time.
func (m *Manager) UpdateRetention(id string, days *int) (*models.RetentionMeta, error) {
	meta, err := m.GetRetention(id)
	if err != nil {
		return nil, err
	}

	meta.RetentionDays = days
	meta.Recompute(m.policy.GlobalRetentionDays())
	if err := m.store.SaveRetention(meta); err != nil {
		return nil, err
	}

	m.logger.Info("retention updated",
		slog.String("session_id", id),
		slog.Any("days", days))
	return meta, nil
}
