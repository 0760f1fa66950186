// Package store persists download sessions as JSON files under the
// downloads sandbox, one directory per session. Writes are atomic
// (temp + fsync + rename via renameio) so a crash never leaves a truncated
// session.json behind.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/observability"
	"github.com/jmylchreest/fetcharr/internal/storage"
)

const (
	sessionFile   = "session.json"
	retentionFile = "retention.json"
)

// Store owns the persisted session state. All mutations go through Update,
// which serializes per session and writes through to disk before returning.
type Store struct {
	sandbox *storage.Sandbox
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*models.DownloadSession
	locks    map[string]*sync.Mutex
}

// New creates a session store over the given sandbox.
func New(sandbox *storage.Sandbox, logger *slog.Logger) *Store {
	return &Store{
		sandbox:  sandbox,
		logger:   observability.WithComponent(logger, "store"),
		sessions: make(map[string]*models.DownloadSession),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Sandbox exposes the underlying downloads sandbox.
func (s *Store) Sandbox() *storage.Sandbox {
	return s.sandbox
}

// SessionDir returns the session's directory path relative to the sandbox.
func SessionDir(id string) string {
	return id
}

// SessionFilePath returns the relative path of a file inside the session dir.
func SessionFilePath(id, name string) string {
	return filepath.Join(id, name)
}

func (s *Store) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create persists a new session and adds it to the in-memory index.
func (s *Store) Create(session *models.DownloadSession) error {
	lock := s.sessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.sandbox.MkdirAll(SessionDir(session.ID)); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := s.writeJSON(SessionFilePath(session.ID, sessionFile), session); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the session, or ErrSessionNotFound.
func (s *Store) Get(id string) (*models.DownloadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return copySession(session), nil
}

// Update applies fn to the session under its lock and persists the result.
// If fn returns an error, nothing is written and the error is returned.
func (s *Store) Update(id string, fn func(*models.DownloadSession) error) (*models.DownloadSession, error) {
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	if err := fn(session); err != nil {
		return nil, err
	}

	// completed_segments is always derived from the authoritative set.
	session.CompletedSegments = session.CompletedIndexes.Len()

	if err := s.writeJSON(SessionFilePath(id, sessionFile), session); err != nil {
		return nil, err
	}
	return copySession(session), nil
}

// Delete removes the session directory and drops the record.
func (s *Store) Delete(id string) error {
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if err := s.sandbox.RemoveAll(SessionDir(id)); err != nil {
		return fmt.Errorf("removing session directory: %w", err)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()

	if !ok {
		return models.ErrSessionNotFound
	}
	return nil
}

// List returns copies of all sessions, newest first.
func (s *Store) List() []*models.DownloadSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.DownloadSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, copySession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Reconcile scans the downloads directory, loads every readable
// session.json, and flips sessions stuck in downloading to failed. Corrupt
// or missing session files are skipped with a warning; their directories are
// left for the startup cleanup to judge.
func (s *Store) Reconcile() error {
	entries, err := s.sandbox.List(".")
	if err != nil {
		return fmt.Errorf("scanning downloads directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()

		session, err := s.readSession(id)
		if err != nil {
			s.logger.Warn("skipping unreadable session state",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
			continue
		}

		if session.Status == models.StatusDownloading {
			// A downloading session cannot survive a restart; the user
			// resumes it explicitly from failed.
			session.Status = models.StatusFailed
			session.Error = "download interrupted by restart"
			session.QueuePosition = 0
			if err := s.writeJSON(SessionFilePath(id, sessionFile), session); err != nil {
				s.logger.Warn("persisting interrupted session",
					slog.String("session_id", id),
					slog.String("error", err.Error()))
			}
		}

		// Queued sessions are not re-enqueued automatically; they park as
		// paused until the user unpauses them.
		if session.Status == models.StatusQueued {
			session.Status = models.StatusPaused
			session.QueuePosition = 0
			if err := s.writeJSON(SessionFilePath(id, sessionFile), session); err != nil {
				s.logger.Warn("persisting parked session",
					slog.String("session_id", id),
					slog.String("error", err.Error()))
			}
		}

		session.CompletedSegments = session.CompletedIndexes.Len()

		s.mu.Lock()
		s.sessions[session.ID] = session
		s.mu.Unlock()
		loaded++
	}

	s.logger.Info("session state reconciled", slog.Int("sessions", loaded))
	return nil
}

// LoadRetention reads the retention metadata for a session. A missing or
// corrupt file returns (nil, nil) so callers treat it as absent.
func (s *Store) LoadRetention(id string) (*models.RetentionMeta, error) {
	data, err := s.sandbox.ReadFile(SessionFilePath(id, retentionFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var meta models.RetentionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn("corrupt retention metadata treated as absent",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		return nil, nil
	}
	return &meta, nil
}

// SaveRetention atomically persists retention metadata for a session.
func (s *Store) SaveRetention(meta *models.RetentionMeta) error {
	lock := s.sessionLock(meta.SessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.writeJSON(SessionFilePath(meta.SessionID, retentionFile), meta)
}

func (s *Store) readSession(id string) (*models.DownloadSession, error) {
	data, err := s.sandbox.ReadFile(SessionFilePath(id, sessionFile))
	if err != nil {
		return nil, err
	}
	var session models.DownloadSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decoding session.json: %w", err)
	}
	if session.ID == "" {
		session.ID = id
	}
	if session.CompletedIndexes == nil {
		session.CompletedIndexes = models.NewIndexSet()
	}
	return &session, nil
}

func (s *Store) writeJSON(relPath string, v any) error {
	absPath, err := s.sandbox.ResolvePath(relPath)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(relPath), err)
	}
	if err := renameio.WriteFile(absPath, data, 0640); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(relPath), err)
	}
	return nil
}

func copySession(in *models.DownloadSession) *models.DownloadSession {
	out := *in
	out.CompletedIndexes = in.CompletedIndexes.Clone()
	return &out
}
