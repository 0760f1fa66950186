package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/retention"
	"github.com/jmylchreest/fetcharr/internal/storage"
	"github.com/jmylchreest/fetcharr/internal/store"
)

type fixedPolicy int

func (p fixedPolicy) GlobalRetentionDays() int { return int(p) }

func newRetentionFixture(t *testing.T, globalDays int) (*RetentionHandler, *store.Store) {
	t.Helper()

	sandbox, err := storage.NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("creating sandbox: %v", err)
	}
	st := store.New(sandbox, nil)

	manager, err := retention.New(st, fixedPolicy(globalDays), retention.NewServeGuard(), "@every 1h", nil)
	if err != nil {
		t.Fatalf("creating retention manager: %v", err)
	}

	return NewRetentionHandler(manager), st
}

func createCompletedSession(t *testing.T, st *store.Store) *models.DownloadSession {
	t.Helper()
	session := models.NewDownloadSession("item-1", "", "Done Movie", "720p")
	if err := session.MarkDownloading(); err != nil {
		t.Fatalf("marking downloading: %v", err)
	}
	if err := session.MarkCompleted(); err != nil {
		t.Fatalf("marking completed: %v", err)
	}
	if err := st.Create(session); err != nil {
		t.Fatalf("creating session: %v", err)
	}
	return session
}

func TestRetentionHandler_GetCreatesLazily(t *testing.T) {
	handler, st := newRetentionFixture(t, 7)
	session := createCompletedSession(t, st)

	output, err := handler.GetRetention(context.Background(), &SessionIDInput{ID: session.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if output.Body.SessionID != session.ID {
		t.Errorf("expected session id %s, got %s", session.ID, output.Body.SessionID)
	}
	if output.Body.RetentionDays != nil {
		t.Error("expected no per-download override")
	}
	if output.Body.ExpiresAt == nil {
		t.Fatal("expected expiry from the 7-day global default")
	}
	wantExpiry := session.CompletedAt.Add(7 * 24 * time.Hour)
	if !output.Body.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected expiry %v, got %v", wantExpiry, *output.Body.ExpiresAt)
	}
}

func TestRetentionHandler_UpdateAnchorsOnCompletion(t *testing.T) {
	handler, st := newRetentionFixture(t, 7)
	session := createCompletedSession(t, st)

	days := 30
	input := &UpdateRetentionInput{ID: session.ID}
	input.Body.RetentionDays = &days

	output, err := handler.UpdateRetention(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if output.Body.RetentionDays == nil || *output.Body.RetentionDays != 30 {
		t.Fatal("expected 30-day override")
	}
	wantExpiry := session.CompletedAt.Add(30 * 24 * time.Hour)
	if output.Body.ExpiresAt == nil || !output.Body.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected expiry anchored on completion time, got %v", output.Body.ExpiresAt)
	}
}

func TestRetentionHandler_Errors(t *testing.T) {
	handler, st := newRetentionFixture(t, 7)

	t.Run("unknown session", func(t *testing.T) {
		_, err := handler.GetRetention(context.Background(), &SessionIDInput{ID: "missing"})
		assertStatus(t, err, 404)
	})

	t.Run("not completed", func(t *testing.T) {
		session := models.NewDownloadSession("item-2", "", "Queued Movie", "720p")
		if err := st.Create(session); err != nil {
			t.Fatalf("creating session: %v", err)
		}
		_, err := handler.GetRetention(context.Background(), &SessionIDInput{ID: session.ID})
		assertStatus(t, err, 409)
	})
}
