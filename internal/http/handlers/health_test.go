package handlers

import (
	"context"
	"testing"
)

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0").WithDownloadsDir(t.TempDir())

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if output.Body.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", output.Body.Status)
	}

	if output.Body.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", output.Body.Version)
	}

	if output.Body.Uptime == "" {
		t.Error("expected non-empty uptime")
	}

	if output.Body.CPUInfo.Cores == 0 {
		t.Error("expected non-zero CPU cores")
	}

	if output.Body.Disk.TotalGB == 0 {
		t.Error("expected non-zero disk total for downloads dir")
	}

	// No remuxer wired means ffmpeg reports unavailable.
	if output.Body.Components.FFmpeg.Available {
		t.Error("expected ffmpeg unavailable without a remuxer")
	}
	if output.Body.Checks["ffmpeg"] != "missing" {
		t.Errorf("expected ffmpeg check 'missing', got '%s'", output.Body.Checks["ffmpeg"])
	}

	// No database wired means the component reports unknown, not degraded.
	if output.Body.Components.Database.Status != "unknown" {
		t.Errorf("expected database status 'unknown', got '%s'", output.Body.Components.Database.Status)
	}
}

type stubRemuxer struct{ available bool }

func (s stubRemuxer) Available() bool { return s.available }

func TestHealthHandler_FFmpegAvailable(t *testing.T) {
	handler := NewHealthHandler("dev").WithRemuxer(stubRemuxer{available: true})

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !output.Body.Components.FFmpeg.Available {
		t.Error("expected ffmpeg available")
	}
	if output.Body.Checks["ffmpeg"] != "ok" {
		t.Errorf("expected ffmpeg check 'ok', got '%s'", output.Body.Checks["ffmpeg"])
	}
}
