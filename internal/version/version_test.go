package version

import (
	"runtime"
	"strings"
	"testing"
)

func setBuildInfo(t *testing.T, version, commit string) {
	t.Helper()
	originalVersion, originalCommit := Version, Commit
	t.Cleanup(func() {
		Version = originalVersion
		Commit = originalCommit
	})
	Version = version
	Commit = commit
}

func TestGetInfo(t *testing.T) {
	setBuildInfo(t, "1.2.3", "abc123def456789")

	info := GetInfo()
	if info.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %s", info.Version)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("expected go version %s, got %s", runtime.Version(), info.GoVersion)
	}
	if !strings.Contains(info.Platform, "/") {
		t.Errorf("expected platform in os/arch form, got %s", info.Platform)
	}
}

func TestString(t *testing.T) {
	setBuildInfo(t, "1.2.3", "abc123def456789")

	s := String()
	if !strings.Contains(s, "fetcharr version 1.2.3") {
		t.Errorf("unexpected version string: %s", s)
	}
	if !strings.Contains(s, "abc123de") {
		t.Errorf("expected short commit in string: %s", s)
	}
}

func TestStringWithoutCommit(t *testing.T) {
	setBuildInfo(t, "dev", "unknown")

	s := String()
	if strings.Contains(s, "commit:") {
		t.Errorf("expected no commit section for unknown commit: %s", s)
	}
}

func TestShort(t *testing.T) {
	setBuildInfo(t, "1.2.3", "abc123def456789")

	if got := Short(); got != "fetcharr 1.2.3 (abc123de)" {
		t.Errorf("unexpected short string: %s", got)
	}
}

func TestUserAgent(t *testing.T) {
	setBuildInfo(t, "1.2.3", "abc123def456789")

	if got := UserAgent(); got != "fetcharr/1.2.3" {
		t.Errorf("unexpected user agent: %s", got)
	}
}

func TestIsSnapshot(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"dev", true},
		{"1.2.3-SNAPSHOT.abc1234", true},
		{"1.2.3", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			setBuildInfo(t, tt.version, "unknown")
			if got := IsSnapshot(); got != tt.want {
				t.Errorf("IsSnapshot(%s) = %v, want %v", tt.version, got, tt.want)
			}
			if IsRelease() == tt.want {
				t.Errorf("IsRelease(%s) should be inverse of IsSnapshot", tt.version)
			}
		})
	}
}
