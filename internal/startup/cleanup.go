// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// CleanupScratchFiles removes orphaned scratch artifacts left behind by an
// unclean shutdown: per-session `concat.mp4` files from interrupted
// finalization and `*.tmp` files from interrupted atomic writes. Segment
// files are deliberately left in place so interrupted downloads can resume.
//
// Returns the number of files removed and any error encountered.
func CleanupScratchFiles(logger *slog.Logger, downloadsDir string) (int, error) {
	if _, err := os.Stat(downloadsDir); os.IsNotExist(err) {
		logger.Debug("downloads directory does not exist, skipping cleanup",
			"path", downloadsDir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(downloadsDir)
	if err != nil {
		logger.Error("failed to read downloads directory for cleanup",
			"path", downloadsDir,
			"error", err,
		)
		return 0, err
	}

	var removed int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		sessionDir := filepath.Join(downloadsDir, entry.Name())
		files, err := os.ReadDir(sessionDir)
		if err != nil {
			logger.Warn("failed to read session directory",
				"path", sessionDir,
				"error", err,
			)
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			name := f.Name()
			if name != "concat.mp4" && !strings.HasSuffix(name, ".tmp") {
				continue
			}

			path := filepath.Join(sessionDir, name)
			if err := os.Remove(path); err != nil {
				logger.Warn("failed to remove scratch file",
					"path", path,
					"error", err,
				)
				continue
			}

			logger.Info("removed orphaned scratch file", "path", path)
			removed++
		}
	}

	return removed, nil
}
