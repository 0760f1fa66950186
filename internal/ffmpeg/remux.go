package ffmpeg

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/observability"
)

// Remuxer runs the finalization remux for completed downloads.
type Remuxer struct {
	// BinaryPath is the configured ffmpeg path; empty means PATH lookup.
	BinaryPath string

	logger *slog.Logger
}

// NewRemuxer creates a Remuxer.
func NewRemuxer(binaryPath string, logger *slog.Logger) *Remuxer {
	return &Remuxer{
		BinaryPath: binaryPath,
		logger:     observability.WithComponent(logger, "ffmpeg"),
	}
}

// Available reports whether an ffmpeg binary can be resolved.
func (r *Remuxer) Available() bool {
	_, err := ResolveBinary(r.BinaryPath)
	return err == nil
}

// Remux stream-copies inputPath into outputPath with faststart. A missing
// binary and a failed run are distinct error kinds: the first is actionable
// by the operator, the second by looking at the captured stderr tail.
func (r *Remuxer) Remux(ctx context.Context, inputPath, outputPath string) error {
	binary, err := ResolveBinary(r.BinaryPath)
	if err != nil {
		return models.NewDownloadError(models.ErrorKindFfmpegMissing, err)
	}

	cmd := NewCommandBuilder(binary).
		HideBanner().
		Overwrite().
		Input(inputPath).
		CopyCodecs().
		Faststart().
		Output(outputPath).
		Build()

	r.logger.Debug("running remux", slog.String("command", cmd.String()))

	if err := cmd.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tail := cmd.StderrTail()
		if tail != "" {
			return models.Downloadf(models.ErrorKindRemuxFailed, "ffmpeg remux failed: %v: %s", err, tail)
		}
		return models.Downloadf(models.ErrorKindRemuxFailed, "ffmpeg remux failed: %v", err)
	}

	r.logger.Info("remux completed",
		slog.String("output", outputPath),
		slog.Duration("duration", cmd.Duration()))
	return nil
}
