package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/storage"
	"github.com/jmylchreest/fetcharr/internal/store"
)

// ConcatFile is the on-disk name of the concatenated fMP4 stream.
const ConcatFile = "concat.mp4"

const concatBufferSize = 1 << 20

// ConcatSegments appends the init segment (when present) and every media
// segment in ascending index order into a single file inside the session
// directory. fMP4 makes this valid by construction: byte concatenation of
// init + ordered fragments is itself a playable stream.
func ConcatSegments(ctx context.Context, sandbox *storage.Sandbox, sessionID string, indexes []uint32, hasInit bool) error {
	ordered := make([]uint32, len(indexes))
	copy(ordered, indexes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var parts []string
	if hasInit {
		parts = append(parts, store.SessionFilePath(sessionID, InitSegmentFile))
	}
	for _, idx := range ordered {
		parts = append(parts, store.SessionFilePath(sessionID, SegmentFile(idx)))
	}

	outPath, err := sandbox.ResolvePath(store.SessionFilePath(sessionID, ConcatFile))
	if err != nil {
		return models.NewDownloadError(models.ErrorKindIO, err)
	}

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return models.Downloadf(models.ErrorKindIO, "creating concat file: %w", err)
	}
	defer out.Close()

	buf := make([]byte, concatBufferSize)
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendPart(sandbox, out, part, buf); err != nil {
			return err
		}
	}

	if err := out.Sync(); err != nil {
		return models.Downloadf(models.ErrorKindIO, "syncing concat file: %w", err)
	}
	return nil
}

func appendPart(sandbox *storage.Sandbox, out io.Writer, relPath string, buf []byte) error {
	path, err := sandbox.ResolvePath(relPath)
	if err != nil {
		return models.NewDownloadError(models.ErrorKindIO, err)
	}

	in, err := os.Open(path)
	if err != nil {
		return models.Downloadf(models.ErrorKindIO, "opening segment %s: %w", relPath, err)
	}
	defer in.Close()

	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		return models.Downloadf(models.ErrorKindIO, "appending segment %s: %w", relPath, err)
	}
	return nil
}

// RemoveConcatArtifacts deletes the intermediate concat file after a
// successful remux.
func RemoveConcatArtifacts(sandbox *storage.Sandbox, sessionID string) error {
	if err := sandbox.Remove(store.SessionFilePath(sessionID, ConcatFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing concat file: %w", err)
	}
	return nil
}
