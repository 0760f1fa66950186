// Package ffmpeg wraps the ffmpeg binary for the finalization remux: the
// concatenated fMP4 stream is rewritten once, stream-copied, with the moov
// atom moved to the front so the result is byte-seekable over HTTP ranges.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Command represents an ffmpeg invocation.
type Command struct {
	Binary string
	Args   []string

	cmd     *exec.Cmd
	started time.Time
	mu      sync.RWMutex

	// stderrTail keeps the last bytes of stderr for error reporting.
	stderrTail *tailBuffer
}

// CommandBuilder builds ffmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a new ffmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// CopyCodecs stream-copies all streams without re-encoding.
func (b *CommandBuilder) CopyCodecs() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c", "copy")
	return b
}

// Faststart moves the moov atom to the front of the output file so range
// requests can seek without reading the tail first.
func (b *CommandBuilder) Faststart() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-movflags", "+faststart")
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary:     b.binary,
		Args:       args,
		stderrTail: newTailBuffer(stderrTailSize),
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command and waits for completion. Cancelling the context
// kills the process. Stderr is captured in the tail buffer for error
// reporting via StderrTail.
func (c *Command) Run(ctx context.Context) error {
	c.mu.Lock()
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	c.cmd.Stderr = c.stderrTail
	c.started = time.Now()
	cmd := c.cmd
	c.mu.Unlock()

	return cmd.Run()
}

// StderrTail returns the last captured bytes of stderr.
func (c *Command) StderrTail() string {
	return c.stderrTail.String()
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// stderrTailSize is how many trailing stderr bytes are kept for error messages.
const stderrTailSize = 500

// tailBuffer is an io.Writer that retains only the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// ResolveBinary resolves the ffmpeg binary path. An empty configured path
// falls back to PATH lookup.
func ResolveBinary(configuredPath string) (string, error) {
	candidate := configuredPath
	if candidate == "" {
		candidate = "ffmpeg"
	}
	path, err := exec.LookPath(candidate)
	if err != nil {
		return "", fmt.Errorf("ffmpeg binary not found: %w", err)
	}
	return path, nil
}
