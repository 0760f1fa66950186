package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandBuilder_RemuxArgs(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Overwrite().
		Input("/data/sess/concat.mp4").
		CopyCodecs().
		Faststart().
		Output("/data/sess/Movie.mp4").
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-y",
		"-i", "/data/sess/concat.mp4",
		"-c", "copy",
		"-movflags", "+faststart",
		"/data/sess/Movie.mp4",
	}, cmd.Args)
}

func TestCommand_String(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").Input("in.mp4").Output("out.mp4").Build()
	s := cmd.String()
	assert.True(t, strings.HasPrefix(s, "ffmpeg "))
	assert.Contains(t, s, "-i in.mp4")
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(10)

	n, err := tb.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", tb.String())

	_, _ = tb.Write([]byte(" world, this is long"))
	got := tb.String()
	assert.LessOrEqual(t, len(got), 10)
	assert.True(t, strings.HasSuffix("hello world, this is long", got))
}

func TestResolveBinary_Missing(t *testing.T) {
	_, err := ResolveBinary("/nonexistent/path/to/ffmpeg-binary")
	assert.Error(t, err)
}
