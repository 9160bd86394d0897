package services_test

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct {
	data []byte
	err  error
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, r io.Reader) ([]models.Frame, error) {
	t.Helper()

	var frames []models.Frame
	for frame, err := range services.DecodeStream(r, discardLogger()) {
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func TestDecodeStream(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   []models.Frame
	}{
		{
			name:   "Deltas then sentinel",
			stream: "data: {\"content\":\"He\"}\n\ndata: {\"content\":\"llo\"}\n\ndata: {\"content\":\"[DONE]\"}\n\n",
			want:   []models.Frame{{Content: "He"}, {Content: "llo"}, {Done: true}},
		},
		{
			name:   "Malformed frame is skipped",
			stream: "data: not-json\n\ndata: {\"content\":\"ok\"}\n\n",
			want:   []models.Frame{{Content: "ok"}},
		},
		{
			name:   "Frames after sentinel are ignored",
			stream: "data: {\"content\":\"a\"}\n\ndata: {\"content\":\"[DONE]\"}\n\ndata: {\"content\":\"b\"}\n\n",
			want:   []models.Frame{{Content: "a"}, {Done: true}},
		},
		{
			name:   "Data lines of one event are separate frames",
			stream: "data: {\"content\":\"a\"}\ndata: broken\ndata: {\"content\":\"b\"}\n\n",
			want:   []models.Frame{{Content: "a"}, {Content: "b"}},
		},
		{
			name:   "Non data lines and blank payloads are ignored",
			stream: ": keep-alive\n\nevent: ping\n\ndata:  \n\nretry: 10\ndata: {\"content\":\"x\"}\n\n",
			want:   []models.Frame{{Content: "x"}},
		},
		{
			name:   "Payload without content is ignored",
			stream: "data: {\"other\":1}\n\ndata: {\"content\":\"\"}\n\n",
			want:   []models.Frame{{Content: ""}},
		},
		{
			name:   "Markup tokens are passed through untouched",
			stream: "data: {\"content\":\"**bo\"}\n\ndata: {\"content\":\"ld**\"}\n\n",
			want:   []models.Frame{{Content: "**bo"}, {Content: "ld**"}},
		},
		{
			name:   "Last line without line feed is applied",
			stream: "data: {\"content\":\"He\"}\n\ndata: {\"content\":\"llo\"}",
			want:   []models.Frame{{Content: "He"}, {Content: "llo"}},
		},
		{
			name:   "Lines without blank line separators",
			stream: "data: {\"content\":\"He\"}\ndata: {\"content\":\"llo\"}\ndata: {\"content\":\"[DONE]\"}\n",
			want:   []models.Frame{{Content: "He"}, {Content: "llo"}, {Done: true}},
		},
		{
			name:   "CRLF line endings",
			stream: "data: {\"content\":\"a\"}\r\ndata: {\"content\":\"b\"}\r\n\r\n",
			want:   []models.Frame{{Content: "a"}, {Content: "b"}},
		},
		{
			name:   "Empty stream",
			stream: "",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := collect(t, strings.NewReader(tt.stream))
			require.NoError(t, err)
			assert.Equal(t, tt.want, frames)
		})
	}
}

func TestDecodeStreamStopsReadingAtSentinel(t *testing.T) {
	r := &failingReader{
		data: []byte("data: {\"content\":\"a\"}\n\ndata: {\"content\":\"[DONE]\"}\n\n"),
		err:  errors.New("connection reset"),
	}

	frames, err := collect(t, r)
	require.NoError(t, err)
	assert.Equal(t, []models.Frame{{Content: "a"}, {Done: true}}, frames)
}

func TestDecodeStreamReadError(t *testing.T) {
	r := &failingReader{
		data: []byte("data: {\"content\":\"a\"}\n\n"),
		err:  errors.New("connection reset"),
	}

	frames, err := collect(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, []models.Frame{{Content: "a"}}, frames)
}

func TestDecodeStreamAppliesLinesAsTheyArrive(t *testing.T) {
	pr, pw := io.Pipe()
	firstSeen := make(chan struct{})
	var secondWritten atomic.Bool

	go func() {
		defer pw.Close()

		_, _ = io.WriteString(pw, "data: {\"content\":\"He\"}\n")
		select {
		case <-firstSeen:
		case <-time.After(2 * time.Second):
		}
		secondWritten.Store(true)
		_, _ = io.WriteString(pw, "data: {\"content\":\"llo\"}\n")
	}()

	var frames []models.Frame
	for frame, err := range services.DecodeStream(pr, discardLogger()) {
		require.NoError(t, err)
		if len(frames) == 0 {
			assert.False(t, secondWritten.Load(), "first frame held back until the next line arrived")
			close(firstSeen)
		}
		frames = append(frames, frame)
	}
	assert.Equal(t, []models.Frame{{Content: "He"}, {Content: "llo"}}, frames)
}

func TestDecodeStreamEarlyBreak(t *testing.T) {
	stream := "data: {\"content\":\"a\"}\n\ndata: {\"content\":\"b\"}\n\n"

	count := 0
	for range services.DecodeStream(strings.NewReader(stream), discardLogger()) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
