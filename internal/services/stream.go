package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// StreamDecoder turns the byte stream of the assistant's streaming endpoint into text frames.
type StreamDecoder struct {
	logger  *slog.Logger
	metrics *Metrics
}

// Stream is an in-flight streamed response. Frames must be consumed at most once, and Close must be called
// once the caller is done with it, whether or not the frames were consumed.
type Stream struct {
	body    io.ReadCloser
	decoder StreamDecoder
}

type streamPayload struct {
	Content *string `json:"content"`
}

const (
	errLoggerKey = "err"

	// maxFrameSize bounds a single event. Assistant deltas are a few tokens long; this only protects against a
	// misbehaving endpoint that never terminates a line.
	maxFrameSize = 1 << 20
)

// NewStreamDecoder creates a StreamDecoder. A nil metrics records nothing.
func NewStreamDecoder(logger *slog.Logger, metrics *Metrics) StreamDecoder {
	return StreamDecoder{
		logger:  logger.With(slog.String("module", "stream")),
		metrics: metrics,
	}
}

// DecodeStream decodes r with a StreamDecoder that records no metrics.
func DecodeStream(r io.Reader, logger *slog.Logger) iter.Seq2[models.Frame, error] {
	return NewStreamDecoder(logger, nil).Decode(r)
}

// Decode returns an iterator over the frames found in r, in stream order.
//
// Frames are line based: every "data: " line is applied as soon as its line feed arrives, without waiting for
// the blank line that ends an SSE event, and a last line without a line feed is still applied at the end of the
// stream. Every "data: " line carries one JSON payload of the form {"content": "..."}. Payloads that are not valid JSON
// are logged and skipped. A payload whose content is the "[DONE]" sentinel yields a final frame with Done set and
// ends the iteration; nothing after it is read. A read error is yielded once and ends the iteration. A stream
// that ends without a sentinel simply ends the iteration.
func (d StreamDecoder) Decode(r io.Reader) iter.Seq2[models.Frame, error] {
	return func(yield func(models.Frame, error) bool) {
		cfg := &sse.ReadConfig{MaxEventSize: maxFrameSize}
		for ev, err := range sse.Read(&lineEvents{r: r}, cfg) {
			if err != nil {
				yield(models.Frame{}, fmt.Errorf("error reading stream: %w", err))
				return
			}

			// A single event may carry several data lines; each of them is a frame of its own.
			for _, line := range strings.Split(ev.Data, "\n") {
				frame, ok := d.parse(line)
				if !ok {
					continue
				}
				if !yield(frame, nil) {
					return
				}
				if frame.Done {
					return
				}
			}
		}
	}
}

func (d StreamDecoder) parse(data string) (models.Frame, bool) {
	if strings.TrimSpace(data) == "" {
		return models.Frame{}, false
	}

	var p streamPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		d.logger.Warn("Dropping malformed stream frame",
			slog.String("data", data),
			slog.String(errLoggerKey, err.Error()))
		d.metrics.recordMalformedFrame(context.Background())
		return models.Frame{}, false
	}
	if p.Content == nil {
		d.logger.Debug("Dropping stream frame without content", slog.String("data", data))
		return models.Frame{}, false
	}

	if *p.Content == models.SentinelContent {
		return models.Frame{Done: true}, true
	}

	d.metrics.recordFrame(context.Background())
	return models.Frame{Content: *p.Content}, true
}

// Frames returns the frames of the streamed response. See StreamDecoder.Decode.
func (s Stream) Frames() iter.Seq2[models.Frame, error] {
	return s.decoder.Decode(s.body)
}

// Close releases the underlying response body.
func (s Stream) Close() error {
	return s.body.Close()
}

// lineEvents turns every line of r into an SSE event of its own by doubling each line feed, and terminates the
// input with a blank line so that a trailing line without a line feed is dispatched at end of stream. Extra
// blank lines are ignored by the SSE grammar.
type lineEvents struct {
	r   io.Reader
	buf bytes.Buffer
	raw []byte
	err error
}

func (l *lineEvents) Read(p []byte) (int, error) {
	for l.buf.Len() == 0 {
		if l.err != nil {
			return 0, l.err
		}
		if l.raw == nil {
			l.raw = make([]byte, 4096)
		}

		n, err := l.r.Read(l.raw)
		for _, b := range l.raw[:n] {
			l.buf.WriteByte(b)
			if b == '\n' {
				l.buf.WriteByte('\n')
			}
		}
		if errors.Is(err, io.EOF) {
			l.buf.WriteString("\n\n")
		}
		l.err = err
	}
	return l.buf.Read(p)
}
