package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics groups the instruments recorded by the assistant client and the stream decoder.
type Metrics struct {
	requests        metric.Int64Counter
	requestErrors   metric.Int64Counter
	frames          metric.Int64Counter
	malformedFrames metric.Int64Counter
	duration        metric.Float64Histogram
}

const (
	modeSingleShot = "single_shot"
	modeStream     = "stream"
	modeHistory    = "history"
	modeHealth     = "health"
)

// NewMetrics registers the client instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	requests, err := meter.Int64Counter("assistant.requests",
		metric.WithDescription("Requests sent to the assistant endpoint"))
	if err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}
	requestErrors, err := meter.Int64Counter("assistant.request_errors",
		metric.WithDescription("Requests that ended with a transport or application error"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request errors counter: %w", err)
	}
	frames, err := meter.Int64Counter("assistant.stream.frames",
		metric.WithDescription("Stream frames decoded and applied"))
	if err != nil {
		return nil, fmt.Errorf("failed to create frames counter: %w", err)
	}
	malformed, err := meter.Int64Counter("assistant.stream.malformed_frames",
		metric.WithDescription("Stream frames dropped because their payload was not valid JSON"))
	if err != nil {
		return nil, fmt.Errorf("failed to create malformed frames counter: %w", err)
	}
	duration, err := meter.Float64Histogram("assistant.request.duration",
		metric.WithDescription("Duration of assistant requests; streamed requests are timed until their response headers"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Metrics{
		requests:        requests,
		requestErrors:   requestErrors,
		frames:          frames,
		malformedFrames: malformed,
		duration:        duration,
	}, nil
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("assistant"))
	if err != nil {
		// The noop meter never fails to create instruments.
		panic(err)
	}
	return m
}

func (m *Metrics) recordRequest(ctx context.Context, mode string, start time.Time, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		m.requestErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordFrame(ctx context.Context) {
	if m == nil {
		return
	}
	m.frames.Add(ctx, 1)
}

func (m *Metrics) recordMalformedFrame(ctx context.Context) {
	if m == nil {
		return
	}
	m.malformedFrames.Add(ctx, 1)
}
