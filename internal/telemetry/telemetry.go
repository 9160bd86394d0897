// Package telemetry sets up structured logging with file rotation and the OpenTelemetry metrics pipeline.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "assistant-web-ui"

// NewLogger creates a JSON logger writing to the rotating file of cfg and, when extra is not nil, to extra as
// well. The returned closer releases the log file.
func NewLogger(cfg config.LogConfig, extra io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	var w io.Writer = file
	if extra != nil {
		w = io.MultiWriter(extra, file)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler), file, nil
}

// ParseLevel parses debug, info, warn or error. An empty level is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// NewMeter returns the meter used by the client instruments and a shutdown function flushing pending metrics.
// When telemetry is disabled the meter records nothing.
func NewMeter(ctx context.Context, cfg config.TelemetryConfig, version string) (metric.Meter, func(context.Context) error, error) {
	if !cfg.Enabled {
		return noop.NewMeterProvider().Meter(ServiceName), func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}
	metricsFile := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	exporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(metricsFile),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		err := mp.Shutdown(ctx)
		if cerr := metricsFile.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return mp.Meter(ServiceName), shutdown, nil
}
