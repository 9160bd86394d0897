package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	assistantwebui "github.com/MegaGrindStone/assistant-web-ui"
	"github.com/MegaGrindStone/assistant-web-ui/internal/config"
	"github.com/MegaGrindStone/assistant-web-ui/internal/handlers"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/telemetry"
)

var version = "0.1.0"

func main() {
	cfgDir, err := config.Dir()
	if err != nil {
		log.Fatal(err)
	}

	cfgPath := flag.String("config", filepath.Join(cfgDir, "config.yaml"), "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, logFile, err := telemetry.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	defer logFile.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	meter, shutdownMeter, err := telemetry.NewMeter(context.Background(), cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownMeter(context.Background()); err != nil {
			logger.Error("Failed to flush metrics", slog.String("err", err.Error()))
		}
	}()

	metrics, err := services.NewMetrics(meter)
	if err != nil {
		return err
	}
	assistant := services.NewAssistant(cfg.Assistant.BaseURL, cfg.Assistant.Timeout, logger, metrics)

	formatter, err := models.NewFormatter(cfg.Formatter)
	if err != nil {
		return err
	}

	m, err := handlers.NewMain(assistant, formatter, cfg.RequestMode(), cfg.QuickQuestions, logger)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	// Serve static files
	staticFS, err := fs.Sub(assistantwebui.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/clear", m.HandleClear)
	mux.HandleFunc("/health", m.HandleHealth)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("assistant", cfg.Assistant.BaseURL),
			slog.String("mode", string(cfg.RequestMode())))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
	}
	return nil
}
