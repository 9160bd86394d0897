package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/mockassistant"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	delay := flag.Duration("delay", 50*time.Millisecond, "delay between two streamed words")
	unavailable := flag.Bool("unavailable", false, "report the assistant as unavailable")
	failWith := flag.String("fail", "", "answer single-shot requests with this error")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	mock := mockassistant.New(nil, mockassistant.Options{
		Unavailable: *unavailable,
		FailWith:    *failWith,
		ChunkDelay:  *delay,
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mock.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
		}
	}()

	logger.Info("Mock assistant listening", slog.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
