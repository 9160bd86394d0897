package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MegaGrindStone/assistant-web-ui/internal/chat"
	"github.com/MegaGrindStone/assistant-web-ui/internal/config"
	"github.com/MegaGrindStone/assistant-web-ui/internal/conversation"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/telemetry"
	"github.com/MegaGrindStone/assistant-web-ui/internal/terminal"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	cfgPath      string
	mode         string
	assistantURL string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chat",
		Short:        "Chat with the assistant from the terminal",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runREPL,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to the configuration file (default <user config dir>/assistantwebui/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&assistantURL, "url", "", "assistant base URL, overrides the configuration")
	rootCmd.Flags().StringVar(&mode, "mode", "", "request mode: single, stream or history (default from the configuration)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Print the assistant status and exit",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("chat version %s\n", version)
		},
	})

	return rootCmd
}

// app holds what every command needs once the configuration is loaded.
type app struct {
	cfg       config.Config
	cfgDir    string
	logger    *slog.Logger
	assistant services.Assistant
	shutdown  func()
}

func newApp(ctx context.Context) (*app, error) {
	cfgDir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	path := cfgPath
	if path == "" {
		path = filepath.Join(cfgDir, "config.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if assistantURL != "" {
		cfg.Assistant.BaseURL = assistantURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The terminal belongs to the REPL, so logs only go to the file.
	logger, logFile, err := telemetry.NewLogger(cfg.Log, nil)
	if err != nil {
		return nil, err
	}

	meter, shutdownMeter, err := telemetry.NewMeter(ctx, cfg.Telemetry, version)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	metrics, err := services.NewMetrics(meter)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		cfgDir:    cfgDir,
		logger:    logger,
		assistant: services.NewAssistant(cfg.Assistant.BaseURL, cfg.Assistant.Timeout, logger, metrics),
		shutdown: func() {
			if err := shutdownMeter(context.Background()); err != nil {
				logger.Error("Failed to flush metrics", slog.String("err", err.Error()))
			}
			logFile.Close()
		},
	}, nil
}

func runREPL(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	editor, err := terminal.NewLineEditor(filepath.Join(a.cfgDir, "history"))
	if err != nil {
		return err
	}
	defer func() {
		if err := editor.Close(); err != nil {
			a.logger.Error("Failed to save input history", slog.String("err", err.Error()))
		}
	}()

	view := terminal.NewView(cmd.OutOrStdout())
	conv := conversation.New(terminal.Formatter{}, view, a.logger)
	session := chat.NewSession(a.assistant, conv, view, a.logger)
	defer session.Close()

	if err := terminal.NewREPL(session, view, editor, a.cfg.RequestMode()).Run(ctx); err != nil {
		a.logger.Error("Chat stopped", slog.String("err", err.Error()))
		return err
	}
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	view := terminal.NewView(cmd.OutOrStdout())
	session := chat.NewSession(a.assistant, conversation.New(terminal.Formatter{}, view, a.logger), view, a.logger)
	defer session.Close()

	if status := session.Health(ctx); status.Level != chat.LevelSuccess {
		return fmt.Errorf("assistant is not ready: %s", status.Text)
	}
	return nil
}
