// Package config loads the YAML configuration shared by the server and the terminal client.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/chat"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration.
type Config struct {
	Port      string          `yaml:"port"`
	Assistant AssistantConfig `yaml:"assistant"`
	// Mode is the default request mode: single, stream or history.
	Mode      string          `yaml:"mode"`
	Formatter string          `yaml:"formatter"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// QuickQuestions are offered as one-click prompts while the conversation is empty.
	QuickQuestions []string `yaml:"quickQuestions"`
}

// AssistantConfig locates the remote assistant endpoint.
type AssistantConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// TelemetryConfig configures the metrics export.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	File     string        `yaml:"file"`
	Interval time.Duration `yaml:"interval"`
}

const (
	// AppName names the configuration directory.
	AppName = "assistantwebui"

	// EnvAssistantURL overrides assistant.baseURL.
	EnvAssistantURL = "ASSISTANT_URL"
)

// Default returns the configuration used when no file exists. Relative file names are resolved against dir.
func Default(dir string) Config {
	return Config{
		Port: "8080",
		Assistant: AssistantConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
		Mode:      string(chat.ModeStream),
		Formatter: models.FormatterSimple,
		QuickQuestions: []string{
			"What safety features does the car include?",
			"Give me the complete maintenance schedule with service intervals",
			"Compare the petrol and diesel engines and help me choose",
			"How do I connect my phone to the infotainment system?",
			"What is the real-world fuel efficiency and how can I improve it?",
			"A warning light is on. Help me troubleshoot step by step",
		},
		Log: LogConfig{
			Level:      "info",
			File:       filepath.Join(dir, "assistantwebui.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			File:     filepath.Join(dir, "metrics.log"),
			Interval: 10 * time.Second,
		},
	}
}

// Dir returns the configuration directory inside the user config dir, creating it when needed.
func Dir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	dir := filepath.Join(cfgDir, AppName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating config directory: %w", err)
	}
	return dir, nil
}

// Load reads the configuration file at path on top of Default(filepath.Dir(path)). A missing file yields the
// defaults. The ASSISTANT_URL environment variable, when set, wins over the file.
func Load(path string) (Config, error) {
	cfg := Default(filepath.Dir(path))

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := Decode(f, &cfg); err != nil {
			return Config{}, err
		}
	}

	if u := os.Getenv(EnvAssistantURL); u != "" {
		cfg.Assistant.BaseURL = u
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode decodes YAML from r into cfg, keeping the fields r does not set.
func Decode(r io.Reader, cfg *Config) error {
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error decoding config file: %w", err)
	}
	return nil
}

// Validate checks the fields that cannot be defaulted.
func (c Config) Validate() error {
	if c.Assistant.BaseURL == "" {
		return fmt.Errorf("assistant.baseURL is required")
	}
	if _, err := chat.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}
	if _, err := models.NewFormatter(c.Formatter); err != nil {
		return fmt.Errorf("invalid formatter: %w", err)
	}
	return nil
}

// RequestMode returns the parsed default request mode.
func (c Config) RequestMode() chat.Mode {
	mode, err := chat.ParseMode(c.Mode)
	if err != nil {
		return chat.ModeSingleShot
	}
	return mode
}
