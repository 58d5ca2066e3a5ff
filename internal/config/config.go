// Package config loads and watches the gatescan configuration file.
//
// The config is a single JSON5 file (comments and trailing commas allowed)
// so hosts can annotate their venue setup. Defaults are applied before the
// file is parsed; a missing file yields a pure-default config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the scanning engine.
type Config struct {
	Event   EventConfig   `json:"event"`
	API     APIConfig     `json:"api"`
	Camera  CameraConfig  `json:"camera"`
	Scanner ScannerConfig `json:"scanner"`
	Console ConsoleConfig `json:"console"`
}

// EventConfig identifies the event being scanned for.
type EventConfig struct {
	ID string `json:"id"`
}

// APIConfig configures the redemption collaborator.
type APIConfig struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"token"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout returns the redemption request timeout.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// CameraConfig configures the camera stream source.
// StreamURL points at an MJPEG endpoint (multipart/x-mixed-replace), the
// format webcam daemons and IP cameras serve. Width/Height are the
// preferred capture resolution, passed as query hints to sources that
// honor them.
type CameraConfig struct {
	StreamURL string `json:"stream_url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// ScannerConfig tunes the decode loop and the result display intervals.
type ScannerConfig struct {
	FPS            int `json:"fps"`
	MaxDecodeWidth int `json:"max_decode_width"`
	SuccessHoldMs  int `json:"success_hold_ms"`
	ErrorHoldMs    int `json:"error_hold_ms"`
}

// SuccessHold returns how long the success state is displayed before
// reverting to a scanning-ready state.
func (s ScannerConfig) SuccessHold() time.Duration {
	return time.Duration(s.SuccessHoldMs) * time.Millisecond
}

// ErrorHold returns how long the error state is displayed before reverting.
func (s ScannerConfig) ErrorHold() time.Duration {
	return time.Duration(s.ErrorHoldMs) * time.Millisecond
}

// ConsoleConfig configures the operator console WebSocket endpoint.
type ConsoleConfig struct {
	Listen      string `json:"listen"`
	ManualRPM   int    `json:"manual_rpm"`
	ManualBurst int    `json:"manual_burst"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		API: APIConfig{
			TimeoutSeconds: 10,
		},
		Camera: CameraConfig{
			Width:  1280,
			Height: 720,
		},
		Scanner: ScannerConfig{
			FPS:            30,
			MaxDecodeWidth: 1024,
			SuccessHoldMs:  2000,
			ErrorHoldMs:    3500,
		},
		Console: ConsoleConfig{
			Listen:      "127.0.0.1:8787",
			ManualRPM:   60,
			ManualBurst: 5,
		},
	}
}

// DefaultPath returns the default config file location (~/.gatescan/config.json5).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json5"
	}
	return filepath.Join(home, ".gatescan", "config.json5")
}

// Load reads the config file at path on top of defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and fills bounds the file may have zeroed out.
func (c *Config) Validate() error {
	if c.Scanner.FPS <= 0 {
		c.Scanner.FPS = 30
	}
	if c.Scanner.FPS > 120 {
		return fmt.Errorf("scanner.fps %d out of range (1-120)", c.Scanner.FPS)
	}
	if c.Scanner.MaxDecodeWidth <= 0 {
		c.Scanner.MaxDecodeWidth = 1024
	}
	if c.Scanner.SuccessHoldMs <= 0 {
		c.Scanner.SuccessHoldMs = 2000
	}
	if c.Scanner.ErrorHoldMs <= 0 {
		c.Scanner.ErrorHoldMs = 3500
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 10
	}
	return nil
}
