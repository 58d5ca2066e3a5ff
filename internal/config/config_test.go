package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Scanner.FPS != 30 {
		t.Errorf("fps = %d, want default 30", cfg.Scanner.FPS)
	}
	if cfg.API.Timeout() != 10*time.Second {
		t.Errorf("api timeout = %v, want 10s", cfg.API.Timeout())
	}
	if cfg.Console.Listen != "127.0.0.1:8787" {
		t.Errorf("console listen = %q", cfg.Console.Listen)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// venue scanner at the main door
		event: { id: "evt_42" },
		api: { base_url: "https://party.tw", token: "secret" },
		camera: { stream_url: "http://door-cam.local/stream" },
		scanner: { fps: 15, success_hold_ms: 1500 },
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Event.ID != "evt_42" {
		t.Errorf("event id = %q", cfg.Event.ID)
	}
	if cfg.API.BaseURL != "https://party.tw" {
		t.Errorf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.Scanner.FPS != 15 {
		t.Errorf("fps = %d, want 15", cfg.Scanner.FPS)
	}
	if cfg.Scanner.SuccessHold() != 1500*time.Millisecond {
		t.Errorf("success hold = %v", cfg.Scanner.SuccessHold())
	}
	// Untouched sections keep their defaults.
	if cfg.Scanner.ErrorHoldMs != 3500 {
		t.Errorf("error hold = %d, want default 3500", cfg.Scanner.ErrorHoldMs)
	}
}

func TestLoad_RejectsBadFPS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{scanner: {fps: 500}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for fps=500")
	}
}

func TestLoad_RejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{event: `), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
