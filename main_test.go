package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voltscope/config"
)

func TestLoadConfigDefaultsWithoutPath(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Buffer.Capacity != config.Default().Buffer.Capacity {
		t.Fatalf("capacity = %d", cfg.Buffer.Capacity)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("buffer:\n  capacity: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("invalid file accepted")
	}
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		want    string
		dropped bool
	}{
		{"text_info", "info", "text", "msg=INIT", false},
		{"json_info", "info", "json", `"msg":"INIT"`, false},
		{"warn_drops_info", "warn", "text", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Log.Level = tt.level
			cfg.Log.Format = tt.format

			var buf bytes.Buffer
			logger, err := newLogger(cfg, &buf)
			if err != nil {
				t.Fatal(err)
			}
			logger.Info("INIT", "capacity", 128)

			if tt.dropped {
				if buf.Len() != 0 {
					t.Fatalf("info logged at %s: %q", tt.level, buf.String())
				}
				return
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Fatalf("output %q lacks %q", buf.String(), tt.want)
			}
		})
	}
}

func TestOpenSinksSkipsDisabled(t *testing.T) {
	cfg := config.Default()
	if sinks := openSinks(cfg); len(sinks) != 0 {
		t.Fatalf("default config opened %d sinks", len(sinks))
	}

	cfg.Telemetry.SQLitePath = filepath.Join(t.TempDir(), "telemetry.db")
	sinks := openSinks(cfg)
	if len(sinks) != 1 {
		t.Fatalf("opened %d sinks, want the SQLite history", len(sinks))
	}
	for _, s := range sinks {
		s.Close()
	}
}
