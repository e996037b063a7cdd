package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashnegiii/chadoc/internal/services"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "LOG_LEVEL", "BACKEND_BASE_URL", "BACKEND_CHAT_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		env     map[string]string
		want    config
	}{
		{
			name:    "Missing file",
			content: nil,
			want: config{
				Port:    defaultPort,
				Backend: backendConfig{BaseURL: services.DefaultBaseURL, ChatURL: services.DefaultChatURL},
			},
		},
		{
			name:    "Empty file",
			content: ptr(""),
			want: config{
				Port:    defaultPort,
				Backend: backendConfig{BaseURL: services.DefaultBaseURL, ChatURL: services.DefaultChatURL},
			},
		},
		{
			name: "File values",
			content: ptr(`port: "8080"
logLevel: debug
backend:
  baseURL: http://rag:5001/api/
chat:
  revealInterval: 10ms
  historySize: 3
  maxSessions: 16
upload:
  maxBytes: 1024
  metadataCacheSize: 8
`),
			want: config{
				Port:     "8080",
				LogLevel: "debug",
				Backend:  backendConfig{BaseURL: "http://rag:5001/api", ChatURL: "http://rag:5001/api/query"},
				Chat:     chatConfig{RevealInterval: 10 * time.Millisecond, HistorySize: 3, MaxSessions: 16},
				Upload:   uploadConfig{MaxBytes: 1024, MetadataCacheSize: 8},
			},
		},
		{
			name: "Environment overrides",
			content: ptr(`port: "8080"
backend:
  baseURL: http://rag:5001/api
`),
			env: map[string]string{
				"PORT":             "9090",
				"BACKEND_CHAT_URL": "http://chat:7000/ask",
				"LOG_LEVEL":        "warn",
			},
			want: config{
				Port:     "9090",
				LogLevel: "warn",
				Backend:  backendConfig{BaseURL: "http://rag:5001/api", ChatURL: "http://chat:7000/ask"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tt.content != nil {
				path = writeConfig(t, *tt.content)
			}

			got, err := loadConfig(path)
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("loadConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "port: [unterminated")

	if _, err := loadConfig(path); err == nil {
		t.Error("loadConfig() should return error for malformed YAML")
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("CHADOC_CONFIG", "/etc/chadoc.yaml")

	got, err := configPath()
	if err != nil {
		t.Fatal(err)
	}
	if got != "/etc/chadoc.yaml" {
		t.Errorf("configPath() = %q, want %q", got, "/etc/chadoc.yaml")
	}
}

func TestConfigLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := (config{LogLevel: tt.level}).level(); got != tt.want {
				t.Errorf("level() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigHandlers(t *testing.T) {
	cfg := config{
		Chat:   chatConfig{RevealInterval: time.Millisecond, HistorySize: 2, MaxSessions: 4},
		Upload: uploadConfig{MaxBytes: 100, MetadataCacheSize: 5},
	}

	got := cfg.handlers()
	if got.RevealInterval != time.Millisecond || got.HistorySize != 2 || got.MaxSessions != 4 ||
		got.MaxUploadBytes != 100 || got.MetadataCacheSize != 5 {
		t.Errorf("handlers() = %+v", got)
	}
}

func ptr(s string) *string { return &s }
