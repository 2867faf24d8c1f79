package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envListenAddr, envDBPath, envDataDir, envLogLevel,
		envMaxConcurrent, envFetchAttempts, envFetchTimeoutS,
		envRetryBackoffMS, envRetainH, envCredentialsFile,
		envSettingsFile, envFetchCommand, envPublishAPIURL, envPublishAPIKey,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.MaxConcurrent != defaultMaxConcurrent {
		t.Errorf("MaxConcurrent = %d, want %d", cfg.MaxConcurrent, defaultMaxConcurrent)
	}
	if cfg.FetchAttempts != defaultFetchAttempts {
		t.Errorf("FetchAttempts = %d, want %d", cfg.FetchAttempts, defaultFetchAttempts)
	}
	if cfg.FetchTimeout != defaultFetchTimeoutS*time.Second {
		t.Errorf("FetchTimeout = %v, want %v", cfg.FetchTimeout, defaultFetchTimeoutS*time.Second)
	}
	if cfg.RetainCompleted != defaultRetainH*time.Hour {
		t.Errorf("RetainCompleted = %v, want %v", cfg.RetainCompleted, defaultRetainH*time.Hour)
	}
	if cfg.FetchCommand != defaultFetchCommand {
		t.Errorf("FetchCommand = %q, want %q", cfg.FetchCommand, defaultFetchCommand)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envMaxConcurrent, "4")
	t.Setenv(envFetchAttempts, "5")
	t.Setenv(envFetchTimeoutS, "60")
	t.Setenv(envRetryBackoffMS, "100")
	t.Setenv(envFetchCommand, "/usr/local/bin/mega-get")
	t.Setenv(envPublishAPIKey, "secret")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", cfg.MaxConcurrent)
	}
	if cfg.FetchAttempts != 5 {
		t.Errorf("FetchAttempts = %d, want 5", cfg.FetchAttempts)
	}
	if cfg.FetchTimeout != 60*time.Second {
		t.Errorf("FetchTimeout = %v, want 60s", cfg.FetchTimeout)
	}
	if cfg.RetryBackoff != 100*time.Millisecond {
		t.Errorf("RetryBackoff = %v, want 100ms", cfg.RetryBackoff)
	}
	if cfg.FetchCommand != "/usr/local/bin/mega-get" {
		t.Errorf("FetchCommand = %q, want %q", cfg.FetchCommand, "/usr/local/bin/mega-get")
	}
	if cfg.PublishAPIKey != "secret" {
		t.Errorf("PublishAPIKey = %q, want %q", cfg.PublishAPIKey, "secret")
	}
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv(envMaxConcurrent, "zero")
	t.Setenv(envFetchAttempts, "-3")
	t.Setenv(envFetchTimeoutS, "0")

	cfg := Load()

	if cfg.MaxConcurrent != defaultMaxConcurrent {
		t.Errorf("MaxConcurrent = %d, want default %d", cfg.MaxConcurrent, defaultMaxConcurrent)
	}
	if cfg.FetchAttempts != defaultFetchAttempts {
		t.Errorf("FetchAttempts = %d, want default %d", cfg.FetchAttempts, defaultFetchAttempts)
	}
	if cfg.FetchTimeout != defaultFetchTimeoutS*time.Second {
		t.Errorf("FetchTimeout = %v, want default", cfg.FetchTimeout)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
