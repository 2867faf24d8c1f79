package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "courier.db"
	defaultDataDir         = "data"
	defaultMaxConcurrent   = 2
	defaultFetchAttempts   = 3
	defaultFetchTimeoutS   = 7200
	defaultRetryBackoffMS  = 5000
	defaultRetainH         = 24
	defaultCredentialsFile = "credentials.json"
	defaultSettingsFile    = "user_settings.json"
	defaultFetchCommand    = "mega-get"
	defaultPublishAPIURL   = "https://doodapi.com/api/upload/server"

	envListenAddr      = "COURIER_LISTEN_ADDR"
	envDBPath          = "COURIER_DB_PATH"
	envDataDir         = "COURIER_DATA_DIR"
	envLogLevel        = "COURIER_LOG_LEVEL"
	envMaxConcurrent   = "COURIER_MAX_CONCURRENT"
	envFetchAttempts   = "COURIER_FETCH_ATTEMPTS"
	envFetchTimeoutS   = "COURIER_FETCH_TIMEOUT_S"
	envRetryBackoffMS  = "COURIER_RETRY_BACKOFF_MS"
	envRetainH         = "COURIER_RETAIN_COMPLETED_H"
	envCredentialsFile = "COURIER_CREDENTIALS_FILE"
	envSettingsFile    = "COURIER_SETTINGS_FILE"
	envFetchCommand    = "COURIER_FETCH_COMMAND"
	envPublishAPIURL   = "COURIER_PUBLISH_API_URL"
	envPublishAPIKey   = "COURIER_PUBLISH_API_KEY"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	DataDir         string
	LogLevel        slog.Level
	MaxConcurrent   int
	FetchAttempts   int
	FetchTimeout    time.Duration
	RetryBackoff    time.Duration
	RetainCompleted time.Duration
	CredentialsFile string
	SettingsFile    string
	FetchCommand    string
	PublishAPIURL   string
	PublishAPIKey   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		DataDir:         defaultDataDir,
		LogLevel:        slog.LevelInfo,
		MaxConcurrent:   defaultMaxConcurrent,
		FetchAttempts:   defaultFetchAttempts,
		FetchTimeout:    defaultFetchTimeoutS * time.Second,
		RetryBackoff:    defaultRetryBackoffMS * time.Millisecond,
		RetainCompleted: defaultRetainH * time.Hour,
		CredentialsFile: defaultCredentialsFile,
		SettingsFile:    defaultSettingsFile,
		FetchCommand:    defaultFetchCommand,
		PublishAPIURL:   defaultPublishAPIURL,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if n := parsePositiveInt(os.Getenv(envMaxConcurrent)); n > 0 {
		cfg.MaxConcurrent = n
	}
	if n := parsePositiveInt(os.Getenv(envFetchAttempts)); n > 0 {
		cfg.FetchAttempts = n
	}
	if n := parsePositiveInt(os.Getenv(envFetchTimeoutS)); n > 0 {
		cfg.FetchTimeout = time.Duration(n) * time.Second
	}
	if n := parsePositiveInt(os.Getenv(envRetryBackoffMS)); n > 0 {
		cfg.RetryBackoff = time.Duration(n) * time.Millisecond
	}
	if n := parsePositiveInt(os.Getenv(envRetainH)); n > 0 {
		cfg.RetainCompleted = time.Duration(n) * time.Hour
	}
	if v := os.Getenv(envCredentialsFile); v != "" {
		cfg.CredentialsFile = v
	}
	if v := os.Getenv(envSettingsFile); v != "" {
		cfg.SettingsFile = v
	}
	if v := os.Getenv(envFetchCommand); v != "" {
		cfg.FetchCommand = v
	}
	if v := os.Getenv(envPublishAPIURL); v != "" {
		cfg.PublishAPIURL = v
	}
	cfg.PublishAPIKey = os.Getenv(envPublishAPIKey)

	return cfg
}

// parsePositiveInt returns the parsed value, or 0 for empty, invalid, or
// non-positive input so the caller keeps its default.
func parsePositiveInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
