package main

import (
	"log"
	"os"

	"github.com/seantiz/courier/internal/api"
	"github.com/seantiz/courier/internal/config"
	"github.com/seantiz/courier/internal/credential"
	"github.com/seantiz/courier/internal/engine"
	"github.com/seantiz/courier/internal/fetcher"
	"github.com/seantiz/courier/internal/publisher"
	"github.com/seantiz/courier/internal/settings"
	"github.com/seantiz/courier/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("courier: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"data_dir", cfg.DataDir,
		"max_concurrent", cfg.MaxConcurrent,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	pool, err := credential.LoadPool(cfg.CredentialsFile)
	if err != nil {
		log.Fatalf("failed to load credentials: %v", err)
	}
	logger.Info("credential pool loaded", "size", pool.Size(), "current", pool.CurrentName())

	prefs, err := settings.NewStore(cfg.SettingsFile, logger)
	if err != nil {
		log.Fatalf("failed to load user settings: %v", err)
	}

	fetch := fetcher.NewExecFetcher(cfg.FetchCommand, logger)
	if err := fetch.Verify(); err != nil {
		log.Fatalf("fetch command unavailable: %v", err)
	}

	publish := publisher.NewDoodPublisher(cfg.PublishAPIURL, cfg.PublishAPIKey, nil, logger)
	if cfg.PublishAPIKey == "" {
		logger.Warn("no publish API key configured, publish stages will fail")
	}

	eng := engine.New(db, pool, fetch, publish, engine.Options{
		MaxConcurrent:   cfg.MaxConcurrent,
		FetchAttempts:   cfg.FetchAttempts,
		FetchTimeout:    cfg.FetchTimeout,
		RetryBackoff:    cfg.RetryBackoff,
		RetainCompleted: cfg.RetainCompleted,
		DataDir:         cfg.DataDir,
	}, logger)
	eng.Start()
	defer eng.Close()

	srv := api.NewServer(cfg.ListenAddr, db, eng, prefs, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
