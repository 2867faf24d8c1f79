// Package settings persists per-user pipeline preferences. The engine reads a
// resolved snapshot once per job at submission; updates here never touch jobs
// already in flight.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/seantiz/courier/internal/model"
)

// defaultSettings are created on first read for an unknown user.
var defaultSettings = model.Settings{
	Prefix:     "file",
	RunRelabel: true,
	RunPublish: true,
	RunCleanup: true,
}

// Store is a JSON-file-backed preference store, safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	users  map[string]model.Settings
	logger *slog.Logger
}

// NewStore loads the settings file at path, creating an empty store if the
// file does not exist yet.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		users:  make(map[string]model.Settings),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("settings file not found, starting fresh", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	if err := json.Unmarshal(data, &s.users); err != nil {
		return nil, fmt.Errorf("decode settings file: %w", err)
	}
	return s, nil
}

// Resolve returns the user's preferences, creating and persisting defaults on
// first access.
func (s *Store) Resolve(userID string) model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg, ok := s.users[userID]; ok {
		return cfg
	}

	s.users[userID] = defaultSettings
	if err := s.persist(); err != nil {
		s.logger.Error("persist default settings", "user_id", userID, "error", err)
	}
	return defaultSettings
}

// Update replaces the user's preferences and persists the store.
func (s *Store) Update(userID string, cfg model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[userID] = cfg
	if err := s.persist(); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}

// persist writes the store to disk. Caller must hold the lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
