package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// FileName is the settings file inside the data directory.
	FileName      = "pulsemix.yaml"
	debounceDelay = 500 * time.Millisecond
)

// YAMLStore is an atomic YAML file store with debounced writes.
type YAMLStore struct {
	mu      sync.Mutex
	path    string
	timer   *time.Timer
	pending *Settings
}

// NewYAMLStore creates a store backed by the file at path.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

// Path returns the file path used by this store.
func (s *YAMLStore) Path() string { return s.path }

// Load reads the settings from disk. Keys absent from the file keep their
// defaults. A missing or unparsable file yields Default; values that parse
// but are out of range are an error.
func (s *YAMLStore) Load() (*Settings, error) {
	def := Default()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &def, nil
		}
		return nil, err
	}

	st := Default()
	if err := yaml.Unmarshal(data, &st); err != nil {
		slog.Warn("config: corrupt settings file, using defaults", "path", s.path, "err", err)
		return &def, nil
	}

	migrateSettings(&st)
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return &st, nil
}

// Save schedules a debounced write of the settings to disk.
// The actual write happens after 500ms of no further Save calls.
func (s *YAMLStore) Save(st *Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *st
	s.pending = &cp

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		if err := s.Flush(); err != nil {
			slog.Error("config: failed to write settings", "path", s.path, "err", err)
		}
	})
	return nil
}

// Flush forces an immediate write of any pending settings.
func (s *YAMLStore) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	st := s.pending
	s.pending = nil
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	return s.writeAtomic(st)
}

func (s *YAMLStore) writeAtomic(st *Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	// Write to temp file, then rename (atomic on Linux)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

var _ Store = (*YAMLStore)(nil)
