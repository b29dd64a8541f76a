// Package auth guards the mutating HTTP routes with API keys read from a YAML
// file in the data directory. With no keys configured every request is
// allowed.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// KeysFileName is the key file inside the data directory.
const KeysFileName = "api_keys.yaml"

// Key is one named API key.
type Key struct {
	Name    string    `yaml:"name"`
	Key     string    `yaml:"key"`
	Created time.Time `yaml:"created,omitempty"`
}

type keysFile struct {
	Keys []Key `yaml:"keys"`
}

// Service holds the current key set and reloads it when the file changes.
type Service struct {
	mu      sync.RWMutex
	dir     string
	keys    []Key
	watcher *fsnotify.Watcher
}

// NewService creates a new auth service watching the given data directory.
func NewService(dir string) (*Service, error) {
	s := &Service{dir: dir}

	// Missing file is open mode.
	if err := s.Reload(); err != nil {
		return nil, err
	}
	if dir == "" {
		return s, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		return s, nil
	}
	s.watcher = watcher
	if err := watcher.Add(dir); err != nil {
		slog.Warn("auth: could not watch data dir", "err", err)
	}
	go s.watchLoop(s.path())
	return s, nil
}

func (s *Service) path() string {
	return filepath.Join(s.dir, KeysFileName)
}

// Reload re-reads the key file.
func (s *Service) Reload() error {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.keys = nil
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("auth: read keys: %w", err)
	}

	var f keysFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("auth: parse keys: %w", err)
	}
	keys := f.Keys[:0]
	for _, k := range f.Keys {
		if strings.TrimSpace(k.Key) != "" {
			keys = append(keys, k)
		}
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	slog.Debug("auth: reloaded keys", "count", len(keys))
	return nil
}

// IsOpenMode returns true if no keys are configured.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys) == 0
}

// VerifyKey returns true if key matches a configured key.
// Uses constant-time comparison to prevent timing attacks.
func (s *Service) VerifyKey(key string) bool {
	if key == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k.Key)) == 1 {
			return true
		}
	}
	return false
}

// AddKey generates a key named name, appends it to the key file and returns
// it.
func (s *Service) AddKey(name string) (Key, error) {
	if s.dir == "" {
		return Key{}, errors.New("auth: no data directory")
	}
	k := Key{Name: name, Key: strings.ReplaceAll(uuid.NewString(), "-", ""), Created: time.Now().UTC()}

	s.mu.Lock()
	keys := append(append([]Key(nil), s.keys...), k)
	s.mu.Unlock()

	data, err := yaml.Marshal(keysFile{Keys: keys})
	if err != nil {
		return Key{}, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Key{}, err
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return Key{}, fmt.Errorf("auth: write keys: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return Key{}, fmt.Errorf("auth: write keys: %w", err)
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	slog.Info("auth: key added", "name", name)
	return k, nil
}

// Close stops the file watcher.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Service) watchLoop(keysPath string) {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == filepath.Clean(keysPath) && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove)) {
				if err := s.Reload(); err != nil {
					slog.Warn("auth: failed to reload keys", "err", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}
