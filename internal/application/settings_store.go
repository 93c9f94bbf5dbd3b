package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// SettingsStore keeps the runtime settings in a YAML file and hands out
// immutable snapshots of them. Callers fetch a fresh snapshot before each
// turn; a Council never sees edits made after it was built.
//
// A store with an empty path keeps settings in memory only.
type SettingsStore struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current Settings
	loaded  bool

	// sf collapses concurrent first loads into one file read.
	sf singleflight.Group
}

// NewSettingsStore creates a store backed by path. Nothing is read until the
// first Load or Current call.
func NewSettingsStore(path string, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{path: path, logger: logger.With("component", "settings_store")}
}

// Path returns the backing file, or "" for an in-memory store.
func (s *SettingsStore) Path() string { return s.path }

// ParseSettings decodes YAML over the defaults, so omitted keys keep their
// default values, and validates the result. Unknown keys are rejected.
func ParseSettings(data []byte) (Settings, error) {
	settings := DefaultSettings()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict mode - fail on unknown fields.

	if err := decoder.Decode(&settings); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("YAML decode failed: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Load reads the settings file. A missing file yields the defaults; an
// unreadable or invalid one is logged and also yields the defaults, so a bad
// edit never takes the service down.
func (s *SettingsStore) Load() (Settings, error) {
	v, err, _ := s.sf.Do("load", func() (any, error) {
		settings, err := s.read()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.current, s.loaded = settings, true
		s.mu.Unlock()
		return settings, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return v.(Settings).Clone(), nil
}

func (s *SettingsStore) read() (Settings, error) {
	if s.path == "" {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(filepath.Clean(s.path))
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("settings file not found, using defaults", "path", s.path)
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	settings, err := ParseSettings(data)
	if err != nil {
		s.logger.Warn("invalid settings file, using defaults", "path", s.path, "err", err)
		return DefaultSettings(), nil
	}
	return settings, nil
}

// Current returns a snapshot of the settings, loading them on first use.
func (s *SettingsStore) Current() (Settings, error) {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.current.Clone(), nil
	}
	s.mu.RUnlock()
	return s.Load()
}

// Save validates settings and persists them.
func (s *SettingsStore) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(settings)
}

// Update applies patch to the current settings, validates the result, and
// persists it. The stored settings are unchanged when validation fails.
func (s *SettingsStore) Update(patch SettingsPatch) (Settings, error) {
	if _, err := s.Current(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.Apply(s.current)
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	if err := s.saveLocked(next); err != nil {
		return Settings{}, err
	}
	return next.Clone(), nil
}

// Reset restores and persists the defaults.
func (s *SettingsStore) Reset() (Settings, error) {
	defaults := DefaultSettings()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(defaults); err != nil {
		return Settings{}, err
	}
	return defaults.Clone(), nil
}

// saveLocked writes settings through a temp file and rename so readers never
// observe a half-written file. s.mu must be held.
func (s *SettingsStore) saveLocked(settings Settings) error {
	if s.path != "" {
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		if err := writeFileAtomic(s.path, data); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		s.logger.Info("settings saved", "path", s.path)
	}
	s.current, s.loaded = settings.Clone(), true
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
