package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cloudguardian/policyguard/internal/apperrors"
	"github.com/cloudguardian/policyguard/internal/logging"
)

// FileStore persists records as a single JSON file, rewritten atomically
// (write-temp-then-rename) on every Save, following
// internal/state/backend/local.go's Push method. A missing or corrupt file
// at startup is treated as an empty store, logged as a warning, not fatal
// (spec.md §4.3).
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore constructs a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (map[string]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Update loads once and gives fn a save callback it can call as often as
// it needs, all under one held lock, so concurrent policy loops can never
// interleave a read from one transition with a write from another
// (spec.md §5).
func (s *FileStore) Update(fn func(map[string]*Record, func() error) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked()
	if err != nil {
		return err
	}
	save := func() error { return s.saveLocked(records) }
	return fn(records, save)
}

func (s *FileStore) loadLocked() (map[string]*Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		logging.WithComponent("state").Warn().Str("path", s.path).
			Msg("state file not found, starting empty")
		return map[string]*Record{}, nil
	}
	if err != nil {
		logging.WithComponent("state").Warn().Err(err).Str("path", s.path).
			Msg("could not read state file, starting empty")
		return map[string]*Record{}, nil
	}

	var records map[string]*Record
	if err := json.Unmarshal(data, &records); err != nil {
		logging.WithComponent("state").Warn().Err(err).Str("path", s.path).
			Msg("state file corrupt, starting empty")
		return map[string]*Record{}, nil
	}
	if records == nil {
		records = map[string]*Record{}
	}
	return records, nil
}

func (s *FileStore) Save(records map[string]*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(records)
}

func (s *FileStore) saveLocked(records map[string]*Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "creating state directory")
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "marshaling state")
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "writing temp state file")
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return apperrors.Wrap(err, apperrors.TypeState, "renaming temp state file")
	}
	return nil
}
