package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aktagon/news-publisher/internal/browser"
)

// Store keeps the session snapshot in one JSON file. The file is read and
// written wholesale; a save replaces it atomically so a crash mid-write
// leaves the previous snapshot intact.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Exists reports whether a snapshot file is present. It says nothing about
// whether the session inside is still accepted by the site.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && info.Mode().IsRegular()
}

// ModTime is when the snapshot was last written.
func (s *Store) ModTime() (time.Time, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Load reads and validates the snapshot. A missing file yields an error
// matching os.ErrNotExist.
func (s *Store) Load() (*browser.StorageState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading session snapshot: %w", err)
	}

	var state browser.StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding session snapshot %s: %w", s.path, err)
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("session snapshot %s: %w", s.path, err)
	}
	return &state, nil
}

// Save replaces the snapshot with state.
func (s *Store) Save(state *browser.StorageState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to save session snapshot: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("creating temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temporary snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temporary snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temporary snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing session snapshot: %w", err)
	}
	return nil
}
