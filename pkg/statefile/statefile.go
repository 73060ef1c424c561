// Package statefile persists per-epoch distribution state as JSON files in
// the rfox data directory. Every write replaces the file atomically
// (temp-file then rename) so a crash mid-write can never leave a record that
// looks signed or broadcast but was not.
package statefile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Read when no file exists for the key.
var ErrNotFound = errors.New("state file not found")

// Store reads and writes epoch-scoped state files under a single directory.
type Store struct {
	dir   string
	epoch uint64
}

func New(dir string, epoch uint64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &Store{dir: dir, epoch: epoch}, nil
}

// Path returns the on-disk path for a key, e.g. "txs" for epoch 5 maps to
// <dir>/txs_epoch-5.json. Exposed so the CLI can point operators at the
// unsigned funding transaction.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_epoch-%d.json", key, s.epoch))
}

// Read returns the contents for key, or ErrNotFound if the file is absent.
// Any other failure (permissions, truncated read) is returned as-is so the
// caller can distinguish "never started" from "state exists but unreadable".
func (s *Store) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", s.Path(key), err)
	}
	return data, nil
}

// Write atomically replaces the contents for key. The temp file lives in the
// same directory so the rename never crosses filesystems.
func (s *Store) Write(key string, data []byte) error {
	path := s.Path(key)

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp state file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp state file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file for %s: %w", path, err)
	}

	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp state file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file %s: %w", path, err)
	}
	return nil
}

// DistributionStarted reports whether any state files exist for the epoch,
// which means a distribution was started and must be recovered rather than
// restarted from scratch.
func (s *Store) DistributionStarted() (bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return false, fmt.Errorf("failed to read data directory %s: %w", s.dir, err)
	}

	suffix := fmt.Sprintf("_epoch-%d.json", s.epoch)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			return true, nil
		}
	}
	return false, nil
}
