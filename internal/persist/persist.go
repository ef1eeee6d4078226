// Package persist manages the on-disk configuration cache: one JSON file
// in a caller-supplied directory, read at startup before any network I/O
// and rewritten after every successful fetch.
package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileName is the fixed name of the cache file inside the configured
// directory.
const FileName = "appconfiguration.json"

// Store reads and writes the persistent cache file.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the full path of the cache file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Read returns the cached payload bytes. A missing file means "no cached
// data yet" and returns (nil, nil); only actual I/O failures are errors.
func (s *Store) Read() ([]byte, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read persistent cache: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Write replaces the cache file. The write goes through a temp file and
// rename so a crash mid-write never leaves a truncated cache behind.
func (s *Store) Write(data []byte) error {
	tmp, err := os.CreateTemp(s.dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write persistent cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace persistent cache: %w", err)
	}
	return nil
}

// Delete removes the cache file. Deleting an absent file is not an error.
func (s *Store) Delete() error {
	err := os.Remove(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// CheckWritable verifies the directory exists and accepts writes, by
// creating and removing a probe file. Called once at setup so a
// misconfigured directory surfaces immediately instead of on the first
// fetch.
func (s *Store) CheckWritable() error {
	probe, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("persistent cache directory is not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
