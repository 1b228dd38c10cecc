// internal/nvstore/nvstore.go
package nvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is the non-volatile key/value bootstrap partition, backed by a
// YAML file. A corrupt partition is erased and reinitialized at open, so
// boot always succeeds with at worst empty state.
type Store struct {
	mu   sync.Mutex
	path string
	m    map[string]string
}

// Open loads (or creates) the partition at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path, m: make(map[string]string)}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create nvstore dir: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, s.flushLocked()
	case err != nil:
		return nil, fmt.Errorf("read nvstore: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.m); err != nil || s.m == nil {
		// Corrupt partition: erase and reinitialize.
		s.m = make(map[string]string)
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns the value for key, or empty.
func (s *Store) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key]
}

// Set stores key=value and persists.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return s.flushLocked()
}

// BumpCounter increments the integer under key and persists, returning
// the new value. A missing or unparsable value counts from zero.
func (s *Store) BumpCounter(key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := strconv.ParseUint(s.m[key], 10, 64)
	n++
	s.m[key] = strconv.FormatUint(n, 10)
	return n, s.flushLocked()
}

// flushLocked writes the map atomically via a rename.
func (s *Store) flushLocked() error {
	data, err := yaml.Marshal(s.m)
	if err != nil {
		return fmt.Errorf("marshal nvstore: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write nvstore: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit nvstore: %w", err)
	}
	return nil
}
