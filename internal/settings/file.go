package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// fileDoc is the on-disk layout of a [FileStore].
type fileDoc struct {
	Levels map[string]float64 `yaml:"levels"`
}

// FileStore keeps levels in a YAML file. Every Save rewrites the file through
// a temporary sibling and a rename so a crash never leaves a torn document.
type FileStore struct {
	path string

	mu     sync.Mutex
	levels map[string]float64
}

var _ Store = (*FileStore)(nil)

// OpenFileStore reads path if it exists. A missing file yields an empty store;
// it is created on the first Save.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, levels: make(map[string]float64)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: open %q: %w", path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("settings: parse %q: %w", path, err)
	}
	for g, v := range doc.Levels {
		if err := checkLevel(g, v); err != nil {
			return nil, fmt.Errorf("settings: parse %q: %w", path, err)
		}
		s.levels[g] = v
	}
	return s, nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string { return s.path }

// Load implements [Store].
func (s *FileStore) Load(_ context.Context, group string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.levels[group]
	return v, ok, nil
}

// Save implements [Store].
func (s *FileStore) Save(_ context.Context, group string, level float64) error {
	if err := checkLevel(group, level); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.levels[group]
	s.levels[group] = level
	if err := s.flush(); err != nil {
		if had {
			s.levels[group] = prev
		} else {
			delete(s.levels, group)
		}
		return err
	}
	return nil
}

// All implements [Store].
func (s *FileStore) All(context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.levels), nil
}

// Ping implements [Store]. It checks that the directory holding the file is
// still present.
func (s *FileStore) Ping(context.Context) error {
	dir := filepath.Dir(s.path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("settings: ping: %w", err)
	}
	return nil
}

// flush writes the current levels. Callers hold s.mu.
func (s *FileStore) flush() error {
	data, err := yaml.Marshal(fileDoc{Levels: s.levels})
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".levels-*.yaml")
	if err != nil {
		return fmt.Errorf("settings: write %q: %w", s.path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: write %q: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: write %q: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: write %q: %w", s.path, err)
	}
	return nil
}
