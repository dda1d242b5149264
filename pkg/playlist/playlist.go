// Package playlist keeps one playlist per genre in a JSON file.
package playlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Playlists maps a genre to the filenames classified as that genre.
type Playlists map[string][]string

// Store is a file-backed playlist ledger. Writes are serialized so
// concurrent uploads never lose entries.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a Store backed by the JSON file at path. The file and its
// directory are created when missing.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.save(Playlists{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends filename to the playlist for genre unless it is already there.
// It returns the playlist ID, which is the genre name.
func (s *Store) Add(filename, genre string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load()
	if err != nil {
		return "", err
	}

	name := filepath.Base(filename)
	if !slices.Contains(p[genre], name) {
		p[genre] = append(p[genre], name)
	}

	if err := s.save(p); err != nil {
		return "", err
	}
	return genre, nil
}

// All returns every playlist.
func (s *Store) All() (Playlists, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the songs in one playlist. An unknown genre is an empty list.
func (s *Store) Get(genre string) ([]string, error) {
	p, err := s.All()
	if err != nil {
		return nil, err
	}
	if songs, ok := p[genre]; ok {
		return songs, nil
	}
	return []string{}, nil
}

func (s *Store) load() (Playlists, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Playlists{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read playlists: %w", err)
	}

	p := Playlists{}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse playlists %s: %w", s.path, err)
	}
	// A literal null decodes to a nil map.
	if p == nil {
		p = Playlists{}
	}
	return p, nil
}

// save writes through a temp file so a crash never leaves a torn ledger.
func (s *Store) save(p Playlists) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write playlists: %w", err)
	}
	return os.Rename(tmp, s.path)
}
