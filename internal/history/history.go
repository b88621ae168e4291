// Package history remembers which workspaces deploy-reloaded has been
// used in, so the CLI can offer them again when started somewhere else.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	dirName  = ".deploy-reloaded"
	fileName = "workspaces.json"
)

// Entry is one remembered workspace.
type Entry struct {
	Path     string    `json:"path"`
	LastUsed time.Time `json:"last_used"`
}

type store struct {
	Workspaces []Entry `json:"workspaces"`
}

// FilePath returns the history file location under the user's home
// directory.
func FilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, dirName, fileName)
}

func load() (*store, error) {
	path := FilePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &store{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace history: %w", err)
	}
	var s store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse workspace history: %w", err)
	}
	return &s, nil
}

func (s *store) save() error {
	path := FilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workspace history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workspace history: %w", err)
	}
	return nil
}

// Touch records a workspace visit. The path is added on first use and
// its timestamp refreshed on every later one.
func Touch(path string) error {
	s, err := load()
	if err != nil {
		return err
	}
	for i := range s.Workspaces {
		if s.Workspaces[i].Path == path {
			s.Workspaces[i].LastUsed = time.Now()
			return s.save()
		}
	}
	s.Workspaces = append(s.Workspaces, Entry{Path: path, LastUsed: time.Now()})
	return s.save()
}

// Remove forgets a workspace.
func Remove(path string) error {
	s, err := load()
	if err != nil {
		return err
	}
	kept := s.Workspaces[:0]
	for _, e := range s.Workspaces {
		if e.Path != path {
			kept = append(kept, e)
		}
	}
	s.Workspaces = kept
	return s.save()
}

// Recent returns all remembered workspace paths, most recently used
// first.
func Recent() []string {
	s, err := load()
	if err != nil {
		return nil
	}
	sort.Slice(s.Workspaces, func(i, j int) bool {
		return s.Workspaces[i].LastUsed.After(s.Workspaces[j].LastUsed)
	})

	var paths []string
	for _, e := range s.Workspaces {
		paths = append(paths, e.Path)
	}
	return paths
}

// Search returns remembered paths containing the query, matched
// case-insensitively, in most recently used order.
func Search(query string) []string {
	q := strings.ToLower(query)
	var hits []string
	for _, p := range Recent() {
		if strings.Contains(strings.ToLower(p), q) {
			hits = append(hits, p)
		}
	}
	return hits
}
