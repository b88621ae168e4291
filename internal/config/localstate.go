package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalState is the per-workspace scratch state kept in
// .deploy_temp/state.json. It remembers the last interactive picks so
// the menu can preselect them next time.
type LocalState struct {
	LastOperation string    `json:"last_operation,omitempty"`
	LastPackage   string    `json:"last_package,omitempty"`
	LastTarget    string    `json:"last_target,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// LocalStatePath returns the path of the state file under root.
func LocalStatePath(root string) string {
	return filepath.Join(root, StateDirName, "state.json")
}

// LoadLocalState reads the state file. A missing file yields an empty
// state, never an error.
func LoadLocalState(root string) (*LocalState, error) {
	path := LocalStatePath(root)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &LocalState{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read local state: %w", err)
	}

	var state LocalState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse local state: %w", err)
	}
	return &state, nil
}

// Save writes the state file, creating the state directory on demand.
func (s *LocalState) Save(root string) error {
	path := LocalStatePath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	s.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode local state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write local state: %w", err)
	}
	return nil
}
