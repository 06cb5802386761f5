package notifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// alertState is the on-disk form of the Alerter's active rules.
type alertState struct {
	Active    map[string]bool `json:"active"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LoadState reads active rule flags from a JSON file. A missing file yields an empty state.
func LoadState(filePath string) (map[string]bool, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	var st alertState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode alert state: %w", err)
	}
	if st.Active == nil {
		st.Active = map[string]bool{}
	}
	return st.Active, nil
}

// SaveState writes active rule flags to a JSON file, replacing it atomically.
func SaveState(filePath string, active map[string]bool) error {
	data, err := json.MarshalIndent(alertState{Active: active, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}

// Restore loads the rule state from filePath and makes Save write back to it.
func (a *Alerter) Restore(filePath string) error {
	active, err := LoadState(filePath)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.path = filePath
	a.active = active
	return nil
}

// Save persists the rule state. It is a no-op until Restore has been called.
func (a *Alerter) Save() error {
	a.mu.Lock()
	if a.path == "" {
		a.mu.Unlock()
		return nil
	}
	path := a.path
	active := make(map[string]bool, len(a.active))
	for k, v := range a.active {
		active[k] = v
	}
	a.mu.Unlock()
	return SaveState(path, active)
}
