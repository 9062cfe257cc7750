package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"
)

// MonitoringState is persisted across restarts so the bot knows whether
// it was monitoring before it went down.
type MonitoringState struct {
	IsMonitoring bool       `json:"is_monitoring"`
	StartTime    *time.Time `json:"start_time"`
	LastUpdated  time.Time  `json:"last_updated"`
}

// StateFile stores MonitoringState as JSON on disk. States older than
// maxAge are treated as stale and reset on load.
type StateFile struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
}

// NewStateFile creates the store. maxAge <= 0 disables staleness checks.
func NewStateFile(path string, maxAge time.Duration) *StateFile {
	return &StateFile{path: path, maxAge: maxAge, now: time.Now}
}

// WithNow overrides the clock. Used by tests.
func (s *StateFile) WithNow(now func() time.Time) *StateFile {
	s.now = now
	return s
}

// Load reads the persisted state. A missing file yields the zero state.
// A stale monitoring flag is reset so a long-dead process does not
// resurrect with a claim it cannot back.
func (s *StateFile) Load() (MonitoringState, error) {
	var state MonitoringState

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("[StateFile] Corrupt state file %s, starting fresh: %v", s.path, err)
		return MonitoringState{}, nil
	}

	if s.maxAge > 0 && state.IsMonitoring && state.StartTime != nil {
		if s.now().Sub(*state.StartTime) > s.maxAge {
			log.Printf("[StateFile] Monitoring state older than %v, resetting", s.maxAge)
			state.IsMonitoring = false
			state.StartTime = nil
			state.LastUpdated = s.now().UTC()
			if err := s.write(state); err != nil {
				return state, err
			}
		}
	}
	return state, nil
}

// Save persists the monitoring flag with the current timestamp.
func (s *StateFile) Save(isMonitoring bool, startTime *time.Time) error {
	return s.write(MonitoringState{
		IsMonitoring: isMonitoring,
		StartTime:    startTime,
		LastUpdated:  s.now().UTC(),
	})
}

func (s *StateFile) write(state MonitoringState) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
