package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State is a municipality's position in the run
type State string

const (
	Pending   State = "PENDING"
	Loading   State = "LOADING"
	Geocoding State = "GEOCODING"
	Matching  State = "MATCHING"
	Writing   State = "WRITING"
	Verified  State = "VERIFIED"
	Done      State = "DONE"
	Failed    State = "FAILED"
	Skipped   State = "SKIPPED"
)

// Terminal reports whether no further stage runs in this pass
func (s State) Terminal() bool {
	return s == Done || s == Failed || s == Skipped
}

// Status is one municipality's entry in the checkpoint
type Status struct {
	Name    string    `json:"name"`
	State   State     `json:"state"`
	Reason  string    `json:"reason,omitempty"`
	Rows    int       `json:"rows,omitempty"`
	Updated time.Time `json:"updated"`
}

// Checkpoint is the resumable progress of a run
type Checkpoint struct {
	RunID          string    `json:"run_id"`
	Started        time.Time `json:"started"`
	Updated        time.Time `json:"updated"`
	Municipalities []Status  `json:"municipalities"`
}

// LoadCheckpoint reads path; a missing file returns nil and no error
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// Save writes the checkpoint through a temporary file and a rename, so a
// crash leaves either the old or the new checkpoint
func (c *Checkpoint) Save(path string, now time.Time) error {
	c.Updated = now
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Discard removes the checkpoint file
func Discard(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard checkpoint: %w", err)
	}
	return nil
}

// status returns the entry for name, if any
func (c *Checkpoint) status(name string) (Status, bool) {
	for _, s := range c.Municipalities {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Status{}, false
}
