package cloud

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kwv/icpstep/registration"
)

// Snapshot is the reporting view of a session persisted after each step.
type Snapshot struct {
	SessionID        string                         `json:"sessionId"`
	Steps            int                            `json:"steps"`
	Iterations       uint                           `json:"iterations"`
	State            registration.State             `json:"state"`
	Fitness          float64                        `json:"fitness"`
	InitialTransform registration.RigidTransform    `json:"initialTransform"`
	Transform        registration.RigidTransform    `json:"transform"`
	History          []registration.IterationReport `json:"history"`
	SavedAt          time.Time                      `json:"savedAt"`
}

// SaveSnapshot writes the snapshot as indented JSON, creating the directory
// if needed.
func SaveSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal session snapshot: %w", err)
	}
	return &snap, nil
}
