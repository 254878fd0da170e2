// Package storage persists blackboard snapshots, so that a long-running
// world can be checkpointed and a later run can resume from the saved
// blackboards. Backends exist for the local file system, process memory and
// Redis.
package storage

import (
	"time"
)

// CurrentSchemaVersion is written into every snapshot.
const CurrentSchemaVersion = "1"

// Snapshot is the persisted state of one tree: its blackboard plus enough
// metadata to tell where it came from.
type Snapshot struct {
	Version    string         `json:"version"`
	Key        string         `json:"key"`        // Tree name, unique per backend.
	World      string         `json:"world"`      // World ID the snapshot was taken from.
	Scope      string         `json:"scope"`      // Scope ID of the tree.
	Tick       uint64         `json:"tick"`       // World tick at capture time.
	Status     string         `json:"status"`     // Root status at capture time.
	SavedAt    time.Time      `json:"saved_at"`
	Blackboard map[string]any `json:"blackboard"`
	// Skipped lists blackboard keys whose values could not be encoded.
	Skipped []string `json:"skipped,omitempty"`
}

// Info is lightweight metadata about a stored snapshot.
type Info struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	SavedAt time.Time `json:"savedAt"`
}
