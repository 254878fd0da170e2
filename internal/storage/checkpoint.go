package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/tree"
)

// Key returns the snapshot key of a spawned tree: its scope name, or a
// positional name for anonymous trees.
func Key(w *engine.World, root tree.NodeID) string {
	if scope := w.Scope(root); scope != nil && scope.Name != "" {
		return scope.Name
	}
	return fmt.Sprintf("tree-%d", root)
}

// Capture snapshots the blackboard of the tree rooted at root. Values that
// cannot be encoded as JSON are left out and listed in Skipped.
func Capture(w *engine.World, root tree.NodeID, now time.Time) (*Snapshot, error) {
	scope := w.Scope(root)
	if scope == nil {
		return nil, fmt.Errorf("%w: %d", engine.ErrNotSpawned, root)
	}
	snap := &Snapshot{
		Version:    CurrentSchemaVersion,
		Key:        Key(w, root),
		World:      w.ID().String(),
		Scope:      scope.ID.String(),
		Tick:       w.Ticks(),
		Status:     w.Status(root).String(),
		SavedAt:    now,
		Blackboard: make(map[string]any),
	}
	for k, v := range scope.Blackboard.Snapshot() {
		if _, err := json.Marshal(v); err != nil {
			snap.Skipped = append(snap.Skipped, k)
			continue
		}
		snap.Blackboard[k] = v
	}
	slices.Sort(snap.Skipped)
	return snap, nil
}

// Checkpoint returns a function that saves every spawned tree of a world
// into b. It matches runner.Checkpoint.
func Checkpoint(b Backend, now func() time.Time) func(ctx context.Context, w *engine.World) error {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, w *engine.World) error {
		var errs []error
		for _, root := range w.Trees() {
			snap, err := Capture(w, root, now())
			if err == nil {
				err = b.Save(ctx, snap)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("checkpoint %s: %w", Key(w, root), err))
			}
		}
		return errors.Join(errs...)
	}
}

// Restore copies a saved blackboard into the tree rooted at root. It reports
// false when b holds no snapshot for the tree. Saved values replace the
// current ones, keys absent from the snapshot are kept.
func Restore(ctx context.Context, b Backend, w *engine.World, root tree.NodeID) (bool, error) {
	scope := w.Scope(root)
	if scope == nil {
		return false, fmt.Errorf("%w: %d", engine.ErrNotSpawned, root)
	}
	snap, err := b.Load(ctx, Key(w, root))
	if err != nil || snap == nil {
		return false, err
	}
	if snap.Version != CurrentSchemaVersion {
		return false, fmt.Errorf("snapshot %s: unsupported version %q", snap.Key, snap.Version)
	}
	for k, v := range snap.Blackboard {
		scope.Blackboard.Set(k, v)
	}
	return true, nil
}
