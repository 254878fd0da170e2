package storage

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Cleaner enforces retention policies for stored snapshots.
type Cleaner struct {
	// MaxAge removes snapshots saved longer ago than this. Zero disables it.
	MaxAge time.Duration
	// MaxCount keeps only the newest snapshots. Zero disables it.
	MaxCount int
	// DryRun reports what would be removed without deleting anything.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// CleanupReport summarizes what was removed and what was skipped.
type CleanupReport struct {
	Removed []string
	Skipped []string
}

// ExecuteCleanup applies the policy to b. Keys in exclude are never removed.
func (c *Cleaner) ExecuteCleanup(ctx context.Context, b Backend, exclude ...string) (*CleanupReport, error) {
	infos, err := b.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	var (
		report     CleanupReport
		candidates []Info
	)
	for _, info := range infos {
		if slices.Contains(exclude, info.Key) {
			report.Skipped = append(report.Skipped, info.Key)
			continue
		}
		candidates = append(candidates, info)
	}

	remove := make(map[string]bool)
	if c.MaxAge > 0 {
		cutoff := now().Add(-c.MaxAge)
		for _, info := range candidates {
			if info.SavedAt.Before(cutoff) {
				remove[info.Key] = true
			}
		}
	}
	if c.MaxCount > 0 && len(candidates) > c.MaxCount {
		// Newest first.
		slices.SortStableFunc(candidates, func(a, b Info) int { return b.SavedAt.Compare(a.SavedAt) })
		for _, info := range candidates[c.MaxCount:] {
			remove[info.Key] = true
		}
	}

	for _, info := range infos {
		if !remove[info.Key] {
			continue
		}
		if !c.DryRun {
			if err := b.Delete(ctx, info.Key); err != nil {
				return &report, fmt.Errorf("remove %s: %w", info.Key, err)
			}
		}
		report.Removed = append(report.Removed, info.Key)
	}
	return &report, nil
}
