package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps encoded snapshots in process memory. Values are
// stored encoded, so callers never share maps with the backend.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
}

type memoryEntry struct {
	raw     []byte
	savedAt time.Time
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]memoryEntry)}
}

// Save stores a copy of snap.
func (b *MemoryBackend) Save(_ context.Context, snap *Snapshot) error {
	raw, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.data[snap.Key] = memoryEntry{raw: raw, savedAt: snap.SavedAt}
	b.mu.Unlock()
	return nil
}

// Load decodes a fresh copy of the stored snapshot.
func (b *MemoryBackend) Load(_ context.Context, key string) (*Snapshot, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	b.mu.RLock()
	e, ok := b.data[key]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return unmarshalSnapshot(e.raw)
}

// List describes the stored snapshots.
func (b *MemoryBackend) List(_ context.Context) ([]Info, error) {
	b.mu.RLock()
	out := make([]Info, 0, len(b.data))
	for k, e := range b.data {
		out = append(out, Info{Key: k, Size: int64(len(e.raw)), SavedAt: e.savedAt})
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Delete removes a snapshot.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	b.mu.Lock()
	delete(b.data, key)
	b.mu.Unlock()
	return nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
