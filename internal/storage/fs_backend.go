package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const snapshotExt = ".snapshot.json"

// FileSystemBackend stores one JSON file per snapshot in a directory. It
// holds an exclusive lock on the directory until closed, so two processes
// never checkpoint into the same place.
type FileSystemBackend struct {
	dir  string
	lock *dirLock
}

// NewFileSystemBackend creates dir if needed and locks it.
func NewFileSystemBackend(dir string) (*FileSystemBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}
	return &FileSystemBackend{dir: dir, lock: lock}, nil
}

// Dir returns the snapshot directory.
func (b *FileSystemBackend) Dir() string { return b.dir }

func (b *FileSystemBackend) path(key string) string {
	return filepath.Join(b.dir, url.PathEscape(key)+snapshotExt)
}

// Save atomically writes the snapshot file.
func (b *FileSystemBackend) Save(_ context.Context, snap *Snapshot) error {
	if b.lock == nil {
		return os.ErrClosed
	}
	data, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}
	if err := ReplaceFile(b.path(snap.Key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return nil
}

// Load reads a snapshot file.
func (b *FileSystemBackend) Load(_ context.Context, key string) (*Snapshot, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return unmarshalSnapshot(data)
}

// List scans the directory for snapshot files.
func (b *FileSystemBackend) List(_ context.Context) ([]Info, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, err
	}

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, snapshotExt))
		if err != nil {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Key: key, Size: fi.Size(), SavedAt: fi.ModTime()})
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Delete removes a snapshot file.
func (b *FileSystemBackend) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}
	return nil
}

// Close releases the directory lock.
func (b *FileSystemBackend) Close() error {
	if b.lock == nil {
		return nil
	}
	err := b.lock.release()
	b.lock = nil
	if err != nil {
		return fmt.Errorf("failed to release snapshot lock: %w", err)
	}
	return nil
}

var _ Backend = (*FileSystemBackend)(nil)
