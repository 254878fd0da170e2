package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ReplaceError reports a staged file that could not be moved over its
// target. The staged copy has already been removed.
type ReplaceError struct {
	Path   string
	Staged string
	Err    error
}

func (e *ReplaceError) Error() string {
	return fmt.Sprintf("replace %s: %v", e.Path, e.Err)
}

func (e *ReplaceError) Unwrap() error { return e.Err }

// ReplaceFile writes data to path so that readers see either the old
// content or all of the new content. The data is staged in a hidden file
// next to path, flushed, then moved over path. Missing parent directories
// are created.
func ReplaceFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	staged, err := stage(dir, "."+filepath.Base(path)+".*", data, perm)
	if err != nil {
		return err
	}
	if err := replace(staged, path); err != nil {
		discard(staged)
		return &ReplaceError{Path: path, Staged: staged, Err: err}
	}
	return syncDir(dir)
}

// stage writes data to a new temporary file in dir and returns its name.
func stage(dir, pattern string, data []byte, perm os.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("stage in %s: %w", dir, err)
	}
	name := f.Name()
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(name, perm)
	}
	if err != nil {
		discard(name)
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	return name, nil
}

func discard(name string) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		slog.Warn("leftover staged file", "path", name, "error", err)
	}
}
