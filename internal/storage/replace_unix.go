//go:build !windows

package storage

import "os"

func replace(from, to string) error { return os.Rename(from, to) }

// syncDir flushes dir so that a rename into it survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
