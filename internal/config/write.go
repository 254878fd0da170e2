package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joeycumines/ticktree/internal/storage"
)

// SetOption writes "key value" into the config file at path, in section
// ("" for the global entries). An existing entry is replaced in place.
// Otherwise the entry is added after the last entry of its section, and a
// missing section is appended with its header. Comments and every other
// line are kept as they are. The file is replaced atomically.
func SetOption(path, section, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}
	var lines []string
	if len(data) > 0 {
		lines = strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	}

	entry := strings.TrimSpace(key + " " + value)
	switch at, found := locate(lines, section, key); {
	case found:
		lines[at] = entry
	case at < 0:
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, "["+section+"]", entry)
	default:
		lines = slices.Insert(lines, at, entry)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return storage.ReplaceFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// locate returns the line holding key in section and true, or the index a
// new entry belongs at and false. The index is -1 when section has no
// header yet.
func locate(lines []string, section, key string) (int, bool) {
	at := -1
	if section == "" {
		at = 0
	}
	current := ""
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if name, ok := sectionHeader(line); ok {
			current = name
			if current == section {
				at = i + 1
			}
			continue
		}
		if current != section || line == "" || line[0] == '#' {
			continue
		}
		if k, _ := splitEntry(line); k == key {
			return i, true
		}
		at = i + 1
	}
	return at, false
}
