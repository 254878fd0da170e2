// Package config reads and writes the ticktree config file.
//
// The file is line based. Each entry is "key value", where the value runs to
// the end of the line. Lines starting with # are comments. A "[command]"
// header starts a section whose entries apply to that command only and
// shadow the global entry of the same key. Values are checked against
// DefaultSchema as they are read, and problems become warnings rather than
// errors so that a stale option never stops the tool from starting.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"unicode"
)

// Config is a parsed config file.
type Config struct {
	Global map[string]string
	// Commands holds the [section] entries by section name.
	Commands map[string]map[string]string
	// Warnings lists the problems found while parsing, by line.
	Warnings []string
}

// NewConfig returns an empty config.
func NewConfig() *Config {
	return &Config{
		Global:   map[string]string{},
		Commands: map[string]map[string]string{},
	}
}

// Get returns the entry for key as written in the file. Inside a section,
// the global entry is the fallback.
func (c *Config) Get(section, key string) (string, bool) {
	if section != "" {
		if v, ok := c.Commands[section][key]; ok {
			return v, true
		}
	}
	v, ok := c.Global[key]
	return v, ok
}

// Set stores an entry in memory. See SetOption to persist one.
func (c *Config) Set(section, key, value string) {
	if section == "" {
		c.Global[key] = value
		return
	}
	if c.Commands[section] == nil {
		c.Commands[section] = map[string]string{}
	}
	c.Commands[section][key] = value
}

// LoadFromPath reads the config file at path. A missing file is an empty
// config. Symlinks are refused.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a config file from r.
func Parse(r io.Reader) (*Config, error) {
	c := NewConfig()
	schema := DefaultSchema()
	seen := map[string]int{}
	section := ""

	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if name, ok := sectionHeader(line); ok {
			section = name
			if section != "" && c.Commands[section] == nil {
				c.Commands[section] = map[string]string{}
			}
			continue
		}
		key, value := splitEntry(line)
		name := qualify(section, key)
		if prev, ok := seen[name]; ok {
			c.warn("line %d: %s repeats line %d", n, name, prev)
		}
		seen[name] = n
		if err := schema.CheckEntry(section, key, value); err != nil {
			c.warn("line %d: %v", n, err)
		}
		c.Set(section, key, value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return c, nil
}

func (c *Config) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("config", "problem", msg)
}

// sectionHeader reports whether line is a "[name]" header. "[]" returns to
// the global section.
func sectionHeader(line string) (string, bool) {
	if len(line) < 2 || line[0] != '[' || line[len(line)-1] != ']' {
		return "", false
	}
	return strings.TrimSpace(line[1 : len(line)-1]), true
}

// splitEntry splits a trimmed line at its first whitespace.
func splitEntry(line string) (key, value string) {
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i:])
}

// ParseBool parses true/1/yes/on and false/0/no/off.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}
