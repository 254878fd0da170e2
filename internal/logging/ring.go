package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Entry is a log record retained by a Ring.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Ring is an slog.Handler keeping the most recent records in memory, for
// the status server's log endpoint.
type Ring struct {
	level slog.Leveler
	store *ringStore
	// attrs carry keys already qualified by the group they were added under.
	attrs []slog.Attr
	group string
}

type ringStore struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewRing returns a handler keeping up to size records at or above level.
func NewRing(size int, level slog.Leveler) *Ring {
	if size <= 0 {
		size = 1000
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &Ring{level: level, store: &ringStore{entries: make([]Entry, size)}}
}

// Enabled implements slog.Handler.
func (h *Ring) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level.Level() }

// Handle implements slog.Handler.
func (h *Ring) Handle(_ context.Context, r slog.Record) error {
	e := Entry{Time: r.Time, Level: r.Level.String(), Message: r.Message}
	if n := len(h.attrs) + r.NumAttrs(); n > 0 {
		e.Attrs = make(map[string]string, n)
		for _, a := range h.attrs {
			e.Attrs[a.Key] = a.Value.String()
		}
		r.Attrs(func(a slog.Attr) bool {
			e.Attrs[h.key(a.Key)] = a.Value.String()
			return true
		})
	}
	s := h.store
	s.mu.Lock()
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()
	return nil
}

func (h *Ring) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// WithAttrs implements slog.Handler.
func (h *Ring) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = slices.Clip(h.attrs)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &c
}

// WithGroup implements slog.Handler.
func (h *Ring) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.group = h.key(name)
	return &c
}

// Recent returns up to n entries, oldest first. n <= 0 returns everything.
func (h *Ring) Recent(n int) []Entry {
	s := h.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	if s.full {
		out = append(out, s.entries[s.next:]...)
	}
	out = append(out, s.entries[:s.next]...)
	if n > 0 && n < len(out) {
		out = out[len(out)-n:]
	}
	return out
}

// Search returns entries whose message or attributes contain query, case
// insensitively.
func (h *Ring) Search(query string) []Entry {
	query = strings.ToLower(query)
	var out []Entry
	for _, e := range h.Recent(0) {
		if strings.Contains(strings.ToLower(e.Message), query) {
			out = append(out, e)
			continue
		}
		for k, v := range e.Attrs {
			if strings.Contains(strings.ToLower(k), query) || strings.Contains(strings.ToLower(v), query) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
