// Package telemetry observes worlds: a trace recorder for tests and the CLI,
// a Prometheus collector, and a structured logging observer.
package telemetry

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/tree"
)

// Recorder keeps every event and tick summary it observes.
type Recorder struct {
	mu     sync.Mutex
	events []engine.Event
	ticks  []engine.TickStats
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// NodeEvent implements engine.Observer.
func (r *Recorder) NodeEvent(ev engine.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// TickDone implements engine.Observer.
func (r *Recorder) TickDone(stats engine.TickStats) {
	r.mu.Lock()
	r.ticks = append(r.ticks, stats)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Ticks returns a copy of the recorded tick summaries.
func (r *Recorder) Ticks() []engine.TickStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ticks)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events, r.ticks = nil, nil
	r.mu.Unlock()
}

// Named returns the events of nodes called name.
func (r *Recorder) Named(name string) []engine.Event {
	return r.Filter(func(ev engine.Event) bool { return ev.Name == name })
}

// Filter returns the events matching keep.
func (r *Recorder) Filter(keep func(engine.Event) bool) []engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []engine.Event
	for _, ev := range r.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of type typ were recorded for name.
func (r *Recorder) Count(name string, typ engine.EventType) int {
	return len(r.Filter(func(ev engine.Event) bool { return ev.Name == name && ev.Type == typ }))
}

// First returns the tick of the first event of type typ for name.
func (r *Recorder) First(name string, typ engine.EventType) (uint64, bool) {
	evs := r.Filter(func(ev engine.Event) bool { return ev.Name == name && ev.Type == typ })
	if len(evs) == 0 {
		return 0, false
	}
	return evs[0].Tick, true
}

// Lines renders the trace as "<tick> <name> <event>" lines, one per event,
// sorted by tick and then by name within a tick. Sorting within a tick
// makes traces comparable regardless of sibling evaluation order.
func (r *Recorder) Lines() []string {
	evs := r.Events()
	slices.SortStableFunc(evs, func(a, b engine.Event) int {
		return cmp.Or(cmp.Compare(a.Tick, b.Tick), cmp.Compare(a.Name, b.Name))
	})
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = fmt.Sprintf("%d %s %s", ev.Tick, ev.Name, ev.Type)
	}
	return out
}

// Outcome returns the last completion recorded for node, or Idle.
func (r *Recorder) Outcome(node tree.NodeID) tree.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		ev := r.events[i]
		if ev.Node != node {
			continue
		}
		switch ev.Type {
		case engine.EventSucceeded:
			return tree.Success
		case engine.EventFailed:
			return tree.Failure
		}
	}
	return tree.Idle
}
