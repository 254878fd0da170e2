package engine

import (
	"fmt"
	"time"

	"github.com/joeycumines/ticktree/internal/tree"
)

// Clock supplies wall-clock time to Delay, Wait and Timeout nodes and to
// leaf actions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// EventType classifies node lifecycle events.
type EventType uint8

const (
	// EventStarted is emitted when a node receives the cursor from idle.
	EventStarted EventType = iota + 1
	EventSucceeded
	EventFailed
	// EventHalted is emitted for running nodes reset from outside their own
	// evaluator: by a short-circuiting ancestor, Halt or Despawn.
	EventHalted
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "success"
	case EventFailed:
		return "failure"
	case EventHalted:
		return "halted"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

// Event describes one node lifecycle transition.
type Event struct {
	// Tick is the tick during which the transition was applied. Transitions
	// made by Start, Halt and Despawn carry the most recent tick number.
	Tick uint64
	Type EventType
	Node tree.NodeID
	Root tree.NodeID
	Kind tree.Kind
	Name string
	// Err is set for failures caused by an error rather than a domain result.
	Err error
}

// TickStats summarizes one call to World.Tick.
type TickStats struct {
	Tick       uint64
	Propagated int
	Evaluated  int
	Applied    int
	Dropped    int
	Duration   time.Duration
}

// Observer receives events synchronously on the ticking goroutine.
type Observer interface {
	NodeEvent(ev Event)
	TickDone(stats TickStats)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	Node func(ev Event)
	Tick func(stats TickStats)
}

// NodeEvent implements Observer.
func (o ObserverFuncs) NodeEvent(ev Event) {
	if o.Node != nil {
		o.Node(ev)
	}
}

// TickDone implements Observer.
func (o ObserverFuncs) TickDone(stats TickStats) {
	if o.Tick != nil {
		o.Tick(stats)
	}
}
