package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/joeycumines/ticktree/internal/document"
	"github.com/joeycumines/ticktree/internal/tree"
)

type op uint8

const (
	opComplete op = iota + 1
	opDelegate
	opFork
	opYield
	opShortCircuit
	opGraft
)

// command is a deferred Phase C write.
type command struct {
	op     op
	node   tree.NodeID
	child  tree.NodeID
	status tree.Status
	doc    *document.Document
	err    error
}

// Tick runs one pass of the tick protocol over every tree in the world.
func (w *World) Tick() TickStats {
	begin := time.Now()
	w.tick++
	stats := TickStats{Tick: w.tick}

	// Phase A.
	for _, n := range w.store.All() {
		n.Started = false
	}

	// Phase B.
	for _, n := range w.store.All() {
		if !n.Completing() {
			continue
		}
		n.Cursor = false
		stats.Propagated++
		if p := w.store.Node(n.Parent); p != nil && p.Status == tree.Running {
			p.Cursor = true
		}
	}

	// Phase C.
	var active []tree.NodeID
	for id, n := range w.store.All() {
		if n.Active() {
			active = append(active, id)
		}
	}
	w.cmds = w.cmds[:0]
	for _, id := range active {
		w.evaluate(id)
		stats.Evaluated++
	}
	for i := range w.cmds {
		if w.apply(&w.cmds[i]) {
			stats.Applied++
		} else {
			stats.Dropped++
		}
	}
	clear(w.cmds)
	w.cmds = w.cmds[:0]

	stats.Duration = time.Since(begin)
	for _, o := range w.observer {
		o.TickDone(stats)
	}
	return stats
}

// evaluate runs the evaluator for id. A panic discards whatever the
// evaluator queued and fails the node.
func (w *World) evaluate(id tree.NodeID) {
	n := w.store.Node(id)
	mark := len(w.cmds)
	e := &eval{w: w, id: id, n: n, fresh: n.Fresh()}
	defer func() {
		n.MarkEvaluated()
		if r := recover(); r != nil {
			w.cmds = w.cmds[:mark]
			err := fmt.Errorf("panic in %s evaluator: %v", n.Kind, r)
			w.logger.Error("recovered evaluator panic",
				"node", id, "name", n.Name, "kind", n.Kind.String(), "error", err, "stack", string(debug.Stack()))
			e.fail(err)
		}
	}()
	evaluatorFor(n.Kind)(e)
}

// apply executes one command, returning false if it was dropped because the
// node it targets is no longer in a state where it applies.
func (w *World) apply(c *command) bool {
	n := w.store.Node(c.node)
	if n == nil {
		return false
	}
	switch c.op {
	case opComplete:
		if !n.Active() {
			return false
		}
		w.complete(c.node, n, c.status, c.err)

	case opDelegate, opFork:
		if n.Status != tree.Running {
			return false
		}
		child := w.store.Node(c.child)
		if child == nil || child.Parent != c.node {
			return false
		}
		w.start(c.child)
		if c.op == opDelegate {
			n.Cursor = false
		}

	case opYield:
		if n.Status != tree.Running {
			return false
		}
		n.Cursor = false

	case opShortCircuit:
		if !n.Active() {
			return false
		}
		w.haltDescendants(c.node)
		w.complete(c.node, n, c.status, c.err)

	case opGraft:
		if !n.Active() {
			return false
		}
		id, err := w.Graft(c.node, c.doc.Root)
		if err != nil {
			w.logger.Error("subtree graft failed", "node", c.node, "name", n.Name, "error", err)
			w.complete(c.node, n, tree.Failure, err)
			return true
		}
		w.seedBlackboard(c.node, c.doc)
		w.start(id)
		n.Cursor = false

	default:
		return false
	}
	return true
}

func (w *World) complete(id tree.NodeID, n *tree.Node, status tree.Status, err error) {
	n.Status = status
	if p, ok := n.Payload.(*sequencerPayload); ok && p.random {
		p.seed = w.rng.Uint64()
	}
	typ := EventSucceeded
	if status == tree.Failure {
		typ = EventFailed
	}
	w.emit(Event{Type: typ, Node: id, Root: n.Root, Kind: n.Kind, Name: n.Name, Err: err})
	if n.Parent == tree.None {
		w.logger.Debug("tree completed", "root", id, "name", n.Name, "status", status.String(), "tick", w.tick)
	}
}

func (w *World) haltDescendants(id tree.NodeID) {
	n := w.store.Node(id)
	for _, c := range n.Children {
		w.halt(c)
	}
}

// seedBlackboard copies a grafted document's blackboard entries that the
// tree does not define yet.
func (w *World) seedBlackboard(node tree.NodeID, doc *document.Document) {
	scope := w.Scope(node)
	if scope == nil {
		return
	}
	for k, v := range doc.Blackboard {
		if !scope.Blackboard.Has(k) {
			scope.Blackboard.Set(k, v)
		}
	}
}
