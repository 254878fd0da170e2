// Package engine runs behavior trees: it assembles documents into the node
// store, drives the three-phase tick protocol and evaluates every node type.
//
// # Tick protocol
//
// Every call to World.Tick runs three phases over the whole store.
//
//  1. Clear the Started marker on every node.
//  2. Propagate: every node that holds the cursor and has resolved to
//     Success or Failure gives up the cursor, and its parent receives it if
//     the parent is still running.
//  3. Evaluate: every node holding the cursor while running is evaluated, in
//     ascending NodeID order, against a snapshot taken before the first
//     evaluator runs.
//
// Evaluators never touch other nodes directly. They queue commands
// (succeed, fail, delegate to a child, yield the cursor, short-circuit,
// graft a subtree) which are applied after the last evaluator returns, so an
// evaluator only ever observes state committed by earlier ticks and the
// evaluation order among siblings cannot change the outcome.
//
// Handing the cursor down costs one tick and handing a result up costs
// another. A tree of depth d whose leaves complete on their first
// evaluation therefore finishes on tick 2d+1 after World.Start.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"

	"github.com/joeycumines/ticktree/internal/action"
	"github.com/joeycumines/ticktree/internal/document"
	"github.com/joeycumines/ticktree/internal/property"
	"github.com/joeycumines/ticktree/internal/tree"
)

// ErrNotSpawned is returned for roots that were not created by Spawn, or
// that have been despawned.
var ErrNotSpawned = errors.New("tree not spawned")

// World owns a node store and everything its trees need to run. A World is
// not safe for concurrent use; drive it from one goroutine.
type World struct {
	id       uuid.UUID
	ctx      context.Context
	store    *tree.Store
	clock    Clock
	resolver property.Resolver
	loader   document.Loader
	actions  *action.Registry
	logger   *slog.Logger
	observer []Observer
	seed     uint64
	rng      *rand.Rand

	tick  uint64
	trees map[tree.NodeID]*spawned
	// runs counts starts per node and is the epoch of property requests.
	runs []uint64
	cmds []command
}

type spawned struct {
	name  string
	scope *property.Scope
}

// Option configures a World.
type Option func(*World)

// WithContext sets the context handed to leaf actions.
func WithContext(ctx context.Context) Option { return func(w *World) { w.ctx = ctx } }

// WithClock replaces SystemClock.
func WithClock(c Clock) Option { return func(w *World) { w.clock = c } }

// WithResolver sets the property resolver. The default resolves literals
// only.
func WithResolver(r property.Resolver) Option { return func(w *World) { w.resolver = r } }

// WithLoader sets the document loader used by Subtree nodes.
func WithLoader(l document.Loader) Option { return func(w *World) { w.loader = l } }

// WithActions sets the registry used to build action nodes. The default is
// action.Builtins().
func WithActions(r *action.Registry) Option { return func(w *World) { w.actions = r } }

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(w *World) { w.logger = l } }

// WithObserver adds an observer. Observers are called in the order added.
func WithObserver(o Observer) Option {
	return func(w *World) { w.observer = append(w.observer, o) }
}

// WithSeed seeds the world RNG, which seeds every random Sequencer. The
// same seed and the same leaf behavior reproduce the same trace.
func WithSeed(seed uint64) Option { return func(w *World) { w.seed = seed } }

// New returns an empty World.
func New(opts ...Option) *World {
	w := &World{
		id:       uuid.New(),
		ctx:      context.Background(),
		store:    tree.NewStore(),
		clock:    SystemClock{},
		resolver: property.Static,
		actions:  action.Builtins(),
		trees:    make(map[tree.NodeID]*spawned),
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("world", w.id.String())
	w.rng = rand.New(rand.NewPCG(w.seed, w.seed^0xda3e39cb94b95bdb))
	return w
}

// ID identifies the world in logs and metrics.
func (w *World) ID() uuid.UUID { return w.id }

// Store exposes the node store for inspection. Callers must not mutate it.
func (w *World) Store() *tree.Store { return w.store }

// Ticks returns the number of completed ticks.
func (w *World) Ticks() uint64 { return w.tick }

// Spawn assembles doc as a new tree with its own scope, seeded from the
// document's blackboard. The tree stays idle until Start.
func (w *World) Spawn(doc *document.Document) (tree.NodeID, error) {
	if doc == nil || doc.Root == nil {
		return tree.None, fmt.Errorf("%w: empty document", ErrAssemble)
	}
	root, err := w.Assemble(doc.Root)
	if err != nil {
		return tree.None, err
	}
	name := doc.Name
	if name == "" {
		name = w.store.Node(root).Name
	}
	scope := property.NewScope(name)
	for k, v := range doc.Blackboard {
		scope.Blackboard.Set(k, v)
	}
	w.trees[root] = &spawned{name: name, scope: scope}
	w.logger.Debug("spawned tree", "root", root, "name", name, "nodes", w.countNodes(root), "scope", scope.ID.String())
	return root, nil
}

func (w *World) countNodes(root tree.NodeID) int {
	n := 0
	for range w.store.Walk(root) {
		n++
	}
	return n
}

// Trees returns the spawned roots in ascending order.
func (w *World) Trees() []tree.NodeID {
	return slices.Sorted(maps.Keys(w.trees))
}

// Scope returns the scope of the tree owning node.
func (w *World) Scope(node tree.NodeID) *property.Scope {
	n := w.store.Node(node)
	if n == nil {
		return nil
	}
	if t, ok := w.trees[n.Root]; ok {
		return t.scope
	}
	return nil
}

// Start resets the tree and hands its root the cursor. Starting a running
// tree restarts it.
func (w *World) Start(root tree.NodeID) error {
	if _, ok := w.trees[root]; !ok {
		return fmt.Errorf("%w: %d", ErrNotSpawned, root)
	}
	w.halt(root)
	w.start(root)
	return nil
}

// Status returns the root's status, or Idle for unknown roots.
func (w *World) Status(root tree.NodeID) tree.Status {
	if n := w.store.Node(root); n != nil {
		return n.Status
	}
	return tree.Idle
}

// Done reports whether root resolved to Success or Failure.
func (w *World) Done(root tree.NodeID) bool { return w.Status(root).Done() }

// AllDone reports whether every spawned tree is done, or no tree is
// spawned.
func (w *World) AllDone() bool {
	for root := range w.trees {
		if !w.Done(root) {
			return false
		}
	}
	return true
}

// Halt returns the tree to idle without completing it. No descendant is
// told; running nodes simply stop being evaluated.
func (w *World) Halt(root tree.NodeID) error {
	if _, ok := w.trees[root]; !ok {
		return fmt.Errorf("%w: %d", ErrNotSpawned, root)
	}
	w.halt(root)
	return nil
}

// Despawn halts and removes the tree.
func (w *World) Despawn(root tree.NodeID) error {
	t, ok := w.trees[root]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotSpawned, root)
	}
	w.halt(root)
	removed := w.store.Remove(root)
	delete(w.trees, root)
	if f, ok := w.resolver.(property.Forgetter); ok {
		f.Forget(t.scope)
	}
	w.logger.Debug("despawned tree", "root", root, "name", t.name, "nodes", removed)
	return nil
}

// Graft assembles n and links it as the last child of parent. The new
// subtree belongs to parent's tree and shares its scope.
func (w *World) Graft(parent tree.NodeID, n *document.Node) (tree.NodeID, error) {
	if !w.store.Has(parent) {
		return tree.None, fmt.Errorf("%w: graft onto missing node %d", tree.ErrMalformedTree, parent)
	}
	id, err := w.Assemble(n)
	if err != nil {
		return tree.None, err
	}
	if err := w.store.AddChild(parent, id); err != nil {
		w.store.Remove(id)
		return tree.None, err
	}
	return id, nil
}

// Runs returns how many times node has been started.
func (w *World) Runs(node tree.NodeID) uint64 {
	if int(node) < 0 || int(node) >= len(w.runs) {
		return 0
	}
	return w.runs[node]
}

// start resets id's subtree and marks it running, started and holding the
// cursor.
func (w *World) start(id tree.NodeID) {
	w.store.Start(id)
	n := w.store.Node(id)
	if n == nil {
		return
	}
	for int(id) >= len(w.runs) {
		w.runs = append(w.runs, 0)
	}
	w.runs[id]++
	if s, ok := n.Payload.(starter); ok {
		s.started(w.clock.Now())
	}
	w.emit(Event{Type: EventStarted, Node: id, Root: n.Root, Kind: n.Kind, Name: n.Name})
}

// halt resets id's subtree, reporting every node that was running.
func (w *World) halt(id tree.NodeID) {
	for cid, n := range w.store.Walk(id) {
		if n.Status == tree.Running {
			w.emit(Event{Type: EventHalted, Node: cid, Root: n.Root, Kind: n.Kind, Name: n.Name})
		}
	}
	w.store.Reset(id)
}

func (w *World) emit(ev Event) {
	ev.Tick = w.tick
	for _, o := range w.observer {
		o.NodeEvent(ev)
	}
}
