// Package tree implements the node store shared by every behavior tree in a
// world: an arena of nodes addressed by NodeID, holding the parent/child
// links, per-type payloads and the lifecycle markers that the tick protocol
// reads and writes.
//
// The store is not safe for concurrent use. A world serializes every access
// on its tick goroutine.
package tree

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

// ErrMalformedTree reports a structural problem found by Validate or by a
// linking operation.
var ErrMalformedTree = errors.New("malformed tree")

// NodeID addresses a node in a Store. IDs are never reused.
type NodeID int32

// None is the absent NodeID (e.g. the parent of a root).
const None NodeID = -1

// Valid reports whether id may address a node.
func (id NodeID) Valid() bool { return id >= 0 }

// Resetter is implemented by payloads that hold per-run state which must be
// cleared when their node is reset.
type Resetter interface {
	Reset()
}

// Node is a single entry in the store.
type Node struct {
	Kind     Kind
	Name     string
	Parent   NodeID
	Children []NodeID
	// Root is the tree root owning this node. Grafted subtrees share the
	// root of the tree they were grafted into.
	Root    NodeID
	Payload any

	Status Status
	Cursor bool
	// Started is set when the node is handed the cursor after being idle, and
	// cleared at the start of the next tick.
	Started bool

	evaluated bool
}

// Fresh reports whether the node has not been evaluated since it was last
// started. Evaluators treat a fresh node as started even though the Started
// marker has already been cleared by the time they run.
func (n *Node) Fresh() bool { return !n.evaluated }

// MarkEvaluated records that the node's evaluator has run since its start.
func (n *Node) MarkEvaluated() { n.evaluated = true }

// Active reports whether the node holds the cursor and has not resolved.
func (n *Node) Active() bool { return n.Cursor && n.Status == Running }

// Completing reports whether the node resolved and still holds the cursor,
// i.e. it is waiting for propagation to its parent.
func (n *Node) Completing() bool { return n.Cursor && n.Status.Done() }

// Store is an arena of nodes.
type Store struct {
	nodes []*Node
	live  int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Add creates a detached node, which is the root of its own tree until it is
// linked under a parent with AddChild.
func (s *Store) Add(kind Kind, name string, payload any) NodeID {
	id := NodeID(len(s.nodes))
	s.nodes = append(s.nodes, &Node{
		Kind:    kind,
		Name:    name,
		Parent:  None,
		Root:    id,
		Payload: payload,
	})
	s.live++
	return id
}

// AddChild appends child to parent's children and points child's back-link
// at parent. The child must be a detached root, and must not be an ancestor
// of parent. The whole child subtree adopts parent's tree root.
func (s *Store) AddChild(parent, child NodeID) error {
	p := s.Node(parent)
	c := s.Node(child)
	if p == nil || c == nil {
		return fmt.Errorf("%w: link %d -> %d: node not found", ErrMalformedTree, parent, child)
	}
	if c.Parent != None {
		return fmt.Errorf("%w: node %d already has parent %d", ErrMalformedTree, child, c.Parent)
	}
	for a := parent; a != None; a = s.nodes[a].Parent {
		if a == child {
			return fmt.Errorf("%w: linking %d under %d creates a cycle", ErrMalformedTree, child, parent)
		}
	}
	p.Children = append(p.Children, child)
	c.Parent = parent
	for _, n := range s.Walk(child) {
		n.Root = p.Root
	}
	return nil
}

// Node returns the node for id, or nil if it does not exist.
func (s *Store) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(s.nodes) {
		return nil
	}
	return s.nodes[id]
}

// Has reports whether id addresses a live node.
func (s *Store) Has(id NodeID) bool { return s.Node(id) != nil }

// Len returns the number of live nodes.
func (s *Store) Len() int { return s.live }

// All iterates every live node in ascending ID order.
func (s *Store) All() iter.Seq2[NodeID, *Node] {
	return func(yield func(NodeID, *Node) bool) {
		for i, n := range s.nodes {
			if n == nil {
				continue
			}
			if !yield(NodeID(i), n) {
				return
			}
		}
	}
}

// Walk iterates the subtree rooted at root in pre-order.
func (s *Store) Walk(root NodeID) iter.Seq2[NodeID, *Node] {
	return func(yield func(NodeID, *Node) bool) {
		if s.Node(root) == nil {
			return
		}
		stack := []NodeID{root}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			n := s.Node(id)
			if n == nil {
				continue
			}
			if !yield(id, n) {
				return
			}
			for i := len(n.Children) - 1; i >= 0; i-- {
				stack = append(stack, n.Children[i])
			}
		}
	}
}

// Depth returns the number of edges on the longest path from root to a leaf.
func (s *Store) Depth(root NodeID) int {
	n := s.Node(root)
	if n == nil {
		return 0
	}
	depth := 0
	for _, c := range n.Children {
		depth = max(depth, s.Depth(c)+1)
	}
	return depth
}

// Reset returns the subtree rooted at id to Idle, clearing every marker and
// resetting payloads that implement Resetter.
func (s *Store) Reset(id NodeID) {
	for _, n := range s.Walk(id) {
		resetNode(n)
	}
}

// ResetDescendants resets every node below id, leaving id untouched.
func (s *Store) ResetDescendants(id NodeID) {
	n := s.Node(id)
	if n == nil {
		return
	}
	for _, c := range n.Children {
		s.Reset(c)
	}
}

func resetNode(n *Node) {
	n.Status = Idle
	n.Cursor = false
	n.Started = false
	n.evaluated = false
	if r, ok := n.Payload.(Resetter); ok {
		r.Reset()
	}
}

// Start resets the subtree rooted at id and hands id the cursor, marking it
// running and started.
func (s *Store) Start(id NodeID) {
	s.Reset(id)
	if n := s.Node(id); n != nil {
		n.Status = Running
		n.Cursor = true
		n.Started = true
	}
}

// Remove deletes the subtree rooted at id, detaching it from its parent.
// Returns the number of removed nodes.
func (s *Store) Remove(id NodeID) int {
	n := s.Node(id)
	if n == nil {
		return 0
	}
	if p := s.Node(n.Parent); p != nil {
		p.Children = slices.DeleteFunc(p.Children, func(c NodeID) bool { return c == id })
	}
	var ids []NodeID
	for cid := range s.Walk(id) {
		ids = append(ids, cid)
	}
	for _, cid := range ids {
		s.nodes[cid] = nil
	}
	s.live -= len(ids)
	return len(ids)
}

// Validate checks that the subtree rooted at root is a well-formed tree:
// every child exists, points back at the parent listing it, is listed by
// exactly one parent, and belongs to the same tree root.
func (s *Store) Validate(root NodeID) error {
	r := s.Node(root)
	if r == nil {
		return fmt.Errorf("%w: root %d not found", ErrMalformedTree, root)
	}
	seen := map[NodeID]NodeID{root: r.Parent}
	stack := []NodeID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := s.nodes[id]
		for _, cid := range n.Children {
			c := s.Node(cid)
			if c == nil {
				return fmt.Errorf("%w: node %d lists missing child %d", ErrMalformedTree, id, cid)
			}
			if prev, dup := seen[cid]; dup {
				return fmt.Errorf("%w: node %d is reachable from both %d and %d", ErrMalformedTree, cid, prev, id)
			}
			if c.Parent != id {
				return fmt.Errorf("%w: node %d is a child of %d but its parent link is %d", ErrMalformedTree, cid, id, c.Parent)
			}
			if c.Root != r.Root {
				return fmt.Errorf("%w: node %d belongs to root %d, expected %d", ErrMalformedTree, cid, c.Root, r.Root)
			}
			seen[cid] = id
			stack = append(stack, cid)
		}
	}
	return nil
}
