// Package document defines the serialized form of a behavior tree and an
// asynchronous loader for tree documents stored on a filesystem.
//
// A document node is a YAML mapping with a "type", an optional "name", an
// optional "children" list, and any number of other keys, which become the
// node's properties:
//
//	name: patrol
//	blackboard:
//	  hp: 10
//	tree:
//	  type: sequence
//	  children:
//	    - type: guard
//	      condition: {expr: "hp > 5"}
//	      children:
//	        - {type: action, action: succeed}
//	    - type: repeater
//	      repeat: {times: 2}
//	      children:
//	        - {type: action, action: ticks, ticks: 3}
//
// A file without a top-level "tree" key is read as a bare root node.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrInvalid reports a document that cannot describe a tree.
var ErrInvalid = errors.New("invalid tree document")

// Document is a named tree plus initial blackboard contents.
type Document struct {
	Name       string
	Blackboard map[string]any
	Root       *Node
}

// Node is one document node.
type Node struct {
	Name     string
	Type     string
	Props    map[string]any
	Children []*Node

	// Instance, when set, is used in place of a registry lookup for action
	// nodes. It never round-trips through YAML.
	Instance any
}

// New returns a node of type typ.
func New(typ string, props map[string]any, children ...*Node) *Node {
	return &Node{Type: typ, Props: props, Children: children}
}

// Named sets the node's name and returns it.
func (n *Node) Named(name string) *Node {
	n.Name = name
	return n
}

// Leaf returns an action node bound to instance.
func Leaf(name string, instance any) *Node {
	return &Node{Name: name, Type: "action", Instance: instance}
}

// Action returns an action node resolved through the action registry.
func Action(action string, props map[string]any) *Node {
	p := maps.Clone(props)
	if p == nil {
		p = make(map[string]any, 1)
	}
	p["action"] = action
	return &Node{Name: action, Type: "action", Props: p}
}

// Prop returns the property named key and whether it was declared.
func (n *Node) Prop(key string) (any, bool) {
	v, ok := n.Props[key]
	return v, ok
}

// Count returns the number of nodes in the subtree.
func (n *Node) Count() int {
	if n == nil {
		return 0
	}
	c := 1
	for _, ch := range n.Children {
		c += ch.Count()
	}
	return c
}

var reservedKeys = []string{"name", "type", "children"}

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: node must be a mapping", ErrInvalid, value.Line)
	}
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	var shape struct {
		Name     string  `yaml:"name"`
		Type     string  `yaml:"type"`
		Children []*Node `yaml:"children"`
	}
	if err := value.Decode(&shape); err != nil {
		return err
	}
	if shape.Type == "" {
		return fmt.Errorf("%w: line %d: missing type", ErrInvalid, value.Line)
	}
	for i, c := range shape.Children {
		if c == nil {
			return fmt.Errorf("%w: line %d: child %d is empty", ErrInvalid, value.Line, i)
		}
	}
	n.Name = shape.Name
	n.Type = shape.Type
	n.Children = shape.Children
	n.Props = nil
	for k, v := range raw {
		if slices.Contains(reservedKeys, k) {
			continue
		}
		if n.Props == nil {
			n.Props = make(map[string]any)
		}
		n.Props[k] = v
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (n *Node) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	add := func(k string, v any) error {
		var val yaml.Node
		if err := val.Encode(v); err != nil {
			return err
		}
		out.Content = append(out.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &val)
		return nil
	}
	if n.Name != "" {
		if err := add("name", n.Name); err != nil {
			return nil, err
		}
	}
	if err := add("type", n.Type); err != nil {
		return nil, err
	}
	for _, k := range slices.Sorted(maps.Keys(n.Props)) {
		if err := add(k, n.Props[k]); err != nil {
			return nil, err
		}
	}
	if len(n.Children) > 0 {
		if err := add("children", n.Children); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type fileShape struct {
	Name       string         `yaml:"name,omitempty"`
	Blackboard map[string]any `yaml:"blackboard,omitempty"`
	Tree       *Node          `yaml:"tree"`
}

// Decode reads one document from r.
func Decode(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return Parse(data)
}

// Parse decodes one document from data.
func Parse(data []byte) (*Document, error) {
	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(probe) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	if _, ok := probe["tree"]; ok {
		var f fileShape
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if f.Tree == nil {
			return nil, fmt.Errorf("%w: empty tree", ErrInvalid)
		}
		return &Document{Name: f.Name, Blackboard: f.Blackboard, Root: f.Tree}, nil
	}
	var root Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		if errors.Is(err, ErrInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &Document{Name: root.Name, Root: &root}, nil
}

// Encode writes doc to w as YAML.
func Encode(w io.Writer, doc *Document) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fileShape{Name: doc.Name, Blackboard: doc.Blackboard, Tree: doc.Root}); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
