package engine

import (
	"errors"
	"fmt"

	"github.com/joeycumines/ticktree/internal/action"
	"github.com/joeycumines/ticktree/internal/document"
	"github.com/joeycumines/ticktree/internal/property"
	"github.com/joeycumines/ticktree/internal/tree"
)

// ErrAssemble wraps every error returned while building nodes from a
// document.
var ErrAssemble = errors.New("assemble tree")

// Assemble builds a detached subtree from n and returns its root. Nothing is
// left in the store when an error is returned.
func (w *World) Assemble(n *document.Node) (tree.NodeID, error) {
	id, err := w.assemble(n, "$")
	if err != nil {
		return tree.None, err
	}
	if err := w.store.Validate(id); err != nil {
		w.store.Remove(id)
		return tree.None, fmt.Errorf("%w: %w", ErrAssemble, err)
	}
	return id, nil
}

// assemble returns a detached node; on error, whatever it created is removed.
func (w *World) assemble(n *document.Node, path string) (tree.NodeID, error) {
	if n == nil {
		return tree.None, fmt.Errorf("%w: %s: nil node", ErrAssemble, path)
	}
	kind, err := tree.ParseKind(n.Type)
	if err != nil {
		return tree.None, fmt.Errorf("%w: %s: %w", ErrAssemble, path, err)
	}
	payload, err := w.payload(kind, n)
	if err != nil {
		return tree.None, fmt.Errorf("%w: %s (%s): %w", ErrAssemble, path, kind, err)
	}
	name := n.Name
	if name == "" {
		name = kind.String()
	}
	id := w.store.Add(kind, name, payload)
	for i, c := range n.Children {
		cid, err := w.assemble(c, fmt.Sprintf("%s/%d", path, i))
		if err == nil {
			if err = w.store.AddChild(id, cid); err != nil {
				w.store.Remove(cid)
				err = fmt.Errorf("%w: %s: %w", ErrAssemble, path, err)
			}
		}
		if err != nil {
			w.store.Remove(id)
			return tree.None, err
		}
	}
	return id, nil
}

func firstProp(n *document.Node, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := n.Props[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func (w *World) payload(kind tree.Kind, n *document.Node) (any, error) {
	switch kind {
	case tree.KindAction:
		return w.leaf(n)

	case tree.KindSequencer:
		p := &sequencerPayload{seed: w.rng.Uint64()}
		if v, ok := n.Props["random"]; ok {
			b, err := property.AsBool(v)
			if err != nil {
				return nil, fmt.Errorf("random: %w", err)
			}
			p.random = b
		}
		if v, ok := n.Props["seed"]; ok {
			s, err := property.AsInt(v)
			if err != nil {
				return nil, fmt.Errorf("seed: %w", err)
			}
			p.seed = uint64(s)
		}
		return p, nil

	case tree.KindRepeater:
		var (
			p   RepeaterPayload
			err error
		)
		if v, ok := n.Props["times"]; ok {
			p, err = parseTimes(v)
		} else {
			p, err = parseRepeat(n.Props["repeat"])
		}
		if err != nil {
			return nil, err
		}
		return &p, nil

	case tree.KindDelay, tree.KindWait, tree.KindTimeout:
		v, ok := firstProp(n, "duration", "seconds")
		if !ok {
			return nil, errors.New("missing duration")
		}
		p := &timerPayload{duration: property.Parse(v)}
		if kind == tree.KindWait {
			p.fail = property.Parse(n.Props["fail"])
		}
		return p, nil

	case tree.KindGuard:
		v, ok := firstProp(n, "condition", "cond", "when")
		if !ok {
			return nil, errors.New("missing condition")
		}
		return &guardPayload{cond: property.Parse(v)}, nil

	case tree.KindSubtree:
		v, ok := firstProp(n, "path", "document")
		p, _ := v.(string)
		if !ok || p == "" {
			return nil, errors.New("missing path")
		}
		return &subtreePayload{path: p}, nil
	}
	return nil, nil
}

func (w *World) leaf(n *document.Node) (any, error) {
	if n.Instance != nil {
		a, ok := n.Instance.(action.Action)
		if !ok {
			return nil, fmt.Errorf("instance %T does not implement action.Action", n.Instance)
		}
		return &leafPayload{action: a}, nil
	}
	name, _ := n.Props["action"].(string)
	if name == "" {
		name = n.Name
	}
	if name == "" {
		return nil, errors.New("missing action name")
	}
	a, err := w.actions.New(name, n.Props)
	if err != nil {
		return nil, err
	}
	return &leafPayload{action: a}, nil
}
