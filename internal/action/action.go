// Package action defines leaf actions: the domain behavior at the bottom of a
// tree. An Action is polled once per evaluation of its node and answers
// Running, Success or Failure without blocking; long work is started on the
// first poll and observed on later ones.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joeycumines/ticktree/internal/property"
	"github.com/joeycumines/ticktree/internal/tree"
)

// ErrUnknownAction is returned by Registry.New for unregistered names.
var ErrUnknownAction = errors.New("unknown action")

// Action is a leaf behavior. Returning an error fails the node; the error is
// logged by the engine.
type Action interface {
	Tick(c *Context) (tree.Status, error)
}

// Func adapts a function to Action.
type Func func(c *Context) (tree.Status, error)

// Tick implements Action.
func (f Func) Tick(c *Context) (tree.Status, error) { return f(c) }

// Context is passed to every Tick. It is only valid for the duration of the
// call.
type Context struct {
	Ctx    context.Context
	Node   tree.NodeID
	Name   string
	Tick   uint64
	Now    time.Time
	Scope  *property.Scope
	Logger *slog.Logger

	// Fresh is true on the first poll after the node was started.
	Fresh bool

	// Resolver resolves property descriptors on behalf of the node. When nil,
	// only literals resolve.
	Resolver func(key string, d property.Descriptor) property.Result
}

// Blackboard returns the tree's blackboard, or nil outside a tree.
func (c *Context) Blackboard() *property.Blackboard {
	if c.Scope == nil {
		return nil
	}
	return c.Scope.Blackboard
}

// Resolve parses v as a property descriptor and resolves it. key names the
// property, so that asynchronous resolvers can match polls to evaluations.
func (c *Context) Resolve(key string, v any) property.Result {
	d := property.Parse(v)
	if c.Resolver == nil {
		return property.Static.Resolve(property.Request{Key: key, Scope: c.Scope, Descriptor: d})
	}
	return c.Resolver(key, d)
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Context) ctx() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

var (
	// Succeed completes immediately with Success.
	Succeed Action = Func(func(*Context) (tree.Status, error) { return tree.Success, nil })
	// Fail completes immediately with Failure.
	Fail Action = Func(func(*Context) (tree.Status, error) { return tree.Failure, nil })
)

// Ticks stays Running for N-1 polls and answers Result on the Nth. N below
// one behaves as one.
type Ticks struct {
	N      int
	Result tree.Status

	polls int
}

// Tick implements Action.
func (t *Ticks) Tick(c *Context) (tree.Status, error) {
	if c.Fresh {
		t.polls = 0
	}
	t.polls++
	if t.polls < t.N {
		return tree.Running, nil
	}
	t.polls = 0
	if t.Result == tree.Idle {
		return tree.Success, nil
	}
	return t.Result, nil
}

// Reset implements tree.Resetter.
func (t *Ticks) Reset() { t.polls = 0 }

// Set writes Value (a property descriptor) to the blackboard under Key.
type Set struct {
	Key   string
	Value any
}

// Tick implements Action.
func (s *Set) Tick(c *Context) (tree.Status, error) {
	bb := c.Blackboard()
	if bb == nil {
		return tree.Failure, fmt.Errorf("set %q: no blackboard", s.Key)
	}
	r := c.Resolve("value", s.Value)
	switch r.State {
	case property.StatePending:
		return tree.Running, nil
	case property.StateError:
		return tree.Failure, fmt.Errorf("set %q: %w", s.Key, r.Err)
	}
	bb.Set(s.Key, r.Value)
	return tree.Success, nil
}

// Log writes Message (a property descriptor) to the context logger.
type Log struct {
	Message any
	Level   slog.Level
}

// Tick implements Action.
func (l *Log) Tick(c *Context) (tree.Status, error) {
	r := c.Resolve("message", l.Message)
	switch r.State {
	case property.StatePending:
		return tree.Running, nil
	case property.StateError:
		return tree.Failure, fmt.Errorf("log: %w", r.Err)
	}
	c.logger().Log(c.ctx(), l.Level, fmt.Sprint(r.Value), "node", c.Name, "tick", c.Tick)
	return tree.Success, nil
}
