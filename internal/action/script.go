package action

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/joeycumines/ticktree/internal/script"
	"github.com/joeycumines/ticktree/internal/tree"
)

type scriptState uint8

const (
	scriptIdle scriptState = iota
	scriptRunning
	scriptCompleted
)

// Script runs a JavaScript leaf function on a script.Runtime. The function
// is called as fn(bb, args) and returns (or resolves a promise to) one of
// the strings "running", "success" or "failure".
//
// Tick never waits for the event loop. The first poll dispatches the call
// and answers Running; later polls answer Running until the loop reports a
// result. Each dispatch carries a generation number and results from an
// older generation are discarded, so a node restarted mid-call never sees
// the previous run's answer.
type Script struct {
	rt       *script.Runtime
	function string
	source   string
	args     any

	mu         sync.Mutex
	state      scriptState
	generation uint64
	status     tree.Status
	err        error

	// Owned by the event loop goroutine.
	compiled goja.Value
}

// NewScript returns a leaf calling the global function named function.
func NewScript(rt *script.Runtime, function string, args any) *Script {
	return &Script{rt: rt, function: function, args: args}
}

// NewScriptSource returns a leaf calling the function expression source,
// for example `(bb, args) => bb.has("target") ? "success" : "failure"`.
func NewScriptSource(rt *script.Runtime, source string, args any) *Script {
	return &Script{rt: rt, source: source, args: args}
}

// ScriptFactory returns a Factory for the "script" action. Nodes name either
// a global "function" or an inline "source", plus optional "args".
func ScriptFactory(rt *script.Runtime) Factory {
	return func(props map[string]any) (Action, error) {
		var p scriptProps
		if err := decodeProps(props, &p); err != nil {
			return nil, err
		}
		switch {
		case p.Function != "" && p.Source != "":
			return nil, errors.New("function and source are mutually exclusive")
		case p.Function != "":
			return NewScript(rt, p.Function, p.Args), nil
		case p.Source != "":
			return NewScriptSource(rt, p.Source, p.Args), nil
		}
		return nil, errors.New("missing function or source")
	}
}

type scriptProps struct {
	Function string `mapstructure:"function"`
	Source   string `mapstructure:"source"`
	Args     any    `mapstructure:"args"`
}

// Tick implements Action.
func (s *Script) Tick(c *Context) (tree.Status, error) {
	s.mu.Lock()
	if c.Fresh && s.state != scriptIdle {
		s.generation++
		s.state = scriptIdle
	}
	switch s.state {
	case scriptIdle:
		if err := c.ctx().Err(); err != nil {
			s.mu.Unlock()
			return tree.Failure, fmt.Errorf("script: %w", err)
		}
		s.generation++
		gen := s.generation
		s.state = scriptRunning
		s.mu.Unlock()
		s.dispatch(gen, c)
		return tree.Running, nil

	case scriptRunning:
		s.mu.Unlock()
		return tree.Running, nil

	default:
		status, err := s.status, s.err
		s.state = scriptIdle
		s.status, s.err = tree.Idle, nil
		s.mu.Unlock()
		return status, err
	}
}

// Reset implements tree.Resetter.
func (s *Script) Reset() {
	s.mu.Lock()
	s.generation++
	s.state = scriptIdle
	s.status, s.err = tree.Idle, nil
	s.mu.Unlock()
}

func (s *Script) dispatch(gen uint64, c *Context) {
	bb := c.Blackboard()
	ok := s.rt.RunOnLoop(func(vm *goja.Runtime) {
		defer func() {
			if r := recover(); r != nil {
				s.finish(gen, tree.Failure, fmt.Errorf("script panic: %v", r))
			}
		}()

		fn, err := s.resolve(vm)
		if err != nil {
			s.finish(gen, tree.Failure, err)
			return
		}
		runLeaf, ok := goja.AssertFunction(vm.Get("runLeaf"))
		if !ok {
			s.finish(gen, tree.Failure, errors.New("runLeaf is not defined"))
			return
		}
		bbVal := goja.Undefined()
		if bb != nil {
			bbVal = bb.ExposeToJS(vm)
		}
		callback := func(call goja.FunctionCall) goja.Value {
			var err error
			if a := call.Argument(1); !goja.IsNull(a) && !goja.IsUndefined(a) {
				err = errors.New(a.String())
			}
			s.finish(gen, parseStatus(call.Argument(0).String()), err)
			return goja.Undefined()
		}
		if _, err := runLeaf(goja.Undefined(), fn, bbVal, vm.ToValue(s.args), vm.ToValue(callback)); err != nil {
			s.finish(gen, tree.Failure, fmt.Errorf("runLeaf: %w", err))
		}
	})
	if !ok {
		s.finish(gen, tree.Failure, script.ErrNotRunning)
	}
}

// resolve runs on the event loop goroutine.
func (s *Script) resolve(vm *goja.Runtime) (goja.Value, error) {
	if s.function != "" {
		v := vm.Get(s.function)
		if _, ok := goja.AssertFunction(v); !ok {
			return nil, fmt.Errorf("script function %q not found", s.function)
		}
		return v, nil
	}
	if s.compiled == nil {
		v, err := vm.RunScript("leaf", "("+s.source+")")
		if err != nil {
			return nil, fmt.Errorf("compile leaf: %w", err)
		}
		if _, ok := goja.AssertFunction(v); !ok {
			return nil, errors.New("leaf source is not a function")
		}
		s.compiled = v
	}
	return s.compiled, nil
}

func (s *Script) finish(gen uint64, status tree.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	if err != nil {
		status = tree.Failure
	}
	s.status, s.err = status, err
	s.state = scriptCompleted
}

func parseStatus(s string) tree.Status {
	switch s {
	case script.StatusRunning:
		return tree.Running
	case script.StatusSuccess:
		return tree.Success
	default:
		return tree.Failure
	}
}
