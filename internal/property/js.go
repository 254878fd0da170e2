package property

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/joeycumines/ticktree/internal/script"
)

// JS evaluates JavaScript expressions on a script.Runtime event loop.
//
// An expression is wrapped as the body of a function receiving the scope's
// blackboard as "bb", so `bb.get("hp") > 10` is a valid source. The first
// Resolve for a (Key, Epoch) dispatches the evaluation and returns Pending;
// later calls return Pending until the loop has finished, then hand over the
// result exactly once.
type JS struct {
	rt *script.Runtime

	mu       sync.Mutex
	inflight map[any]*jsCall

	// Owned by the event loop goroutine.
	programs map[string]*goja.Program
	scopes   map[uuid.UUID]goja.Value
}

type jsCall struct {
	epoch  uint64
	source string
	done   bool
	value  any
	err    error
}

// NewJS returns a resolver evaluating on rt.
func NewJS(rt *script.Runtime) *JS {
	return &JS{
		rt:       rt,
		inflight: make(map[any]*jsCall),
		programs: make(map[string]*goja.Program),
		scopes:   make(map[uuid.UUID]goja.Value),
	}
}

// Resolve implements Resolver.
func (j *JS) Resolve(req Request) Result {
	d := req.Descriptor
	if d.IsStatic() {
		return Ready(d.Value)
	}

	j.mu.Lock()
	if c, ok := j.inflight[req.Key]; ok && c.epoch == req.Epoch && c.source == d.Source {
		if !c.done {
			j.mu.Unlock()
			return Pending()
		}
		delete(j.inflight, req.Key)
		j.mu.Unlock()
		if c.err != nil {
			return Failed(c.err)
		}
		return Ready(c.value)
	}
	// Anything else under this key belongs to an earlier run; replacing it
	// makes the late callback write into an orphaned call.
	c := &jsCall{epoch: req.Epoch, source: d.Source}
	j.inflight[req.Key] = c
	j.mu.Unlock()

	scope := req.Scope
	ok := j.rt.RunOnLoop(func(vm *goja.Runtime) {
		v, err := j.eval(vm, scope, d.Source)
		j.mu.Lock()
		c.value, c.err, c.done = v, err, true
		j.mu.Unlock()
	})
	if !ok {
		j.mu.Lock()
		if j.inflight[req.Key] == c {
			delete(j.inflight, req.Key)
		}
		j.mu.Unlock()
		return Failed(fmt.Errorf("evaluate %q: %w", d.Source, script.ErrNotRunning))
	}
	return Pending()
}

// InFlight returns the number of evaluations dispatched or awaiting pickup.
func (j *JS) InFlight() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.inflight)
}

// Forget drops every cached blackboard binding for scope. Call it when the
// tree owning scope is despawned.
func (j *JS) Forget(scope *Scope) {
	if scope == nil {
		return
	}
	id := scope.ID
	j.rt.RunOnLoop(func(*goja.Runtime) {
		delete(j.scopes, id)
	})
}

// eval runs on the event loop goroutine.
func (j *JS) eval(vm *goja.Runtime, scope *Scope, source string) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluate %q: panic: %v", source, r)
		}
	}()

	prg, ok := j.programs[source]
	if !ok {
		prg, err = goja.Compile("property", "(function(bb) {\nreturn (\n"+source+"\n);\n})", true)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", source, err)
		}
		j.programs[source] = prg
	}
	fnVal, err := vm.RunProgram(prg)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", source, err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("evaluate %q: wrapper is not callable", source)
	}

	bb := goja.Undefined()
	if scope != nil && scope.Blackboard != nil {
		v, ok := j.scopes[scope.ID]
		if !ok {
			v = scope.Blackboard.ExposeToJS(vm)
			j.scopes[scope.ID] = v
		}
		bb = v
	}
	res, err := fn(goja.Undefined(), bb)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", source, err)
	}
	return res.Export(), nil
}
