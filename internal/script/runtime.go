// Package script owns the JavaScript runtime used for blackboard expressions
// and scripted leaf actions.
//
// goja.Runtime is not goroutine-safe, so every runtime access goes through
// the goja_nodejs event loop: RunOnLoop posts work and returns immediately,
// RunOnLoopSync posts work and waits for it. The tick goroutine only ever
// uses RunOnLoop; the synchronous variant is for setup (loading scripts,
// looking up functions) and for tests.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// Status strings exchanged with JavaScript. The prelude's globals and the
// "ticktree" module export the same values.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ModuleName is the name scripts pass to require() to obtain the status
// constants.
const ModuleName = "ticktree"

// DefaultSyncTimeout bounds RunOnLoopSync.
const DefaultSyncTimeout = 5 * time.Second

// ErrNotRunning is returned once the runtime has been closed.
var ErrNotRunning = errors.New("script runtime not running")

// Runtime wraps a started event loop.
type Runtime struct {
	loop     *eventloop.EventLoop
	registry *require.Registry

	mu      sync.RWMutex
	stopped bool
	timeout time.Duration

	// Lifecycle context, independent of the constructor's ctx so that Done()
	// closing always implies IsRunning() == false.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRuntime starts an event loop, registers the ticktree module and runs
// the prelude. Cancelling ctx closes the runtime.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	registry := require.NewRegistry()
	registry.RegisterNativeModule(ModuleName, moduleLoader)

	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(true),
	)
	loop.Start()

	childCtx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		loop:     loop,
		registry: registry,
		timeout:  DefaultSyncTimeout,
		ctx:      childCtx,
		cancel:   cancel,
	}

	if err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		_, err := vm.RunString(prelude)
		return err
	}); err != nil {
		rt.Close()
		return nil, fmt.Errorf("initialize script runtime: %w", err)
	}

	if ctx != nil && ctx.Done() != nil {
		context.AfterFunc(ctx, rt.Close)
	}
	return rt, nil
}

func moduleLoader(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	_ = exports.Set("running", StatusRunning)
	_ = exports.Set("success", StatusSuccess)
	_ = exports.Set("failure", StatusFailure)
}

// prelude defines the status globals and runLeaf, which calls a leaf
// function and reports its status through a Go callback. Promises are
// supported; the event loop settles them on later iterations.
const prelude = `
globalThis.bt = { running: "running", success: "success", failure: "failure" };

globalThis.runLeaf = function(fn, bb, args, callback) {
	try {
		var result = fn(bb, args);
		if (result && typeof result.then === 'function') {
			result.then(
				function(status) { callback(String(status), null); },
				function(err) { callback("failure", err instanceof Error ? err.message : String(err)); }
			);
		} else {
			callback(String(result), null);
		}
	} catch (err) {
		callback("failure", err instanceof Error ? err.message : String(err));
	}
};
`

// Close stops the event loop. Safe to call more than once.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.stopped = true
	r.mu.Unlock()
	r.loop.Stop()
}

// Done is closed when the runtime is closed.
func (r *Runtime) Done() <-chan struct{} { return r.ctx.Done() }

// IsRunning reports whether the runtime accepts work.
func (r *Runtime) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.stopped
}

// SetTimeout changes the RunOnLoopSync timeout. Zero disables it.
func (r *Runtime) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// RunOnLoop schedules fn on the event loop goroutine. Returns false if the
// runtime is closed.
func (r *Runtime) RunOnLoop(fn func(*goja.Runtime)) bool {
	if !r.IsRunning() {
		return false
	}
	return r.loop.RunOnLoop(fn)
}

// RunOnLoopSync schedules fn and waits for it to return.
func (r *Runtime) RunOnLoopSync(fn func(*goja.Runtime) error) error {
	r.mu.RLock()
	if r.stopped {
		r.mu.RUnlock()
		return ErrNotRunning
	}
	timeout := r.timeout
	r.mu.RUnlock()

	errCh := make(chan error, 1)
	if !r.loop.RunOnLoop(func(vm *goja.Runtime) { errCh <- fn(vm) }) {
		return ErrNotRunning
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case err := <-errCh:
		return err
	case <-r.Done():
		return fmt.Errorf("%w: closed before completion", ErrNotRunning)
	case <-timer:
		return fmt.Errorf("event loop call timed out after %v", timeout)
	}
}

// LoadScript compiles and runs code in the global scope.
func (r *Runtime) LoadScript(name, code string) error {
	return r.RunOnLoopSync(func(vm *goja.Runtime) error {
		prg, err := goja.Compile(name, code, true)
		if err != nil {
			return fmt.Errorf("compile %s: %w", name, err)
		}
		if _, err := vm.RunProgram(prg); err != nil {
			return fmt.Errorf("run %s: %w", name, err)
		}
		return nil
	})
}

// Callable returns the global function called name.
func (r *Runtime) Callable(name string) (goja.Callable, error) {
	var fn goja.Callable
	err := r.RunOnLoopSync(func(vm *goja.Runtime) error {
		v := vm.Get(name)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return fmt.Errorf("function %q not found", name)
		}
		f, ok := goja.AssertFunction(v)
		if !ok {
			return fmt.Errorf("%q is not a function", name)
		}
		fn = f
		return nil
	})
	return fn, err
}

// Global returns the exported value of a global variable.
func (r *Runtime) Global(name string) (any, bool) {
	var (
		out    any
		exists bool
	)
	err := r.RunOnLoopSync(func(vm *goja.Runtime) error {
		v := vm.Get(name)
		if v == nil || goja.IsUndefined(v) {
			return nil
		}
		exists = true
		out = v.Export()
		return nil
	})
	if err != nil {
		return nil, false
	}
	return out, exists
}
