package script

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := NewRuntime(context.Background())
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func TestRuntime_PreludeAndModule(t *testing.T) {
	t.Parallel()

	rt := newTestRuntime(t)
	require.NoError(t, rt.LoadScript("setup.js", `
		var tt = require("ticktree");
		var statuses = [bt.running, tt.success, tt.failure];
	`))
	v, ok := rt.Global("statuses")
	require.True(t, ok)
	require.Equal(t, []any{StatusRunning, StatusSuccess, StatusFailure}, v)

	_, ok = rt.Global("nothingHere")
	require.False(t, ok)
}

func TestRuntime_Callable(t *testing.T) {
	t.Parallel()

	rt := newTestRuntime(t)
	require.NoError(t, rt.LoadScript("lib.js", `function double(x) { return x * 2; } var notFn = 1;`))

	fn, err := rt.Callable("double")
	require.NoError(t, err)
	var out int64
	require.NoError(t, rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		v, err := fn(goja.Undefined(), vm.ToValue(21))
		if err != nil {
			return err
		}
		out = v.ToInteger()
		return nil
	}))
	require.Equal(t, int64(42), out)

	_, err = rt.Callable("missing")
	require.ErrorContains(t, err, "not found")
	_, err = rt.Callable("notFn")
	require.ErrorContains(t, err, "not a function")
}

func TestRuntime_LoadScriptErrors(t *testing.T) {
	t.Parallel()

	rt := newTestRuntime(t)
	require.ErrorContains(t, rt.LoadScript("bad.js", `function (`), "compile bad.js")
	require.ErrorContains(t, rt.LoadScript("throw.js", `throw new Error("nope")`), "run throw.js")
}

func TestRuntime_SyncTimeout(t *testing.T) {
	t.Parallel()

	rt := newTestRuntime(t)
	rt.SetTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	err := rt.RunOnLoopSync(func(*goja.Runtime) error {
		<-release
		return nil
	})
	require.ErrorContains(t, err, "timed out")
}

func TestRuntime_Close(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := NewRuntime(ctx)
	require.NoError(t, err)
	require.True(t, rt.IsRunning())

	cancel()
	select {
	case <-rt.Done():
	case <-time.After(time.Second):
		t.Fatal("runtime not closed after context cancel")
	}
	require.Eventually(t, func() bool { return !rt.IsRunning() }, time.Second, time.Millisecond)
	require.False(t, rt.RunOnLoop(func(*goja.Runtime) {}))
	require.True(t, errors.Is(rt.RunOnLoopSync(func(*goja.Runtime) error { return nil }), ErrNotRunning))
	rt.Close()
}
