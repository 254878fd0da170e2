package action

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	bt "github.com/joeycumines/go-behaviortree"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ticktree/internal/property"
	"github.com/joeycumines/ticktree/internal/script"
	"github.com/joeycumines/ticktree/internal/tree"
)

func newContext(scope *property.Scope) *Context {
	return &Context{Ctx: context.Background(), Name: "leaf", Scope: scope, Fresh: true}
}

func TestBuiltins_Names(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"fail", "log", "set", "succeed", "ticks"}, Builtins().Names())
}

func TestRegistry_UnknownAndInvalid(t *testing.T) {
	t.Parallel()

	r := Builtins()
	_, err := r.New("dance", nil)
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = r.New("set", map[string]any{"value": 1})
	require.ErrorContains(t, err, "missing key")

	_, err = r.New("ticks", map[string]any{"ticks": 1.5})
	require.Error(t, err)

	_, err = r.New("ticks", map[string]any{"result": "maybe"})
	require.Error(t, err)

	_, err = r.New("log", map[string]any{"level": "loud"})
	require.Error(t, err)
}

func TestTicks(t *testing.T) {
	t.Parallel()

	a, err := Builtins().New("ticks", map[string]any{"ticks": 3, "result": "failure"})
	require.NoError(t, err)

	c := newContext(nil)
	var got []tree.Status
	for range 3 {
		s, err := a.Tick(c)
		require.NoError(t, err)
		got = append(got, s)
		c.Fresh = false
	}
	require.Equal(t, []tree.Status{tree.Running, tree.Running, tree.Failure}, got)

	// A fresh start after an interrupted run counts from zero.
	_, _ = a.Tick(c)
	c.Fresh = true
	s, _ := a.Tick(c)
	require.Equal(t, tree.Running, s)
}

func TestSet_ResolvesValue(t *testing.T) {
	t.Parallel()

	scope := property.NewScope("t")
	scope.Blackboard.Set("hp", 3)
	c := newContext(scope)
	expr := property.NewExpr()
	c.Resolver = func(key string, d property.Descriptor) property.Result {
		return expr.Resolve(property.Request{Key: key, Scope: scope, Descriptor: d})
	}

	a, err := Builtins().New("set", map[string]any{"key": "hp", "value": map[string]any{"expr": "hp - 1"}})
	require.NoError(t, err)
	s, err := a.Tick(c)
	require.NoError(t, err)
	require.Equal(t, tree.Success, s)
	require.Equal(t, 2, scope.Blackboard.Get("hp"))

	pending := &Set{Key: "x", Value: 1}
	c.Resolver = func(string, property.Descriptor) property.Result { return property.Pending() }
	s, err = pending.Tick(c)
	require.NoError(t, err)
	require.Equal(t, tree.Running, s)

	s, err = pending.Tick(newContext(nil))
	require.Error(t, err)
	require.Equal(t, tree.Failure, s)
}

func TestLog_WritesMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := newContext(nil)
	c.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a, err := Builtins().New("log", map[string]any{"message": "hello", "level": "warn"})
	require.NoError(t, err)
	s, err := a.Tick(c)
	require.NoError(t, err)
	require.Equal(t, tree.Success, s)
	require.Contains(t, buf.String(), "level=WARN")
	require.Contains(t, buf.String(), "msg=hello")
	require.Contains(t, buf.String(), "node=leaf")
}

func TestNode_AdaptsBehaviorTree(t *testing.T) {
	t.Parallel()

	calls := 0
	leaf := bt.New(func([]bt.Node) (bt.Status, error) {
		calls++
		if calls < 2 {
			return bt.Running, nil
		}
		return bt.Success, nil
	})
	a := Node(bt.New(bt.Sequence, leaf))
	c := newContext(nil)

	s, err := a.Tick(c)
	require.NoError(t, err)
	require.Equal(t, tree.Running, s)
	s, err = a.Tick(c)
	require.NoError(t, err)
	require.Equal(t, tree.Success, s)

	boom := Node(bt.New(func([]bt.Node) (bt.Status, error) { return bt.Failure, errors.New("boom") }))
	s, err = boom.Tick(c)
	require.EqualError(t, err, "boom")
	require.Equal(t, tree.Failure, s)

	require.Equal(t, bt.Success, ToBT(tree.Success))
	require.Equal(t, bt.Running, ToBT(tree.Running))
	require.Equal(t, bt.Failure, ToBT(tree.Idle))
}

func newRuntime(t *testing.T) *script.Runtime {
	t.Helper()
	rt, err := script.NewRuntime(context.Background())
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func pollUntilDone(t *testing.T, a Action, c *Context) (tree.Status, error) {
	t.Helper()
	var (
		status tree.Status
		err    error
	)
	require.Eventually(t, func() bool {
		status, err = a.Tick(c)
		c.Fresh = false
		return status != tree.Running
	}, 2*time.Second, time.Millisecond)
	return status, err
}

func TestScript_GlobalFunction(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)
	require.NoError(t, rt.LoadScript("leaves.js", `
		function mark(bb, args) {
			bb.set("marked", args.label);
			return bt.success;
		}
	`))

	scope := property.NewScope("t")
	a, err := ScriptFactory(rt)(map[string]any{"function": "mark", "args": map[string]any{"label": "x"}})
	require.NoError(t, err)

	c := newContext(scope)
	s, err := a.Tick(c)
	require.NoError(t, err)
	require.Equal(t, tree.Running, s)

	s, err = pollUntilDone(t, a, c)
	require.NoError(t, err)
	require.Equal(t, tree.Success, s)
	require.Equal(t, "x", scope.Blackboard.Get("marked"))
}

func TestScript_SourceAndPromise(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)
	a := NewScriptSource(rt, `async (bb) => bb.get("ok") ? "success" : "failure"`, nil)

	scope := property.NewScope("t")
	scope.Blackboard.Set("ok", false)
	s, err := pollUntilDone(t, a, newContext(scope))
	require.NoError(t, err)
	require.Equal(t, tree.Failure, s)

	scope.Blackboard.Set("ok", true)
	s, err = pollUntilDone(t, a, newContext(scope))
	require.NoError(t, err)
	require.Equal(t, tree.Success, s)
}

func TestScript_Errors(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)

	thrower := NewScriptSource(rt, `() => { throw new Error("nope"); }`, nil)
	s, err := pollUntilDone(t, thrower, newContext(nil))
	require.Equal(t, tree.Failure, s)
	require.ErrorContains(t, err, "nope")

	missing := NewScript(rt, "doesNotExist", nil)
	s, err = pollUntilDone(t, missing, newContext(nil))
	require.Equal(t, tree.Failure, s)
	require.ErrorContains(t, err, "not found")

	_, err = ScriptFactory(rt)(map[string]any{})
	require.Error(t, err)
	_, err = ScriptFactory(rt)(map[string]any{"function": "a", "source": "b"})
	require.Error(t, err)
}

func TestScript_RestartDiscardsStaleResult(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)
	require.NoError(t, rt.LoadScript("count.js", `
		var calls = 0;
		function count(bb) { calls++; bb.set("calls", calls); return "success"; }
	`))
	scope := property.NewScope("t")
	a := NewScript(rt, "count", nil)

	s, err := a.Tick(newContext(scope))
	require.NoError(t, err)
	require.Equal(t, tree.Running, s)
	a.Reset()

	s, err = pollUntilDone(t, a, newContext(scope))
	require.NoError(t, err)
	require.Equal(t, tree.Success, s)
	require.EqualValues(t, 2, scope.Blackboard.Get("calls"))
}

func TestScript_ClosedRuntime(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)
	rt.Close()
	s, err := pollUntilDone(t, NewScript(rt, "x", nil), newContext(nil))
	require.Equal(t, tree.Failure, s)
	require.ErrorIs(t, err, script.ErrNotRunning)
}
