package runner_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ticktree/internal/document"
	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/runner"
	"github.com/joeycumines/ticktree/internal/testutil"
	"github.com/joeycumines/ticktree/internal/tree"
)

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func spawn(t *testing.T, w *engine.World, root *document.Node) tree.NodeID {
	t.Helper()
	id, err := w.Spawn(&document.Document{Root: root})
	require.NoError(t, err)
	require.NoError(t, w.Start(id))
	return id
}

func TestRun_StopsWhenTreesFinish(t *testing.T) {
	t.Parallel()

	w := engine.New(engine.WithLogger(quiet()))
	a := spawn(t, w, document.New("sequence", nil, document.Action("succeed", nil), document.Action("succeed", nil)))
	b := spawn(t, w, document.New("selector", nil, document.Action("fail", nil)))

	r := runner.New(w, runner.WithInterval(time.Millisecond), runner.WithLogger(quiet()))
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(5), res.Ticks)
	require.Equal(t, tree.Success, res.Status[a])
	require.Equal(t, tree.Failure, res.Status[b])
	require.False(t, res.Succeeded())
}

func TestRun_TickLimit(t *testing.T) {
	t.Parallel()

	w := engine.New(engine.WithLogger(quiet()))
	root := spawn(t, w, document.New("repeater", nil, document.Action("succeed", nil)))

	r := runner.New(w, runner.WithInterval(time.Millisecond), runner.WithMaxTicks(7), runner.WithLogger(quiet()))
	res, err := r.Run(context.Background())
	require.ErrorIs(t, err, runner.ErrTickLimit)
	require.Equal(t, uint64(7), res.Ticks)
	require.Equal(t, tree.Running, res.Status[root])
}

func TestRun_ContextCancel(t *testing.T) {
	t.Parallel()

	w := engine.New(engine.WithLogger(quiet()))
	spawn(t, w, document.New("repeater", nil, document.Action("succeed", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	r := runner.New(w, runner.WithInterval(time.Millisecond), runner.WithLogger(quiet()))
	go func() {
		_ = testutil.Poll(context.Background(), func() bool {
			var ticks uint64
			r.Inspect(func(w *engine.World) { ticks = w.Ticks() })
			return ticks >= 3
		}, 5*time.Second, time.Millisecond)
		cancel()
	}()
	res, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, res.Ticks, uint64(3))
}

func TestRun_NothingToDo(t *testing.T) {
	t.Parallel()

	res, err := runner.New(engine.New()).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Ticks)
	require.True(t, res.Succeeded())
}

func TestRun_Checkpoints(t *testing.T) {
	t.Parallel()

	w := engine.New(engine.WithLogger(quiet()))
	spawn(t, w, document.New("sequence", nil, document.Action("ticks", map[string]any{"ticks": 30})))

	var calls atomic.Int32
	cp := func(_ context.Context, w *engine.World) error {
		calls.Add(1)
		return errors.New("ignored")
	}
	r := runner.New(w,
		runner.WithInterval(time.Millisecond),
		runner.WithCheckpoint(cp, 2*time.Millisecond),
		runner.WithLogger(quiet()),
	)
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	// At least the final checkpoint; periodic ones depend on scheduling.
	require.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestStep_VirtualClock(t *testing.T) {
	t.Parallel()

	clock := runner.NewVirtualClock(testutil.Epoch)
	w := engine.New(engine.WithClock(clock), engine.WithLogger(quiet()))
	root := spawn(t, w, document.New("wait", map[string]any{"duration": "2s"}))

	var seen []uint64
	cp := func(_ context.Context, w *engine.World) error {
		seen = append(seen, w.Ticks())
		return nil
	}
	r := runner.New(w,
		runner.WithInterval(500*time.Millisecond),
		runner.WithVirtualClock(clock),
		runner.WithCheckpoint(cp, time.Second),
	)
	res, err := r.Step(context.Background())
	require.NoError(t, err)
	// 2s must be exceeded: 2.5s is reached on tick 5.
	require.Equal(t, uint64(5), res.Ticks)
	require.Equal(t, tree.Success, res.Status[root])
	require.Equal(t, testutil.Epoch.Add(2500*time.Millisecond), clock.Now())
	require.Equal(t, []uint64{2, 4, 5}, seen)
}

func TestStep_TickLimitAndCancel(t *testing.T) {
	t.Parallel()

	w := engine.New(engine.WithLogger(quiet()))
	spawn(t, w, document.New("repeater", nil, document.Action("succeed", nil)))
	res, err := runner.New(w, runner.WithMaxTicks(4)).Step(context.Background())
	require.ErrorIs(t, err, runner.ErrTickLimit)
	require.Equal(t, uint64(4), res.Ticks)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err = runner.New(w).Step(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, uint64(4), res.Ticks)
}
