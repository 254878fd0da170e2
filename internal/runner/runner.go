// Package runner drives a World in time. Run ticks it on a wall-clock
// interval using go-behaviortree tickers, and Step ticks it as fast as
// possible against a virtual clock, which makes runs reproducible.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/tree"
)

// ErrTickLimit is returned when the tick limit is reached before every tree
// finished.
var ErrTickLimit = errors.New("tick limit reached")

// DefaultInterval is the tick interval used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// Checkpoint is called periodically while the world runs, and once more
// after it stops. It runs under the runner's lock, between ticks.
type Checkpoint func(ctx context.Context, w *engine.World) error

// Advancer is a clock that can be moved forward, such as VirtualClock.
type Advancer interface {
	Advance(d time.Duration) time.Time
}

// Result summarizes a run.
type Result struct {
	Ticks  uint64
	Status map[tree.NodeID]tree.Status
}

// Succeeded reports whether every tree finished with Success.
func (r Result) Succeeded() bool {
	for _, s := range r.Status {
		if s != tree.Success {
			return false
		}
	}
	return true
}

// Runner serializes every access to its World.
type Runner struct {
	world    *engine.World
	interval time.Duration
	maxTicks uint64
	logger   *slog.Logger
	clock    Advancer

	checkpoint      Checkpoint
	checkpointEvery time.Duration

	mu sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option { return func(r *Runner) { r.interval = d } }

// WithMaxTicks bounds the run. Zero means unbounded.
func WithMaxTicks(n uint64) Option { return func(r *Runner) { r.maxTicks = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithVirtualClock makes Step advance c by the interval before each tick.
// c should be the clock the World was created with.
func WithVirtualClock(c Advancer) Option { return func(r *Runner) { r.clock = c } }

// WithCheckpoint calls fn every d while running.
func WithCheckpoint(fn Checkpoint, d time.Duration) Option {
	return func(r *Runner) {
		r.checkpoint = fn
		r.checkpointEvery = d
	}
}

// New returns a Runner for w.
func New(w *engine.World, opts ...Option) *Runner {
	r := &Runner{world: w, interval: DefaultInterval}
	for _, o := range opts {
		o(r)
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Inspect calls fn with the world while no tick is in progress.
func (r *Runner) Inspect(fn func(w *engine.World)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.world)
}

// step runs one tick and reports whether the run is over.
func (r *Runner) step() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.world.Tick()
	if r.world.AllDone() {
		return true, nil
	}
	if r.maxTicks > 0 && r.world.Ticks() >= r.maxTicks {
		return true, fmt.Errorf("%w: %d", ErrTickLimit, r.maxTicks)
	}
	return false, nil
}

// Run ticks the world every interval until every spawned tree is done, the
// tick limit is hit or ctx is done.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.isDone() {
		return r.result(), nil
	}

	manager := bt.NewManager()
	// The world ticker stops itself by failing once the run is over.
	worldTicker := bt.NewTickerStopOnFailure(ctx, r.interval, bt.New(func([]bt.Node) (bt.Status, error) {
		over, err := r.step()
		switch {
		case err != nil:
			return bt.Failure, err
		case over:
			return bt.Failure, nil
		}
		return bt.Running, nil
	}))
	if err := manager.Add(worldTicker); err != nil {
		worldTicker.Stop()
		manager.Stop()
		return r.result(), fmt.Errorf("start world ticker: %w", err)
	}

	if r.checkpoint != nil && r.checkpointEvery > 0 {
		cpTicker := bt.NewTicker(ctx, r.checkpointEvery, bt.New(func([]bt.Node) (bt.Status, error) {
			r.runCheckpoint(ctx)
			return bt.Running, nil
		}))
		if err := manager.Add(cpTicker); err != nil {
			cpTicker.Stop()
			r.logger.Warn("checkpoint ticker not started", "error", err)
		}
	}

	<-worldTicker.Done()
	err := worldTicker.Err()
	manager.Stop()
	<-manager.Done()
	if r.checkpoint != nil {
		r.runCheckpoint(context.WithoutCancel(ctx))
	}

	res := r.result()
	r.logger.Debug("run finished", "ticks", res.Ticks, "error", err)
	return res, err
}

// Step ticks the world synchronously until every spawned tree is done, the
// tick limit is hit or ctx is done. Checkpoints run every time the virtual
// clock passes the checkpoint interval, and once at the end.
func (r *Runner) Step(ctx context.Context) (Result, error) {
	var (
		err     error
		elapsed time.Duration
	)
	for !r.isDone() {
		if err = ctx.Err(); err != nil {
			break
		}
		if r.clock != nil {
			r.clock.Advance(r.interval)
		}
		var over bool
		if over, err = r.step(); over {
			break
		}
		elapsed += r.interval
		if r.checkpoint != nil && r.checkpointEvery > 0 && elapsed >= r.checkpointEvery {
			elapsed = 0
			r.runCheckpoint(ctx)
		}
	}
	if r.checkpoint != nil {
		r.runCheckpoint(context.WithoutCancel(ctx))
	}
	return r.result(), err
}

func (r *Runner) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.world.AllDone()
}

func (r *Runner) runCheckpoint(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkpoint(ctx, r.world); err != nil {
		r.logger.Warn("checkpoint failed", "tick", r.world.Ticks(), "error", err)
	}
}

func (r *Runner) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := Result{Ticks: r.world.Ticks(), Status: make(map[tree.NodeID]tree.Status)}
	for _, root := range r.world.Trees() {
		res.Status[root] = r.world.Status(root)
	}
	return res
}

// VirtualClock is a clock that only moves when advanced.
type VirtualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtualClock returns a clock reading start.
func NewVirtualClock(start time.Time) *VirtualClock { return &VirtualClock{now: start} }

// Now implements engine.Clock.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance implements Advancer.
func (c *VirtualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
