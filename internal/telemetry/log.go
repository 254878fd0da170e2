package telemetry

import (
	"context"
	"log/slog"

	"github.com/joeycumines/ticktree/internal/engine"
)

// LogObserver writes node events to a structured logger. Failures caused by
// errors are logged at warn level, everything else at Level.
type LogObserver struct {
	Logger *slog.Logger
	Level  slog.Level
	// Ticks, when set, also logs one record per tick.
	Ticks bool
}

// NodeEvent implements engine.Observer.
func (o *LogObserver) NodeEvent(ev engine.Event) {
	level := o.Level
	attrs := []slog.Attr{
		slog.Uint64("tick", ev.Tick),
		slog.Int("node", int(ev.Node)),
		slog.Int("root", int(ev.Root)),
		slog.String("kind", ev.Kind.String()),
		slog.String("name", ev.Name),
	}
	if ev.Err != nil {
		level = max(level, slog.LevelWarn)
		attrs = append(attrs, slog.Any("error", ev.Err))
	}
	o.logger().LogAttrs(context.Background(), level, "node "+ev.Type.String(), attrs...)
}

// TickDone implements engine.Observer.
func (o *LogObserver) TickDone(stats engine.TickStats) {
	if !o.Ticks {
		return
	}
	o.logger().LogAttrs(context.Background(), o.Level, "tick",
		slog.Uint64("tick", stats.Tick),
		slog.Int("propagated", stats.Propagated),
		slog.Int("evaluated", stats.Evaluated),
		slog.Int("applied", stats.Applied),
		slog.Int("dropped", stats.Dropped),
		slog.Duration("duration", stats.Duration),
	)
}

func (o *LogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
