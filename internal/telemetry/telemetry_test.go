package telemetry_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/telemetry"
	"github.com/joeycumines/ticktree/internal/tree"
)

func TestRecorder_LinesSortWithinTick(t *testing.T) {
	t.Parallel()

	r := telemetry.NewRecorder()
	r.NodeEvent(engine.Event{Tick: 2, Type: engine.EventSucceeded, Name: "b"})
	r.NodeEvent(engine.Event{Tick: 1, Type: engine.EventStarted, Name: "c"})
	r.NodeEvent(engine.Event{Tick: 1, Type: engine.EventStarted, Name: "a"})
	r.NodeEvent(engine.Event{Tick: 2, Type: engine.EventFailed, Name: "a"})

	require.Equal(t, []string{
		"1 a started",
		"1 c started",
		"2 a failure",
		"2 b success",
	}, r.Lines())

	first, ok := r.First("a", engine.EventStarted)
	require.True(t, ok)
	require.Equal(t, uint64(1), first)
	_, ok = r.First("a", engine.EventHalted)
	require.False(t, ok)
	require.Equal(t, 1, r.Count("c", engine.EventStarted))
	require.Len(t, r.Named("a"), 2)

	r.Reset()
	require.Empty(t, r.Events())
	require.Empty(t, r.Lines())
}

func TestRecorder_Outcome(t *testing.T) {
	t.Parallel()

	r := telemetry.NewRecorder()
	require.Equal(t, tree.Idle, r.Outcome(3))
	r.NodeEvent(engine.Event{Node: 3, Type: engine.EventStarted})
	r.NodeEvent(engine.Event{Node: 3, Type: engine.EventFailed})
	r.NodeEvent(engine.Event{Node: 3, Type: engine.EventStarted})
	r.NodeEvent(engine.Event{Node: 4, Type: engine.EventFailed})
	r.NodeEvent(engine.Event{Node: 3, Type: engine.EventSucceeded})
	require.Equal(t, tree.Success, r.Outcome(3))
	require.Equal(t, tree.Failure, r.Outcome(4))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if labels[l.GetName()] != l.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := telemetry.NewCollector(reg)
	require.NoError(t, err)

	c.NodeEvent(engine.Event{Kind: tree.KindSequence, Type: engine.EventStarted})
	c.NodeEvent(engine.Event{Kind: tree.KindSequence, Type: engine.EventSucceeded})
	c.NodeEvent(engine.Event{Kind: tree.KindAction, Type: engine.EventStarted})
	c.NodeEvent(engine.Event{Kind: tree.KindAction, Type: engine.EventStarted})
	c.TickDone(engine.TickStats{Tick: 1, Evaluated: 3, Dropped: 1, Duration: time.Millisecond})
	c.TickDone(engine.TickStats{Tick: 2, Evaluated: 2})

	require.Equal(t, 2.0, counterValue(t, reg, "ticktree_node_events_total", map[string]string{"kind": "action", "event": "started"}))
	require.Equal(t, 1.0, counterValue(t, reg, "ticktree_node_events_total", map[string]string{"kind": "sequence", "event": "success"}))
	require.Equal(t, 2.0, counterValue(t, reg, "ticktree_ticks_total", nil))
	require.Equal(t, 5.0, counterValue(t, reg, "ticktree_evaluations_total", nil))
	require.Equal(t, 1.0, counterValue(t, reg, "ticktree_dropped_commands_total", nil))

	// Registering twice on one registry is rejected.
	_, err = telemetry.NewCollector(reg)
	require.Error(t, err)
}

func TestLogObserver(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	o := &telemetry.LogObserver{
		Logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Level:  slog.LevelDebug,
	}
	o.NodeEvent(engine.Event{Tick: 4, Type: engine.EventFailed, Node: 2, Kind: tree.KindTimeout, Name: "deadline", Err: errors.New("timed out")})
	o.TickDone(engine.TickStats{Tick: 4})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "WARN", rec["level"])
	require.Equal(t, "node failure", rec["msg"])
	require.Equal(t, "timeout", rec["kind"])
	require.Equal(t, "deadline", rec["name"])
	require.Equal(t, "timed out", rec["error"])
	require.Equal(t, 4.0, rec["tick"])

	buf.Reset()
	o.Ticks = true
	o.TickDone(engine.TickStats{Tick: 5, Evaluated: 7})
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "tick", rec["msg"])
	require.Equal(t, 7.0, rec["evaluated"])
}
