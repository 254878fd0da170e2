package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeycumines/ticktree/internal/engine"
)

// Collector exports world activity as Prometheus metrics.
type Collector struct {
	events    *prometheus.CounterVec
	ticks     prometheus.Counter
	evaluated prometheus.Counter
	dropped   prometheus.Counter
	duration  prometheus.Histogram
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticktree_node_events_total",
				Help: "Node lifecycle events by node kind and event type.",
			},
			[]string{"kind", "event"},
		),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticktree_ticks_total",
			Help: "Completed ticks.",
		}),
		evaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticktree_evaluations_total",
			Help: "Node evaluations run in the evaluate phase.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticktree_dropped_commands_total",
			Help: "Deferred writes discarded because their node changed state earlier in the tick.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticktree_tick_duration_seconds",
			Help:    "Wall time spent in World.Tick.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
	for _, m := range []prometheus.Collector{c.events, c.ticks, c.evaluated, c.dropped, c.duration} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NodeEvent implements engine.Observer.
func (c *Collector) NodeEvent(ev engine.Event) {
	c.events.WithLabelValues(ev.Kind.String(), ev.Type.String()).Inc()
}

// TickDone implements engine.Observer.
func (c *Collector) TickDone(stats engine.TickStats) {
	c.ticks.Inc()
	c.evaluated.Add(float64(stats.Evaluated))
	c.dropped.Add(float64(stats.Dropped))
	c.duration.Observe(stats.Duration.Seconds())
}
