package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeycumines/ticktree/internal/action"
	"github.com/joeycumines/ticktree/internal/config"
	"github.com/joeycumines/ticktree/internal/document"
	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/logging"
	"github.com/joeycumines/ticktree/internal/property"
	"github.com/joeycumines/ticktree/internal/runner"
	"github.com/joeycumines/ticktree/internal/script"
	"github.com/joeycumines/ticktree/internal/server"
	"github.com/joeycumines/ticktree/internal/storage"
	"github.com/joeycumines/ticktree/internal/telemetry"
	"github.com/joeycumines/ticktree/internal/tree"
)

// ErrTreeFailed is returned by run when the tree finished with Failure.
var ErrTreeFailed = errors.New("tree failed")

// RunCommand spawns a tree from a document and drives it to completion.
type RunCommand struct {
	*BaseCommand
	config *config.Config

	// Context, when set, bounds the run. Interrupts always cancel it.
	Context context.Context
	// Clock, when set, replaces the wall clock in virtual mode.
	Clock *runner.VirtualClock

	interval   time.Duration
	maxTicks   uint64
	seed       int64
	scriptMode string
	jsFile     string
	assets     string
	virtual    bool
	trace      bool
	metrics    bool
	color      string
	state      string
	listen     string
	logFlags   logFlags
}

// NewRunCommand creates a new run command.
func NewRunCommand(cfg *config.Config) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run a behavior tree document until it completes",
			"run [options] <tree.yaml>",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	fs.DurationVar(&c.interval, "interval", 0, "Tick interval (overrides tick.interval)")
	fs.Uint64Var(&c.maxTicks, "max-ticks", 0, "Stop with an error after this many ticks (overrides tick.max)")
	fs.Int64Var(&c.seed, "seed", -1, "Seed for random sequencers (overrides world.seed)")
	fs.StringVar(&c.scriptMode, "script", "", "Default expression language: expr, js (overrides script.mode)")
	fs.StringVar(&c.jsFile, "js", "", "JavaScript file loaded before the run, for script actions")
	fs.StringVar(&c.assets, "assets", "", "Directory subtree documents are loaded from (default: the document's directory)")
	fs.BoolVar(&c.virtual, "virtual", false, "Tick as fast as possible on a virtual clock")
	fs.BoolVar(&c.trace, "trace", false, "Print the tick trace")
	fs.BoolVar(&c.metrics, "metrics", false, "Collect metrics and print them after the run")
	fs.StringVar(&c.color, "color", "", "Trace colors: auto, always, never")
	fs.StringVar(&c.state, "state", "", "Checkpoint blackboards to this store and resume from it (overrides storage.url)")
	fs.StringVar(&c.listen, "listen", "", "Serve status, logs and metrics on this address (overrides server.listen)")
	c.logFlags.setup(fs)
}

// Execute runs the document named by args[0].
func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		_, _ = fmt.Fprintf(stderr, "Usage: ticktree %s\n", c.Usage())
		return fmt.Errorf("expected exactly one document, got %d", len(args))
	}
	path := args[0]

	schema := config.DefaultSchema()
	settings, err := schema.Settings(c.config)
	if err != nil {
		return err
	}
	c.applyFlags(&settings, path)

	logCfg := resolveLogConfig(c.logFlags, settings, stderr)
	logger, logCloser, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	colorMode := c.color
	if colorMode == "" {
		colorMode = schema.ResolveIn(c.config, "run", "color")
	}
	color, err := useColor(colorMode, stdout)
	if err != nil {
		return err
	}
	if !c.trace {
		c.trace, _ = config.ParseBool(schema.ResolveIn(c.config, "run", "trace"))
	}

	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	rt, err := script.NewRuntime(ctx)
	if err != nil {
		return fmt.Errorf("start script runtime: %w", err)
	}
	defer rt.Close()
	rt.SetTimeout(settings.ScriptTimeout)
	if c.jsFile != "" {
		src, err := os.ReadFile(c.jsFile)
		if err != nil {
			return err
		}
		if err := rt.LoadScript(filepath.Base(c.jsFile), string(src)); err != nil {
			return err
		}
	}

	lang := property.Lang(settings.ScriptMode)
	if lang != property.LangExpr && lang != property.LangJS {
		return fmt.Errorf("invalid script mode: %s", settings.ScriptMode)
	}
	resolver := property.NewMux(lang).
		Handle(property.LangExpr, property.NewExpr()).
		Handle(property.LangJS, property.NewJS(rt))

	actions := action.Builtins()
	actions.Register("script", action.ScriptFactory(rt))

	recorder := telemetry.NewRecorder()
	opts := []engine.Option{
		engine.WithContext(ctx),
		engine.WithResolver(resolver),
		engine.WithLoader(document.NewFSLoader(os.DirFS(settings.AssetsRoot))),
		engine.WithActions(actions),
		engine.WithLogger(logger),
		engine.WithSeed(settings.Seed),
		engine.WithObserver(recorder),
		engine.WithObserver(&telemetry.LogObserver{Logger: logger, Level: slog.LevelDebug}),
	}

	var reg *prometheus.Registry
	if settings.MetricsEnabled || settings.ServerListen != "" {
		reg = prometheus.NewRegistry()
		collector, err := telemetry.NewCollector(reg)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithObserver(collector))
	}

	var clock *runner.VirtualClock
	if c.virtual {
		clock = c.Clock
		if clock == nil {
			clock = runner.NewVirtualClock(time.Now())
		}
		opts = append(opts, engine.WithClock(clock))
	}

	world := engine.New(opts...)
	root, err := world.Spawn(doc)
	if err != nil {
		return err
	}

	runOpts := []runner.Option{
		runner.WithInterval(settings.TickInterval),
		runner.WithMaxTicks(settings.TickMax),
		runner.WithLogger(logger),
	}
	if clock != nil {
		runOpts = append(runOpts, runner.WithVirtualClock(clock))
	}

	var snapshots storage.Backend
	if settings.StorageURL != "" {
		snapshots, err = storage.Open(ctx, settings.StorageURL)
		if err != nil {
			return err
		}
		defer snapshots.Close()
		restored, err := storage.Restore(ctx, snapshots, world, root)
		if err != nil {
			return err
		}
		if restored {
			logger.Info("restored blackboard", "tree", storage.Key(world, root), "store", settings.StorageURL)
		}
		now := time.Now
		if clock != nil {
			now = clock.Now
		}
		runOpts = append(runOpts, runner.WithCheckpoint(storage.Checkpoint(snapshots, now), settings.CheckpointInterval))
	}

	if err := world.Start(root); err != nil {
		return err
	}
	r := runner.New(world, runOpts...)

	if settings.ServerListen != "" {
		handler := server.NewHandler(server.Options{
			Trees:     r,
			Gatherer:  reg,
			Logs:      logCfg.Ring,
			Snapshots: snapshots,
			Logger:    logger,
		})
		srvCtx, cancelSrv := context.WithCancel(ctx)
		srvDone := make(chan error, 1)
		go func() {
			srvDone <- server.Serve(srvCtx, settings.ServerListen, handler, func(a net.Addr) {
				logger.Info("status server listening", "addr", a.String())
			})
		}()
		defer func() {
			cancelSrv()
			if err := <-srvDone; err != nil {
				logger.Warn("status server stopped", "error", err)
			}
		}()
	}

	var res runner.Result
	if c.virtual {
		res, err = r.Step(ctx)
	} else {
		res, err = r.Run(ctx)
	}

	tr := traceRenderer{color: color}
	if c.trace {
		tr.Trace(stdout, recorder.Events())
	}
	status := res.Status[root]
	tr.Summary(stdout, storage.Key(world, root), status, res.Ticks)
	if settings.MetricsEnabled {
		writeMetrics(stdout, reg)
	}

	switch {
	case err != nil:
		return err
	case status == tree.Failure:
		return fmt.Errorf("%w: %s", ErrTreeFailed, storage.Key(world, root))
	}
	return nil
}

// applyFlags overlays set flags on the configured settings.
func (c *RunCommand) applyFlags(s *config.Settings, path string) {
	if c.interval > 0 {
		s.TickInterval = c.interval
	}
	if c.maxTicks > 0 {
		s.TickMax = c.maxTicks
	}
	if c.seed >= 0 {
		s.Seed = uint64(c.seed)
	}
	if c.scriptMode != "" {
		s.ScriptMode = c.scriptMode
	}
	if c.assets != "" {
		s.AssetsRoot = c.assets
	}
	if s.AssetsRoot == "" {
		s.AssetsRoot = filepath.Dir(path)
	}
	if c.metrics {
		s.MetricsEnabled = true
	}
	if c.state != "" {
		s.StorageURL = c.state
	}
	if c.listen != "" {
		s.ServerListen = c.listen
	}
}

func readDocument(path string) (*document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// writeMetrics prints every counter in reg as "name{labels} value".
func writeMetrics(w io.Writer, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		_, _ = fmt.Fprintf(w, "metrics unavailable: %v\n", err)
		return
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			labels := ""
			for i, l := range m.GetLabel() {
				if i > 0 {
					labels += ","
				}
				labels += fmt.Sprintf("%s=%q", l.GetName(), l.GetValue())
			}
			if labels != "" {
				labels = "{" + labels + "}"
			}
			_, _ = fmt.Fprintf(w, "%s%s %g\n", f.GetName(), labels, m.GetCounter().GetValue())
		}
	}
}
