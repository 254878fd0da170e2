package command

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ticktree/internal/config"
	"github.com/joeycumines/ticktree/internal/runner"
	"github.com/joeycumines/ticktree/internal/storage"
)

func newTestRegistry(cfg *config.Config, configPath string) *Registry {
	r := NewRegistry()
	r.Register(NewHelpCommand(r))
	r.Register(NewVersionCommand("1.2.3"))
	r.Register(NewConfigCommand(cfg, configPath))
	r.Register(NewRunCommand(cfg))
	r.Register(NewValidateCommand(cfg))
	r.Register(NewSnapshotsCommand(cfg))
	return r
}

func dispatch(t *testing.T, cfg *config.Config, args ...string) (string, string, error) {
	t.Helper()
	if cfg == nil {
		cfg = config.NewConfig()
	}
	var stdout, stderr bytes.Buffer
	err := Dispatch(newTestRegistry(cfg, ""), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

const greeterDoc = `name: greeter
blackboard:
  visits: 3
tree:
  type: sequence
  children:
    - {type: action, name: wait, action: ticks, ticks: 2}
    - {type: action, name: mark, action: set, key: done, value: true}
`

func TestDispatch_Help(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{nil, {"-h"}, {"--help"}, {"help"}} {
		stdout, _, err := dispatch(t, nil, args...)
		require.NoError(t, err)
		require.Contains(t, stdout, "Usage: ticktree <command>")
		for _, name := range []string{"config", "help", "run", "snapshots", "validate", "version"} {
			require.Contains(t, stdout, "  "+name)
		}
	}

	stdout, _, err := dispatch(t, nil, "help", "run")
	require.NoError(t, err)
	require.Contains(t, stdout, "Command: run")
	require.Contains(t, stdout, "-max-ticks")
	require.Contains(t, stdout, "-log-level")

	// -h on a command prints its usage and is not an error.
	_, stderr, err := dispatch(t, nil, "validate", "-h")
	require.NoError(t, err)
	require.Contains(t, stderr, "Usage: ticktree validate")
}

func TestDispatch_UnknownCommand(t *testing.T) {
	t.Parallel()

	_, stderr, err := dispatch(t, nil, "fly")
	require.EqualError(t, err, "command not found: fly")
	require.Contains(t, stderr, "Unknown command: fly")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	stdout, _, err := dispatch(t, nil, "version")
	require.NoError(t, err)
	require.Equal(t, "ticktree version 1.2.3\n", stdout)

	_, _, err = dispatch(t, nil, "version", "extra")
	require.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config")
	cfg := config.NewConfig()
	reg := newTestRegistry(cfg, path)

	var stdout, stderr bytes.Buffer
	require.NoError(t, Dispatch(reg, []string{"config", "tick.interval", "250ms"}, &stdout, &stderr))
	require.Equal(t, "Set configuration: tick.interval = 250ms\n", stdout.String())
	require.Empty(t, stderr.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "tick.interval 250ms\n", string(data))

	stdout.Reset()
	require.NoError(t, Dispatch(reg, []string{"config", "tick.interval"}, &stdout, &stderr))
	require.Equal(t, "tick.interval: 250ms\n", stdout.String())

	stdout.Reset()
	require.NoError(t, Dispatch(reg, []string{"config", "validate"}, &stdout, &stderr))
	require.Contains(t, stdout.String(), "Configuration is valid")

	stdout.Reset()
	require.NoError(t, Dispatch(reg, []string{"config", "made.up", "1"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), `"made.up" is not a known option`)

	// Values a known option would reject are neither kept nor written.
	stdout.Reset()
	err = Dispatch(reg, []string{"config", "storage.url", "s3://bucket"}, &stdout, &stderr)
	require.ErrorIs(t, err, ErrInvalidOption)
	require.ErrorContains(t, err, `unsupported storage scheme "s3"`)
	_, ok := cfg.Get("", "storage.url")
	require.False(t, ok)

	stdout.Reset()
	require.NoError(t, Dispatch(reg, []string{"config", "-section", "run", "color", "never"}, &stdout, &stderr))
	require.Equal(t, "Set configuration: [run] color = never\n", stdout.String())
	err = Dispatch(reg, []string{"config", "-section", "run", "color", "purple"}, &stdout, &stderr)
	require.ErrorIs(t, err, ErrInvalidOption)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "tick.interval 250ms\nmade.up 1\n\n[run]\ncolor never\n", string(data))

	stdout.Reset()
	require.NoError(t, Dispatch(reg, []string{"config", "-section", "run", "color"}, &stdout, &stderr))
	require.Equal(t, "[run] color: never\n", stdout.String())

	stdout.Reset()
	require.NoError(t, Dispatch(reg, []string{"config", "missing.key"}, &stdout, &stderr))
	require.Equal(t, "Configuration key 'missing.key' not found\n", stdout.String())
}

func TestConfigCommand_ListShowsOrigin(t *testing.T) {
	t.Setenv("TICKTREE_SEED", "99")

	cfg := config.NewConfig()
	cfg.Set("", "tick.max", "12")
	cfg.Set("validate", "strict", "yes")
	stdout, _, err := dispatch(t, cfg, "config")
	require.NoError(t, err)

	rows := map[string][]string{}
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n")[1:] {
		fields := strings.Fields(strings.TrimPrefix(line, "[validate] "))
		rows[fields[0]] = fields[1:]
	}
	require.Equal(t, []string{"12", "file"}, rows["tick.max"])
	require.Equal(t, []string{"99", "env"}, rows["world.seed"])
	require.Equal(t, []string{"100ms", "default"}, rows["tick.interval"])
	require.Equal(t, []string{"-", "unset"}, rows["log.file"])
	require.Equal(t, []string{"yes", "file"}, rows["strict"])
}

func TestRunCommand_Virtual(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	doc := writeFile(t, dir, "greeter.yaml", greeterDoc)

	stdout, stderr, err := dispatch(t, nil, "run", "-virtual", "-trace", "-color", "never", doc)
	require.NoError(t, err, stderr)
	require.Contains(t, stdout, "greeter success after ")

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Greater(t, len(lines), 1)
	first := strings.Fields(lines[0])
	require.Equal(t, []string{"0", "sequence", "started"}, first)
	require.Contains(t, stdout, "wait")
	require.Contains(t, stdout, "mark")
	require.NotContains(t, stdout, "\x1b[")
}

func TestRunCommand_Failure(t *testing.T) {
	t.Parallel()

	doc := writeFile(t, t.TempDir(), "doomed.yaml", `name: doomed
tree: {type: action, action: fail}
`)
	stdout, _, err := dispatch(t, nil, "run", "-virtual", doc)
	require.ErrorIs(t, err, ErrTreeFailed)
	require.Contains(t, stdout, "doomed failure after ")
}

func TestRunCommand_TickLimit(t *testing.T) {
	t.Parallel()

	doc := writeFile(t, t.TempDir(), "slow.yaml", `name: slow
tree: {type: action, action: ticks, ticks: 100}
`)
	stdout, _, err := dispatch(t, nil, "run", "-virtual", "-max-ticks", "3", doc)
	require.ErrorIs(t, err, runner.ErrTickLimit)
	require.Contains(t, stdout, "slow running after 3 ticks")

	// The limit can come from config too.
	cfg := config.NewConfig()
	cfg.Set("", "tick.max", "4")
	stdout, _, err = dispatch(t, cfg, "run", "-virtual", doc)
	require.ErrorIs(t, err, runner.ErrTickLimit)
	require.Contains(t, stdout, "slow running after 4 ticks")
}

func TestRunCommand_Metrics(t *testing.T) {
	t.Parallel()

	doc := writeFile(t, t.TempDir(), "greeter.yaml", greeterDoc)
	stdout, _, err := dispatch(t, nil, "run", "-virtual", "-metrics", doc)
	require.NoError(t, err)
	require.Contains(t, stdout, "ticktree_ticks_total ")
	require.Contains(t, stdout, `ticktree_node_events_total{event="started",kind="action"} 2`)
}

func TestRunCommand_CheckpointAndResume(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	state := filepath.Join(dir, "state")
	doc := writeFile(t, dir, "greeter.yaml", greeterDoc)

	_, stderr, err := dispatch(t, nil, "run", "-virtual", "-state", state, doc)
	require.NoError(t, err, stderr)

	b, err := storage.NewFileSystemBackend(state)
	require.NoError(t, err)
	snap, err := b.Load(context.Background(), "greeter")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, "success", snap.Status)
	require.Equal(t, true, snap.Blackboard["done"])
	require.Equal(t, 3.0, snap.Blackboard["visits"])

	// A resumed run starts from the saved blackboard.
	snap.Blackboard["visits"] = 7.0
	require.NoError(t, b.Save(context.Background(), snap))
	require.NoError(t, b.Close())

	_, stderr, err = dispatch(t, nil, "run", "-virtual", "-state", state, doc)
	require.NoError(t, err)
	require.Contains(t, stderr, "restored blackboard")

	stdout, _, err := dispatch(t, nil, "snapshots", "-state", state, "show", "greeter")
	require.NoError(t, err)
	require.Contains(t, stdout, `"visits": 7`)
}

func TestRunCommand_Script(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	js := writeFile(t, dir, "lib.js", `function ready(bb, args) { return args.want; }`)
	doc := writeFile(t, dir, "scripted.yaml", `name: scripted
blackboard: {hp: 10}
tree:
  type: sequence
  children:
    - type: guard
      condition: {js: "bb.get('hp') > 5"}
      children:
        - {type: action, action: script, function: ready, args: {want: success}}
    - type: guard
      condition: {expr: "hp > 5"}
      children:
        - {type: action, action: succeed}
`)
	stdout, stderr, err := dispatch(t, nil, "run", "-virtual", "-js", js, doc)
	require.NoError(t, err, stderr)
	require.Contains(t, stdout, "scripted success after ")
}

func TestRunCommand_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	doc := writeFile(t, dir, "greeter.yaml", greeterDoc)
	bad := writeFile(t, dir, "bad.yaml", "tree: {type: parallelogram}\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no document", []string{"run"}, "expected exactly one document"},
		{"missing file", []string{"run", filepath.Join(dir, "nope.yaml")}, "no such file"},
		{"unassemblable", []string{"run", bad}, "assemble tree"},
		{"bad script mode", []string{"run", "-script", "lua", doc}, "invalid script mode: lua"},
		{"bad color", []string{"run", "-color", "rainbow", doc}, "invalid color mode: rainbow"},
		{"bad store", []string{"run", "-virtual", "-state", "ftp://x", doc}, `unsupported storage scheme "ftp"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := dispatch(t, nil, tt.args...)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", greeterDoc)
	custom := writeFile(t, dir, "custom.yaml", `tree:
  type: sequence
  children:
    - {type: action, action: dance}
    - {type: subtree, path: parts/leaf.yaml}
`)
	writeFile(t, dir, "parts/leaf.yaml", "tree: {type: action, action: succeed}\n")
	broken := writeFile(t, dir, "broken.yaml", `tree:
  type: sequence
  children:
    - {type: subtree, path: parts/missing.yaml}
    - {type: wait}
`)

	stdout, _, err := dispatch(t, nil, "validate", good, custom)
	require.NoError(t, err)
	require.Contains(t, stdout, good+": ok\n")
	require.Contains(t, stdout, custom+`: warning: unknown action "dance"`)
	require.Contains(t, stdout, custom+": ok\n")

	stdout, _, err = dispatch(t, nil, "validate", "-strict", custom)
	require.ErrorIs(t, err, ErrInvalidDocuments)
	require.Contains(t, stdout, custom+`: unknown action "dance"`)

	cfg := config.NewConfig()
	cfg.Set("validate", "strict", "true")
	_, _, err = dispatch(t, cfg, "validate", custom)
	require.ErrorIs(t, err, ErrInvalidDocuments)

	stdout, _, err = dispatch(t, nil, "validate", good, broken)
	require.ErrorContains(t, err, "1 of 2")
	require.Contains(t, stdout, broken+": assemble tree")
	require.Contains(t, stdout, "subtree parts/missing.yaml")

	_, _, err = dispatch(t, nil, "validate")
	require.Error(t, err)
}

func TestSnapshotsCommand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b, err := storage.NewFileSystemBackend(dir)
	require.NoError(t, err)
	for i, key := range []string{"old", "mid", "new"} {
		require.NoError(t, b.Save(ctx, &storage.Snapshot{
			Version:    storage.CurrentSchemaVersion,
			Key:        key,
			SavedAt:    now.Add(time.Duration(i-3) * time.Hour),
			Blackboard: map[string]any{"n": i},
		}))
	}
	require.NoError(t, b.Close())

	run := func(args ...string) (string, error) {
		t.Helper()
		cmd := NewSnapshotsCommand(config.NewConfig())
		cmd.Now = func() time.Time { return now }
		r := NewRegistry()
		r.Register(cmd)
		var stdout, stderr bytes.Buffer
		err := Dispatch(r, append([]string{"snapshots", "-state", dir}, args...), &stdout, &stderr)
		return stdout.String(), err
	}

	out, err := run("list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "KEY"))
	require.True(t, strings.HasPrefix(lines[1], "mid "))
	require.True(t, strings.HasPrefix(lines[2], "new "))
	require.True(t, strings.HasPrefix(lines[3], "old "))

	out, err = run("show", "mid")
	require.NoError(t, err)
	require.Contains(t, out, `"key": "mid"`)
	require.Contains(t, out, `"n": 1`)

	_, err = run("show", "ghost")
	require.ErrorContains(t, err, "snapshot not found: ghost")

	out, err = run("prune", "-max-count", "1", "-dry-run")
	require.NoError(t, err)
	require.Equal(t, "Would remove mid\nWould remove old\n2 removed, 0 kept\n", out)

	out, err = run("prune", "-max-age", "150m", "new")
	require.NoError(t, err)
	require.Equal(t, "Removed old\n1 removed, 1 kept\n", out)

	out, err = run("delete", "mid")
	require.NoError(t, err)
	require.Equal(t, "Deleted mid\n", out)

	out, err = run("list")
	require.NoError(t, err)
	require.Contains(t, out, "new ")
	require.NotContains(t, out, "mid")

	_, err = run("prune")
	require.ErrorContains(t, err, "prune needs")
	_, err = run("dance")
	require.ErrorContains(t, err, "unknown snapshots subcommand")
}

func TestSnapshotsCommand_NoStore(t *testing.T) {
	t.Parallel()

	_, _, err := dispatch(t, nil, "snapshots", "list")
	require.ErrorContains(t, err, "no snapshot store configured")
}
