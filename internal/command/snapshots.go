package command

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/joeycumines/ticktree/internal/config"
	"github.com/joeycumines/ticktree/internal/storage"
)

// SnapshotsCommand manages stored blackboard snapshots.
type SnapshotsCommand struct {
	*BaseCommand
	config *config.Config
	state  string

	// Now overrides the clock used by prune.
	Now func() time.Time
}

// NewSnapshotsCommand creates a new snapshots command.
func NewSnapshotsCommand(cfg *config.Config) *SnapshotsCommand {
	return &SnapshotsCommand{
		BaseCommand: NewBaseCommand(
			"snapshots",
			"List, show, delete and prune stored blackboard snapshots",
			"snapshots [-state url] list|show <key>|delete <key>|prune [-max-age d] [-max-count n] [-dry-run]",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the snapshots command.
func (c *SnapshotsCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.state, "state", "", "Snapshot store URL (overrides storage.url)")
}

// Execute runs a snapshots subcommand.
func (c *SnapshotsCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintf(stderr, "Usage: ticktree %s\n", c.Usage())
		return errors.New("missing subcommand")
	}
	url := c.state
	if url == "" {
		url = config.DefaultSchema().Resolve(c.config, "storage.url")
	}
	if url == "" {
		return errors.New("no snapshot store configured: set storage.url or pass -state")
	}

	ctx := context.Background()
	b, err := storage.Open(ctx, url)
	if err != nil {
		return err
	}
	defer b.Close()

	sub, rest := args[0], args[1:]
	switch sub {
	case "list", "ls":
		return c.list(ctx, b, stdout)
	case "show", "delete", "rm":
		if len(rest) != 1 {
			return fmt.Errorf("%s requires exactly one key", sub)
		}
		if sub == "show" {
			return c.show(ctx, b, rest[0], stdout)
		}
		if err := b.Delete(ctx, rest[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "Deleted %s\n", rest[0])
		return nil
	case "prune":
		return c.prune(ctx, b, rest, stdout, stderr)
	default:
		return fmt.Errorf("unknown snapshots subcommand: %s", sub)
	}
}

func (c *SnapshotsCommand) list(ctx context.Context, b storage.Backend, stdout io.Writer) error {
	infos, err := b.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		_, _ = fmt.Fprintln(stdout, "No snapshots.")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KEY\tSIZE\tSAVED")
	for _, info := range infos {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Key, info.Size, info.SavedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func (c *SnapshotsCommand) show(ctx context.Context, b storage.Backend, key string, stdout io.Writer) error {
	snap, err := b.Load(ctx, key)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("snapshot not found: %s", key)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func (c *SnapshotsCommand) prune(ctx context.Context, b storage.Backend, args []string, stdout, stderr io.Writer) error {
	cleaner := storage.Cleaner{Now: c.Now}
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.DurationVar(&cleaner.MaxAge, "max-age", 0, "Remove snapshots older than this")
	fs.IntVar(&cleaner.MaxCount, "max-count", 0, "Keep only this many of the newest snapshots")
	fs.BoolVar(&cleaner.DryRun, "dry-run", false, "Report what would be removed without removing it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cleaner.MaxAge <= 0 && cleaner.MaxCount <= 0 {
		return errors.New("prune needs -max-age or -max-count")
	}

	report, err := cleaner.ExecuteCleanup(ctx, b, fs.Args()...)
	if err != nil {
		return err
	}
	verb := "Removed"
	if cleaner.DryRun {
		verb = "Would remove"
	}
	for _, key := range report.Removed {
		_, _ = fmt.Fprintf(stdout, "%s %s\n", verb, key)
	}
	_, _ = fmt.Fprintf(stdout, "%d removed, %d kept\n", len(report.Removed), len(report.Skipped))
	return nil
}
