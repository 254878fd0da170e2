// Package command implements the ticktree command line: a registry of
// commands, each parsing its own flags.
package command

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

// Command is one ticktree subcommand.
type Command interface {
	// Name is the word that selects the command.
	Name() string

	// Description is the one-line summary shown by help.
	Description() string

	// Usage is the synopsis after "ticktree".
	Usage() string

	// SetupFlags binds the command's flags. It runs before every Execute.
	SetupFlags(fs *flag.FlagSet)

	// Execute runs the command with the arguments left after flag parsing.
	Execute(args []string, stdout, stderr io.Writer) error
}

// BaseCommand carries the descriptive parts of a Command for embedding.
type BaseCommand struct {
	name        string
	description string
	usage       string
}

func NewBaseCommand(name, description, usage string) *BaseCommand {
	return &BaseCommand{
		name:        name,
		description: description,
		usage:       usage,
	}
}

func (c *BaseCommand) Name() string { return c.name }

func (c *BaseCommand) Description() string { return c.description }

func (c *BaseCommand) Usage() string { return c.usage }

// SetupFlags binds no flags.
func (c *BaseCommand) SetupFlags(fs *flag.FlagSet) {}

// Dispatch runs the command named by args[0] with the remaining arguments.
// No arguments, -h and --help show the general help.
func Dispatch(registry *Registry, args []string, stdout, stderr io.Writer) error {
	help := NewHelpCommand(registry)
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return help.Execute(nil, stdout, stderr)
	}

	cmd, err := registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		_, _ = fmt.Fprintln(stderr, "Use 'ticktree help' to see available commands.")
		return err
	}

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: ticktree %s\n", cmd.Usage())
		_, _ = fmt.Fprintf(stderr, "\n%s\n\n", cmd.Description())
		_, _ = fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}
	cmd.SetupFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	return cmd.Execute(fs.Args(), stdout, stderr)
}
