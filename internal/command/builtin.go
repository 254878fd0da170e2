package command

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/joeycumines/ticktree/internal/config"
)

// HelpCommand lists the commands, or describes one with its flags.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a help command listing the commands in registry.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand("help", "Show the commands, or the flags of one command", "help [command]"),
		registry:    registry,
	}
}

func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	switch len(args) {
	case 0:
		c.overview(stdout)
		return nil
	case 1:
	default:
		return fmt.Errorf("help takes at most one command, got %d", len(args))
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}
	_, _ = fmt.Fprintf(stdout, "Command: %s\n%s\n\nUsage: ticktree %s\n", cmd.Name(), cmd.Description(), cmd.Usage())

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	var flags strings.Builder
	fs.SetOutput(&flags)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if flags.Len() != 0 {
		_, _ = fmt.Fprintf(stdout, "\nFlags:\n%s", flags.String())
	}
	return nil
}

func (c *HelpCommand) overview(w io.Writer) {
	_, _ = fmt.Fprint(w, "ticktree - run tick-driven behavior trees\n\nUsage: ticktree <command> [flags] [args...]\n\nCommands:\n")
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, name := range c.registry.List() {
		cmd, _ := c.registry.Get(name)
		_, _ = fmt.Fprintf(tw, "  %s\t%s\n", name, cmd.Description())
	}
	_ = tw.Flush()
	_, _ = fmt.Fprint(w, "\nRun 'ticktree help <command>' for its flags.\n")
}

// VersionCommand prints the build version.
type VersionCommand struct {
	*BaseCommand
	version string
}

func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand("version", "Print the ticktree version", "version"),
		version:     version,
	}
}

func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) != 0 {
		return fmt.Errorf("version takes no arguments, got %q", args)
	}
	_, _ = fmt.Fprintf(stdout, "ticktree version %s\n", c.version)
	return nil
}

// ErrInvalidOption is returned when config is asked to store a value its
// option does not accept.
var ErrInvalidOption = errors.New("invalid option value")

// ConfigCommand shows, checks and changes configuration.
//
//	config                      effective value and origin of every option
//	config <key>                effective value of one option
//	config <key> <value>        set an option and persist it
//	config validate             check the loaded file
//	config schema               describe every option
//
// -section selects a command section for get and set.
type ConfigCommand struct {
	*BaseCommand
	config  *config.Config
	path    string
	section string
}

// NewConfigCommand creates a config command. With an empty path, values
// are set for this process only.
func NewConfigCommand(cfg *config.Config, path string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand("config", "Show, check and change configuration", "config [-section name] [validate | schema | key [value]]"),
		config:      cfg,
		path:        path,
	}
}

func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.section, "section", "", "Command section to read or write, such as run or validate")
}

func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	schema := config.DefaultSchema()
	switch {
	case len(args) == 0:
		c.list(schema, stdout)
		return nil
	case len(args) == 1 && args[0] == "validate":
		return c.validate(schema, stdout)
	case len(args) == 1 && args[0] == "schema":
		_, _ = fmt.Fprint(stdout, schema.FormatHelp())
		return nil
	case len(args) == 1:
		c.get(schema, args[0], stdout)
		return nil
	case len(args) == 2:
		return c.set(schema, args[0], args[1], stdout, stderr)
	}
	return fmt.Errorf("config takes at most two arguments, got %d", len(args))
}

func (c *ConfigCommand) list(schema *config.Schema, w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "OPTION\tVALUE\tFROM")
	row := func(o config.Option) {
		v, from := schema.Explain(c.config, o.Section, o.Key)
		if from == config.OriginUnset {
			v, from = "-", "unset"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Name(), v, from)
	}
	for _, o := range schema.Options("") {
		row(o)
	}
	for _, sec := range schema.Sections() {
		for _, o := range schema.Options(sec) {
			row(o)
		}
	}
	_ = tw.Flush()
}

func (c *ConfigCommand) get(schema *config.Schema, key string, w io.Writer) {
	v, from := schema.Explain(c.config, c.section, key)
	name := (&config.Option{Section: c.section, Key: key}).Name()
	if from == config.OriginUnset {
		if _, ok := c.config.Get(c.section, key); !ok {
			_, _ = fmt.Fprintf(w, "Configuration key '%s' not found\n", name)
			return
		}
	}
	_, _ = fmt.Fprintf(w, "%s: %s\n", name, v)
}

func (c *ConfigCommand) set(schema *config.Schema, key, value string, stdout, stderr io.Writer) error {
	name := (&config.Option{Section: c.section, Key: key}).Name()
	if err := schema.CheckEntry(c.section, key, value); err != nil {
		if schema.Lookup(c.section, key) == nil && schema.Lookup("", key) == nil {
			_, _ = fmt.Fprintf(stderr, "Warning: %q is not a known option\n", key)
		} else {
			return fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
	}
	c.config.Set(c.section, key, value)
	if c.path != "" {
		if err := config.SetOption(c.path, c.section, key, value); err != nil {
			_, _ = fmt.Fprintf(stderr, "Warning: failed to persist config to disk: %v\n", err)
		}
	}
	_, _ = fmt.Fprintf(stdout, "Set configuration: %s = %s\n", name, value)
	return nil
}

func (c *ConfigCommand) validate(schema *config.Schema, w io.Writer) error {
	issues := schema.Validate(c.config)
	if len(issues) == 0 {
		_, _ = fmt.Fprintln(w, "Configuration is valid.")
		return nil
	}
	_, _ = fmt.Fprintf(w, "Configuration has %d issue(s):\n", len(issues))
	for _, issue := range issues {
		_, _ = fmt.Fprintf(w, "  - %s\n", issue)
	}
	return nil
}
