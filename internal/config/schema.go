package config

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joeycumines/ticktree/internal/logging"
	"github.com/joeycumines/ticktree/internal/property"
	"github.com/joeycumines/ticktree/internal/storage"
)

// Kind is the value type of an option. It decides how a value is checked
// when a config file is parsed or an option is set from the command line.
type Kind uint8

const (
	KindString Kind = iota
	KindBool
	// KindCount is a non-negative integer.
	KindCount
	// KindDuration is a positive Go duration such as 250ms or 1m30s.
	KindDuration
	// KindEnum is one of Option.Choices.
	KindEnum
	// KindStorage is a snapshot store URL accepted by storage.Open.
	KindStorage
	// KindAddress is a host:port listen address.
	KindAddress
	// KindLevel is a log level accepted by logging.ParseLevel.
	KindLevel
)

var kindNames = [...]string{
	KindString:   "string",
	KindBool:     "bool",
	KindCount:    "count",
	KindDuration: "duration",
	KindEnum:     "enum",
	KindStorage:  "storage-url",
	KindAddress:  "address",
	KindLevel:    "level",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Option describes one config key.
type Option struct {
	Key string
	// Section is empty for global options, otherwise the command that
	// reads the option from its [section].
	Section string
	Kind    Kind
	Choices []string
	Default string
	// Env names the environment variable overriding a global option.
	Env   string
	Usage string
}

// Name is the key as written in messages: "tick.max" or "[run] trace".
func (o *Option) Name() string { return qualify(o.Section, o.Key) }

// Check reports whether value is acceptable for o.
func (o *Option) Check(value string) error {
	switch o.Kind {
	case KindBool:
		if _, err := ParseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case KindCount:
		if _, err := strconv.ParseUint(value, 10, 64); err != nil {
			return fmt.Errorf("expected a non-negative integer, got %q", value)
		}
	case KindDuration:
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("expected a positive duration, got %q", value)
		}
	case KindEnum:
		if !slices.Contains(o.Choices, value) {
			return fmt.Errorf("expected one of %s, got %q", strings.Join(o.Choices, "|"), value)
		}
	case KindStorage:
		if value == "" {
			return nil
		}
		return storage.CheckURL(value)
	case KindAddress:
		if value == "" {
			return nil
		}
		if _, _, err := net.SplitHostPort(value); err != nil {
			return fmt.Errorf("expected host:port, got %q", value)
		}
	case KindLevel:
		if _, err := logging.ParseLevel(value); err != nil {
			return err
		}
	}
	return nil
}

func qualify(section, key string) string {
	if section == "" {
		return key
	}
	return "[" + section + "] " + key
}

// Schema is the set of options ticktree understands.
type Schema struct {
	opts  []Option
	index map[string]int
}

// NewSchema returns a schema declaring opts, in order. A later option with
// the same section and key replaces the earlier one.
func NewSchema(opts ...Option) *Schema {
	s := &Schema{index: make(map[string]int, len(opts))}
	for _, o := range opts {
		if i, ok := s.index[o.Name()]; ok {
			s.opts[i] = o
			continue
		}
		s.index[o.Name()] = len(s.opts)
		s.opts = append(s.opts, o)
	}
	return s
}

// Lookup returns the option declared for key in section, or nil.
func (s *Schema) Lookup(section, key string) *Option {
	if i, ok := s.index[qualify(section, key)]; ok {
		return &s.opts[i]
	}
	return nil
}

// find is Lookup with the fallback used inside a [section]: any global
// option may be repeated there to shadow the global value.
func (s *Schema) find(section, key string) *Option {
	if o := s.Lookup(section, key); o != nil || section == "" {
		return o
	}
	return s.Lookup("", key)
}

// Options returns the options of one section, "" for the global ones.
func (s *Schema) Options(section string) []Option {
	var out []Option
	for _, o := range s.opts {
		if o.Section == section {
			out = append(out, o)
		}
	}
	return out
}

// Sections returns the sorted names of the sections with options.
func (s *Schema) Sections() []string {
	var out []string
	for _, o := range s.opts {
		if o.Section != "" && !slices.Contains(out, o.Section) {
			out = append(out, o.Section)
		}
	}
	slices.Sort(out)
	return out
}

// CheckEntry validates a single "key value" entry found in section.
func (s *Schema) CheckEntry(section, key, value string) error {
	o := s.find(section, key)
	if o == nil {
		return fmt.Errorf("unknown option %q", qualify(section, key))
	}
	if err := o.Check(value); err != nil {
		return fmt.Errorf("%s: %w", qualify(section, key), err)
	}
	return nil
}

// Validate checks every entry of c and returns the problems, sorted.
func (s *Schema) Validate(c *Config) []string {
	var issues []string
	check := func(section string, entries map[string]string) {
		for key, value := range entries {
			if err := s.CheckEntry(section, key, value); err != nil {
				issues = append(issues, err.Error())
			}
		}
	}
	check("", c.Global)
	for section, entries := range c.Commands {
		check(section, entries)
	}
	slices.Sort(issues)
	return issues
}

// Origin says where a resolved value came from.
type Origin string

const (
	OriginUnset   Origin = ""
	OriginEnv     Origin = "env"
	OriginFile    Origin = "file"
	OriginDefault Origin = "default"
)

// Explain resolves key as seen by the command reading section ("" for a
// global lookup) and reports where the value came from. The order is the
// [section] entry, the environment, the global entry, then the default.
func (s *Schema) Explain(c *Config, section, key string) (string, Origin) {
	if section != "" {
		if v, ok := c.Commands[section][key]; ok {
			return v, OriginFile
		}
	}
	global := s.Lookup("", key)
	if global != nil && global.Env != "" {
		if v, ok := os.LookupEnv(global.Env); ok {
			return v, OriginEnv
		}
	}
	if v, ok := c.Global[key]; ok {
		return v, OriginFile
	}
	if o := s.find(section, key); o != nil && o.Default != "" {
		return o.Default, OriginDefault
	}
	return "", OriginUnset
}

// Resolve returns the effective value of a global option.
func (s *Schema) Resolve(c *Config, key string) string {
	v, _ := s.Explain(c, "", key)
	return v
}

// ResolveIn returns the effective value of key for the command reading
// section.
func (s *Schema) ResolveIn(c *Config, section, key string) string {
	v, _ := s.Explain(c, section, key)
	return v
}

// FormatHelp renders the schema as a table per section.
func (s *Schema) FormatHelp() string {
	var b strings.Builder
	table := func(title string, opts []Option) {
		b.WriteString(title)
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		for _, o := range opts {
			typ := o.Kind.String()
			if o.Kind == KindEnum {
				typ = strings.Join(o.Choices, "|")
			}
			def := o.Default
			if def == "" {
				def = "-"
			}
			usage := o.Usage
			if o.Env != "" {
				usage += " ($" + o.Env + ")"
			}
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", o.Key, typ, def, usage)
		}
		_ = w.Flush()
	}
	table("Global Options:\n", s.Options(""))
	for _, sec := range s.Sections() {
		table("\n["+sec+"] Options:\n", s.Options(sec))
	}
	return b.String()
}

// DefaultSchema declares every option ticktree reads.
func DefaultSchema() *Schema {
	return NewSchema(
		Option{Key: "tick.interval", Kind: KindDuration, Default: "100ms", Env: "TICKTREE_TICK_INTERVAL", Usage: "Wall-clock interval between ticks"},
		Option{Key: "tick.max", Kind: KindCount, Default: "0", Env: "TICKTREE_TICK_MAX", Usage: "Stop after this many ticks, 0 for no limit"},
		Option{Key: "world.seed", Kind: KindCount, Default: "1", Env: "TICKTREE_SEED", Usage: "Seed for random sequencer shuffles"},

		Option{Key: "script.mode", Kind: KindEnum, Choices: []string{string(property.LangExpr), string(property.LangJS)}, Default: string(property.LangExpr), Usage: "Language of untagged property expressions"},
		Option{Key: "script.timeout", Kind: KindDuration, Default: "5s", Usage: "Timeout for loading the -js script"},
		Option{Key: "assets.root", Default: "", Env: "TICKTREE_ASSETS", Usage: "Directory subtree paths are resolved against"},

		Option{Key: "metrics.enabled", Kind: KindBool, Default: "false", Usage: "Collect Prometheus metrics"},
		Option{Key: "server.listen", Kind: KindAddress, Default: "", Env: "TICKTREE_LISTEN", Usage: "Status server address, empty to disable"},

		Option{Key: "storage.url", Kind: KindStorage, Default: "", Env: "TICKTREE_STORAGE", Usage: "Snapshot store: memory://, file:///dir or redis://host:port/db"},
		Option{Key: "storage.checkpoint-interval", Kind: KindDuration, Default: "1s", Usage: "Interval between blackboard checkpoints"},

		Option{Key: "log.file", Default: "", Env: "TICKTREE_LOG_FILE", Usage: "JSON log file path"},
		Option{Key: "log.level", Kind: KindLevel, Default: "info", Env: "TICKTREE_LOG_LEVEL", Usage: "Minimum log level: debug, info, warn, error"},
		Option{Key: "log.format", Kind: KindEnum, Choices: []string{"text", "json"}, Default: "text", Usage: "Format of stderr logs"},
		Option{Key: "log.max-size-mb", Kind: KindCount, Default: "10", Usage: "Log file size that triggers rotation"},
		Option{Key: "log.max-files", Kind: KindCount, Default: "5", Usage: "Rotated log files kept"},
		Option{Key: "log.buffer-size", Kind: KindCount, Default: "1000", Usage: "Log entries kept in memory for search"},

		Option{Section: "run", Key: "trace", Kind: KindBool, Default: "false", Usage: "Print the tick trace after a run"},
		Option{Section: "run", Key: "color", Kind: KindEnum, Choices: []string{"auto", "always", "never"}, Default: "auto", Usage: "Color mode for the trace"},
		Option{Section: "validate", Key: "strict", Kind: KindBool, Default: "false", Usage: "Treat unknown action names as errors"},
	)
}
