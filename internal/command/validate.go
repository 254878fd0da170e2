package command

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/joeycumines/ticktree/internal/action"
	"github.com/joeycumines/ticktree/internal/config"
	"github.com/joeycumines/ticktree/internal/document"
	"github.com/joeycumines/ticktree/internal/engine"
)

// ErrInvalidDocuments is returned by validate when any document has problems.
var ErrInvalidDocuments = errors.New("invalid documents")

// ValidateCommand checks that tree documents parse and assemble.
type ValidateCommand struct {
	*BaseCommand
	config *config.Config
	strict bool
	assets string
}

// NewValidateCommand creates a new validate command.
func NewValidateCommand(cfg *config.Config) *ValidateCommand {
	return &ValidateCommand{
		BaseCommand: NewBaseCommand(
			"validate",
			"Check that tree documents parse and assemble",
			"validate [options] <tree.yaml>...",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the validate command.
func (c *ValidateCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.strict, "strict", false, "Treat unknown actions as errors")
	fs.StringVar(&c.assets, "assets", "", "Directory subtree documents are resolved in (default: each document's directory)")
}

// Execute validates each document in args.
func (c *ValidateCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintf(stderr, "Usage: ticktree %s\n", c.Usage())
		return errors.New("no documents given")
	}
	schema := config.DefaultSchema()
	if !c.strict {
		c.strict, _ = config.ParseBool(schema.ResolveIn(c.config, "validate", "strict"))
	}
	assets := c.assets
	if assets == "" {
		assets = schema.Resolve(c.config, "assets.root")
	}

	failed := 0
	for _, p := range args {
		root := assets
		if root == "" {
			root = filepath.Dir(p)
		}
		v := validator{strict: c.strict, fsys: os.DirFS(root)}
		problems, warnings := v.file(p)
		for _, w := range warnings {
			_, _ = fmt.Fprintf(stdout, "%s: warning: %s\n", p, w)
		}
		if len(problems) == 0 {
			_, _ = fmt.Fprintf(stdout, "%s: ok\n", p)
			continue
		}
		failed++
		for _, e := range problems {
			_, _ = fmt.Fprintf(stdout, "%s: %s\n", p, e)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidDocuments, failed, len(args))
	}
	return nil
}

type validator struct {
	strict bool
	fsys   fs.FS
}

// file parses and assembles the document at p, then every subtree it
// references, once each.
func (v validator) file(p string) (problems, warnings []string) {
	doc, err := readDocument(p)
	if err != nil {
		return []string{err.Error()}, nil
	}
	problems, warnings = v.document(doc)

	seen := make(map[string]bool)
	queue := subtreePaths(doc.Root)
	for len(queue) > 0 {
		sp := path.Clean(queue[0])
		queue = queue[1:]
		if seen[sp] {
			continue
		}
		seen[sp] = true
		data, err := fs.ReadFile(v.fsys, sp)
		if err != nil {
			problems = append(problems, fmt.Sprintf("subtree %s: %v", sp, err))
			continue
		}
		sub, err := document.Parse(data)
		if err != nil {
			problems = append(problems, fmt.Sprintf("subtree %s: %v", sp, err))
			continue
		}
		subProblems, subWarnings := v.document(sub)
		for _, e := range subProblems {
			problems = append(problems, fmt.Sprintf("subtree %s: %s", sp, e))
		}
		for _, e := range subWarnings {
			warnings = append(warnings, fmt.Sprintf("subtree %s: %s", sp, e))
		}
		queue = append(queue, subtreePaths(sub.Root)...)
	}
	return problems, warnings
}

func (v validator) document(doc *document.Document) (problems, warnings []string) {
	actions := action.Builtins()
	// Script actions are only built, never ticked, so no runtime is needed.
	actions.Register("script", action.ScriptFactory(nil))
	known := actions.Names()
	for _, name := range actionNames(doc.Root) {
		if _, ok := slices.BinarySearch(known, name); ok {
			continue
		}
		if v.strict {
			problems = append(problems, fmt.Sprintf("unknown action %q", name))
			continue
		}
		warnings = append(warnings, fmt.Sprintf("unknown action %q", name))
		actions.Register(name, func(map[string]any) (action.Action, error) { return action.Succeed, nil })
	}
	if len(problems) > 0 {
		return problems, warnings
	}
	w := engine.New(engine.WithActions(actions))
	if _, err := w.Spawn(doc); err != nil {
		problems = append(problems, err.Error())
	}
	return problems, warnings
}

// actionNames returns the distinct registry names used by action nodes.
func actionNames(n *document.Node) []string {
	var names []string
	walk(n, func(n *document.Node) {
		if n.Type != "action" || n.Instance != nil {
			return
		}
		name, _ := n.Props["action"].(string)
		if name == "" {
			name = n.Name
		}
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	})
	return names
}

func subtreePaths(n *document.Node) []string {
	var paths []string
	walk(n, func(n *document.Node) {
		if n.Type != "subtree" {
			return
		}
		for _, k := range []string{"path", "document"} {
			if p, ok := n.Props[k].(string); ok && p != "" {
				paths = append(paths, p)
				return
			}
		}
	})
	return paths
}

func walk(n *document.Node, fn func(*document.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		walk(c, fn)
	}
}
