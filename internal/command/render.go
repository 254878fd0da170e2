package command

import (
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/tree"
)

var (
	tickStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	nameStyle   = lipgloss.NewStyle().Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	eventStyles = map[engine.EventType]lipgloss.Style{
		engine.EventStarted:   lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		engine.EventSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		engine.EventFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		engine.EventHalted:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}
	statusStyles = map[tree.Status]lipgloss.Style{
		tree.Idle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		tree.Running: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		tree.Success: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		tree.Failure: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
)

// useColor resolves a color mode (auto, always, never) for w. Auto honors
// NO_COLOR and CLICOLOR.
func useColor(mode string, w io.Writer) (bool, error) {
	switch strings.ToLower(mode) {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		if termenv.EnvNoColor() {
			return false, nil
		}
		f, ok := w.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	}
	return false, fmt.Errorf("invalid color mode: %s", mode)
}

// traceRenderer prints tick traces and run summaries.
type traceRenderer struct {
	color bool
}

func (r traceRenderer) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

// Trace writes one line per event, in the order they happened.
func (r traceRenderer) Trace(w io.Writer, events []engine.Event) {
	width := 4
	for _, ev := range events {
		width = max(width, len(ev.Name))
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s  %s  %s",
			r.style(tickStyle, fmt.Sprintf("%5d", ev.Tick)),
			r.style(nameStyle, fmt.Sprintf("%-*s", width, displayName(ev))),
			r.style(eventStyles[ev.Type], ev.Type.String()))
		if ev.Err != nil {
			line += "  " + r.style(errorStyle, ev.Err.Error())
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

// Summary writes the final status of one tree.
func (r traceRenderer) Summary(w io.Writer, name string, status tree.Status, ticks uint64) {
	_, _ = fmt.Fprintf(w, "%s %s after %d ticks\n",
		r.style(nameStyle, name),
		r.style(statusStyles[status], status.String()),
		ticks)
}

func displayName(ev engine.Event) string {
	if ev.Name != "" {
		return ev.Name
	}
	return fmt.Sprintf("%s#%d", ev.Kind, ev.Node)
}
