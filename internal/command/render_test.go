package command

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/tree"
)

func TestUseColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	for mode, want := range map[string]bool{"always": true, "ALWAYS": true, "never": false, "auto": false, "": false} {
		got, err := useColor(mode, &buf)
		require.NoError(t, err, mode)
		require.Equal(t, want, got, mode)
	}
	_, err := useColor("sometimes", &buf)
	require.EqualError(t, err, "invalid color mode: sometimes")
}

func TestTraceRenderer_Plain(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := traceRenderer{}
	r.Trace(&buf, []engine.Event{
		{Tick: 0, Name: "walk", Type: engine.EventStarted},
		{Tick: 2, Name: "walk", Type: engine.EventSucceeded},
		{Tick: 2, Node: 3, Kind: tree.KindAction, Type: engine.EventFailed, Err: errors.New("boom")},
	})
	r.Summary(&buf, "patrol", tree.Success, 3)

	require.Equal(t, ""+
		"    0  walk  started\n"+
		"    2  walk  success\n"+
		"    2  action#3  failure  boom\n"+
		"patrol success after 3 ticks\n", buf.String())
}
