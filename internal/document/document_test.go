package document

import (
	"bytes"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
)

const patrolYAML = `
name: patrol
blackboard:
  hp: 10
tree:
  type: sequence
  children:
    - type: guard
      name: healthy
      condition: {expr: "hp > 5"}
      children:
        - {type: action, action: succeed}
    - type: repeater
      repeat: {times: 2}
      children:
        - {type: action, action: ticks, ticks: 3}
`

func TestParse_FullDocument(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(patrolYAML))
	require.NoError(t, err)
	require.Equal(t, "patrol", doc.Name)
	require.Equal(t, map[string]any{"hp": 10}, doc.Blackboard)

	root := doc.Root
	require.Equal(t, "sequence", root.Type)
	require.Nil(t, root.Props)
	require.Len(t, root.Children, 2)
	require.Equal(t, 5, root.Count())

	guard := root.Children[0]
	require.Equal(t, "healthy", guard.Name)
	cond, ok := guard.Prop("condition")
	require.True(t, ok)
	require.Equal(t, map[string]any{"expr": "hp > 5"}, cond)

	leaf := root.Children[1].Children[0]
	require.Equal(t, map[string]any{"action": "ticks", "ticks": 3}, leaf.Props)
}

func TestParse_BareRoot(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte("type: action\nname: hello\naction: succeed\n"))
	require.NoError(t, err)
	require.Equal(t, "hello", doc.Name)
	require.Equal(t, "action", doc.Root.Type)
	require.Nil(t, doc.Blackboard)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"not yaml", "type: [unterminated"},
		{"missing type", "name: x\n"},
		{"child missing type", "type: sequence\nchildren:\n  - name: x\n"},
		{"child not a mapping", "type: sequence\nchildren:\n  - 3\n"},
		{"empty tree", "tree:\n"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.in))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestEncode_IsReadable(t *testing.T) {
	t.Parallel()

	doc := &Document{
		Name:       "built",
		Blackboard: map[string]any{"k": "v"},
		Root: New("selector", nil,
			Action("fail", nil),
			New("wait", map[string]any{"duration": "1s"}).Named("pause"),
		),
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc))
	require.Contains(t, buf.String(), "type: selector")
	require.Contains(t, buf.String(), "duration: 1s")

	back, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, "built", back.Name)
	require.Equal(t, "pause", back.Root.Children[1].Name)
	require.Equal(t, "fail", back.Root.Children[0].Props["action"])
}

func TestLeaf_KeepsInstance(t *testing.T) {
	t.Parallel()

	n := Leaf("custom", 42)
	require.Equal(t, "action", n.Type)
	require.Equal(t, 42, n.Instance)
}

func TestFSLoader(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"trees/patrol.yaml": {Data: []byte(patrolYAML)},
		"trees/bad.yaml":    {Data: []byte("name: nope\n")},
	}
	l := NewFSLoader(fsys)

	h := l.Load("trees/./patrol.yaml")
	var doc *Document
	require.Eventually(t, func() bool {
		d, ready, err := l.Poll(h)
		require.NoError(t, err)
		doc = d
		return ready
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, "patrol", doc.Name)

	// Same path shares the parsed document.
	again, err := l.Wait(l.Load("trees/patrol.yaml"))
	require.NoError(t, err)
	require.Same(t, doc, again)

	_, err = l.Wait(l.Load("trees/bad.yaml"))
	require.ErrorIs(t, err, ErrInvalid)

	_, err = l.Wait(l.Load("trees/missing.yaml"))
	require.ErrorIs(t, err, fs.ErrNotExist)

	l.Release(h)
	_, ready, err := l.Poll(h)
	require.True(t, ready)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStaticLoader(t *testing.T) {
	t.Parallel()

	doc := &Document{Root: Action("succeed", nil)}
	s := NewStatic(map[string]*Document{"a": doc})

	got, ready, err := s.Poll(s.Load("a"))
	require.NoError(t, err)
	require.True(t, ready)
	require.Same(t, doc, got)

	_, ready, err = s.Poll(s.Load("b"))
	require.True(t, ready)
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, _, err = s.Poll(99)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, []string{"a", "b"}, s.Loads())
}
