package tree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type counterPayload struct{ n int }

func (c *counterPayload) Reset() { c.n = 0 }

func buildSample(t *testing.T) (*Store, NodeID, []NodeID) {
	t.Helper()
	s := NewStore()
	root := s.Add(KindSequence, "root", nil)
	a := s.Add(KindAction, "a", nil)
	b := s.Add(KindInverter, "b", nil)
	c := s.Add(KindAction, "c", nil)
	require.NoError(t, s.AddChild(root, a))
	require.NoError(t, s.AddChild(root, b))
	require.NoError(t, s.AddChild(b, c))
	return s, root, []NodeID{a, b, c}
}

func TestStore_AddChildWiresBothLinks(t *testing.T) {
	t.Parallel()

	s, root, ids := buildSample(t)
	a, b, c := ids[0], ids[1], ids[2]

	require.Equal(t, []NodeID{a, b}, s.Node(root).Children)
	require.Equal(t, root, s.Node(a).Parent)
	require.Equal(t, b, s.Node(c).Parent)
	for _, id := range ids {
		require.Equal(t, root, s.Node(id).Root)
	}
	require.Equal(t, 4, s.Len())
	require.Equal(t, 2, s.Depth(root))
	require.NoError(t, s.Validate(root))
}

func TestStore_AddChildRejectsSecondParent(t *testing.T) {
	t.Parallel()

	s, root, ids := buildSample(t)
	err := s.AddChild(ids[1], ids[0])
	require.ErrorIs(t, err, ErrMalformedTree)
	require.Equal(t, root, s.Node(ids[0]).Parent)
}

func TestStore_AddChildRejectsCycle(t *testing.T) {
	t.Parallel()

	s := NewStore()
	a := s.Add(KindSequence, "a", nil)
	b := s.Add(KindSequence, "b", nil)
	require.NoError(t, s.AddChild(a, b))

	// a is b's ancestor, and a has no parent, so only the cycle check stops it
	err := s.AddChild(b, a)
	require.ErrorIs(t, err, ErrMalformedTree)
}

func TestStore_GraftAdoptsRoot(t *testing.T) {
	t.Parallel()

	s, root, ids := buildSample(t)
	sub := s.Add(KindSelector, "sub", nil)
	leaf := s.Add(KindAction, "leaf", nil)
	require.NoError(t, s.AddChild(sub, leaf))
	require.Equal(t, sub, s.Node(leaf).Root)

	require.NoError(t, s.AddChild(ids[2], sub))
	require.Equal(t, root, s.Node(sub).Root)
	require.Equal(t, root, s.Node(leaf).Root)
	require.NoError(t, s.Validate(root))
}

func TestStore_WalkIsPreOrder(t *testing.T) {
	t.Parallel()

	s, root, ids := buildSample(t)
	var got []NodeID
	for id := range s.Walk(root) {
		got = append(got, id)
	}
	require.Equal(t, []NodeID{root, ids[0], ids[1], ids[2]}, got)
}

func TestStore_StartAndReset(t *testing.T) {
	t.Parallel()

	s := NewStore()
	p := &counterPayload{n: 3}
	root := s.Add(KindRepeater, "r", p)
	child := s.Add(KindAction, "leaf", nil)
	require.NoError(t, s.AddChild(root, child))

	cn := s.Node(child)
	cn.Status = Success
	cn.MarkEvaluated()

	s.Start(root)
	rn := s.Node(root)
	require.Equal(t, Running, rn.Status)
	require.True(t, rn.Cursor)
	require.True(t, rn.Started)
	require.True(t, rn.Fresh())
	require.Equal(t, 0, p.n)

	require.Equal(t, Idle, cn.Status)
	require.True(t, cn.Fresh())
	require.True(t, rn.Active())
}

func TestStore_ResetDescendantsKeepsNode(t *testing.T) {
	t.Parallel()

	s, root, ids := buildSample(t)
	for _, n := range s.All() {
		n.Status = Running
		n.Cursor = true
	}
	s.ResetDescendants(root)
	require.True(t, s.Node(root).Active())
	for _, id := range ids {
		require.Equal(t, Idle, s.Node(id).Status)
		require.False(t, s.Node(id).Cursor)
	}
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()

	s, root, ids := buildSample(t)
	removed := s.Remove(ids[1])
	require.Equal(t, 2, removed)
	require.Equal(t, 2, s.Len())
	require.Nil(t, s.Node(ids[2]))
	require.Equal(t, []NodeID{ids[0]}, s.Node(root).Children)
	require.NoError(t, s.Validate(root))

	require.Equal(t, 0, s.Remove(ids[1]))
}

func TestStore_ValidateDetectsBrokenLinks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mangle func(s *Store, root NodeID, ids []NodeID)
	}{
		{
			name: "parent link mismatch",
			mangle: func(s *Store, root NodeID, ids []NodeID) {
				s.Node(ids[2]).Parent = root
			},
		},
		{
			name: "missing parent",
			mangle: func(s *Store, root NodeID, ids []NodeID) {
				s.Node(ids[0]).Parent = None
			},
		},
		{
			name: "shared child",
			mangle: func(s *Store, root NodeID, ids []NodeID) {
				s.Node(ids[1]).Children = append(s.Node(ids[1]).Children, ids[0])
			},
		},
		{
			name: "missing child",
			mangle: func(s *Store, root NodeID, ids []NodeID) {
				s.Node(root).Children = append(s.Node(root).Children, NodeID(99))
			},
		},
		{
			name: "foreign root",
			mangle: func(s *Store, root NodeID, ids []NodeID) {
				s.Node(ids[0]).Root = ids[0]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, root, ids := buildSample(t)
			tt.mangle(s, root, ids)
			err := s.Validate(root)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformedTree))
		})
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for k := KindAction; k < kindCount; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}

	got, err := ParseKind("Gate")
	require.NoError(t, err)
	require.Equal(t, KindGuard, got)

	got, err = ParseKind("until-all")
	require.NoError(t, err)
	require.Equal(t, KindUntilAll, got)

	_, err = ParseKind("steal")
	require.ErrorIs(t, err, ErrUnknownKind)

	require.True(t, KindAll.IsParallel())
	require.True(t, KindSequencer.IsComposite())
	require.True(t, KindSubtree.IsDecorator())
	require.False(t, KindAction.IsComposite())
}
