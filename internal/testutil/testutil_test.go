package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	t.Parallel()

	calls := 0
	require.NoError(t, Poll(context.Background(), func() bool {
		calls++
		return calls == 3
	}, time.Second, time.Millisecond))
	require.Equal(t, 3, calls)

	err := Poll(context.Background(), func() bool { return false }, 20*time.Millisecond, time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Poll(ctx, func() bool { return false }, time.Second, time.Millisecond), context.Canceled)
}

func TestWaitFor(t *testing.T) {
	t.Parallel()

	n := 0
	v, err := WaitFor(context.Background(), func() int { n++; return n }, func(v int) bool { return v >= 4 }, time.Second, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 4, v)

	s, err := WaitFor(context.Background(), func() string { return "waiting" }, func(s string) bool { return s == "done" }, 10*time.Millisecond, time.Millisecond)
	require.Error(t, err)
	require.Empty(t, s)
}

func TestUniqueName(t *testing.T) {
	t.Parallel()

	a := UniqueName("bb", "TestX/sub case")
	b := UniqueName("bb", "TestX/sub case")
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, "bb-TestX_sub_case-"))

	long := UniqueName("bb", strings.Repeat("segment/", 40))
	parts := strings.Split(long, "-")
	require.Len(t, parts, 3)
	require.Len(t, parts[1], maxNameSegment)
	require.Regexp(t, `_[0-9a-f]{8}$`, parts[1])
}

func TestFakeClock(t *testing.T) {
	t.Parallel()

	c := NewFakeClock()
	require.Equal(t, Epoch, c.Now())
	require.Equal(t, Epoch.Add(time.Second), c.Advance(time.Second))
	require.Equal(t, time.Second, c.Elapsed())
	c.Set(Epoch)
	require.Zero(t, c.Elapsed())
}
