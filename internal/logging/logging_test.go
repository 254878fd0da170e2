package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNew_JSONToWriterWithRing(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ring := NewRing(10, slog.LevelDebug)
	logger, closer, err := New(Config{Level: "info", Format: "json", Stderr: &buf, Ring: ring})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.With("world", "w1").WithGroup("tick").Info("ticked", "n", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "ticked", rec["msg"])
	require.Equal(t, "w1", rec["world"])
	require.Equal(t, map[string]any{"n": 3.0}, rec["tick"])

	// The ring has its own level, so it sees the debug record too.
	entries := ring.Recent(0)
	require.Len(t, entries, 2)
	require.Equal(t, "hidden", entries[0].Message)
	require.Equal(t, map[string]string{"world": "w1", "tick.n": "3"}, entries[1].Attrs)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, _, err := New(Config{Level: "nope"})
	require.Error(t, err)
	_, _, err = New(Config{Format: "xml"})
	require.ErrorContains(t, err, "invalid log format")
}

func TestNew_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "ticktree.log")
	logger, closer, err := New(Config{File: path, Format: "text"})
	require.NoError(t, err)
	logger.Warn("disk")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "msg=disk")
}

func TestRing_WrapsAndSearches(t *testing.T) {
	t.Parallel()

	ring := NewRing(3, slog.LevelInfo)
	logger := slog.New(ring)
	for _, m := range []string{"one", "two", "three", "four"} {
		logger.Info(m, "tree", "patrol-"+m)
	}
	logger.Debug("filtered")

	var msgs []string
	for _, e := range ring.Recent(0) {
		msgs = append(msgs, e.Message)
	}
	require.Equal(t, []string{"two", "three", "four"}, msgs)
	require.Len(t, ring.Recent(2), 2)
	require.Equal(t, "four", ring.Recent(1)[0].Message)

	require.Len(t, ring.Search("PATROL"), 3)
	require.Len(t, ring.Search("thr"), 1)
	require.Empty(t, ring.Search("one"))
}

func TestRotatingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "t.log")
	w, err := openRotating(path, 10, 2)
	require.NoError(t, err)

	write := func(s string) {
		t.Helper()
		n, err := w.Write([]byte(s))
		require.NoError(t, err)
		require.Equal(t, len(s), n)
	}
	write("aaaaaa\n") // 7 bytes
	write("bbbbbb\n") // rotates: a -> .1
	write("cccccc\n") // rotates: a -> .2, b -> .1
	write("dddddd\n") // rotates: a dropped, b -> .2, c -> .1
	require.NoError(t, w.Close())

	read := func(p string) string {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return strings.TrimSpace(string(data))
	}
	require.Equal(t, "dddddd", read(path))
	require.Equal(t, "cccccc", read(path+".1"))
	require.Equal(t, "bbbbbb", read(path+".2"))
	_, err = os.Stat(path + ".3")
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = w.Write([]byte("x"))
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingFile_NoBackupsTruncates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "t.log")
	w, err := openRotating(path, 4, 0)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Write([]byte("first"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
	_, err = os.Stat(path + ".1")
	require.ErrorIs(t, err, os.ErrNotExist)
}
