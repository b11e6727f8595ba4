package obslog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitWritesOneJSONLineWithNodeAndOutput(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Dir: dir, RunID: "run1"})
	l.clockNow = func() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) }
	defer l.Close()

	l.Emit("clarify", map[string]any{"brief": "research go generics"})

	lines := readLines(t, filepath.Join(dir, "deepres-run1.jsonl"))
	require.Len(t, lines, 1)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "clarify", entry.Node)
	require.Equal(t, "research go generics", entry.Output["brief"])
	require.Equal(t, "2026-07-30T12:00:00Z", entry.Timestamp)
}

func TestEmitAppendsMultipleLines(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Dir: dir, RunID: "run2"})
	defer l.Close()

	l.Emit("plan", map[string]any{"step": 1})
	l.Emit("dispatch", map[string]any{"step": 2})

	lines := readLines(t, filepath.Join(dir, "deepres-run2.jsonl"))
	require.Len(t, lines, 2)
}

func TestEmitRedactsConfiguredFieldPaths(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Dir: dir, RunID: "run3", RedactPaths: []string{"instructions"}})
	defer l.Close()

	l.Emit("brief", map[string]any{"instructions": "secret system prompt", "topic": "go"})

	lines := readLines(t, filepath.Join(dir, "deepres-run3.jsonl"))
	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, RedactedValue, entry.Output["instructions"])
	require.Equal(t, "go", entry.Output["topic"])
}

func TestEmitIsNoOpWithoutDir(t *testing.T) {
	l := New(Config{})
	require.NotPanics(t, func() {
		l.Emit("clarify", map[string]any{"x": 1})
	})
}

func TestNewIsNoOpWhenDirUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("not a dir"), 0o644))

	l := New(Config{Dir: filepath.Join(blocked, "nested"), RunID: "run4"})
	require.NotPanics(t, func() {
		l.Emit("clarify", map[string]any{"x": 1})
	})
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}
