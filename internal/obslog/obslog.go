// Package obslog is the engine's structured event log: one JSONL file per
// run, one line per (node, output) phase transition, with optional
// secret redaction on the way out.
//
// Grounded on the teacher's pkg/harness/logger.go (loggerHarness wraps a
// Harness and writes one JSONL file per turn, keyed by a timestamp plus
// a sequence number). Generalized here from per-turn event streaming to
// per-run phase-transition logging: deepres has no streaming turn
// concept of its own, but Supervisor and ToolLoopAgent both transition
// through named phases/nodes whose output is worth recording for
// after-the-fact debugging.
package obslog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/sjson"
)

// RedactedValue replaces a redacted field's content in the logged copy.
const RedactedValue = "[REDACTED]"

// Entry is a single line in the JSONL log file.
type Entry struct {
	Timestamp string         `json:"ts"`
	Node      string         `json:"node"`
	Output    map[string]any `json:"output"`
}

// Logger writes one JSONL file per run under Dir, redacting configured
// field paths before each line is written.
type Logger struct {
	mu   sync.Mutex
	file *os.File

	redactPaths []string
	clockNow    func() time.Time
}

// Config configures a Logger.
type Config struct {
	// Dir is the output directory; one file per run is created inside
	// it, named by RunID.
	Dir string

	// RunID names the run's log file (deepres-<RunID>.jsonl).
	RunID string

	// RedactPaths are sjson paths (e.g. "instructions", "messages.0.content")
	// whose value is replaced with RedactedValue before writing. Evaluated
	// against each entry's Output map only, never its Node name.
	RedactPaths []string
}

// New opens (creating if needed) the run's log file. If Dir can't be
// created or the file can't be opened, New returns a Logger whose Emit
// calls are silent no-ops rather than failing the caller — logging
// should never be why a run fails.
func New(cfg Config) *Logger {
	l := &Logger{redactPaths: cfg.RedactPaths, clockNow: time.Now}
	if cfg.Dir == "" {
		return l
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return l
	}
	name := fmt.Sprintf("deepres-%s.jsonl", cfg.RunID)
	f, err := os.OpenFile(filepath.Join(cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return l
	}
	l.file = f
	return l
}

// Emit records one (node, output) phase transition. output is shallow
// JSON-marshaled; redaction operates on the marshaled bytes via sjson so
// nested paths can be targeted without rebuilding the map by hand.
func (l *Logger) Emit(node string, output map[string]any) {
	if l == nil || l.file == nil {
		return
	}

	data, err := json.Marshal(output)
	if err != nil {
		return
	}
	for _, path := range l.redactPaths {
		redacted, err := sjson.SetBytes(data, path, RedactedValue)
		if err != nil {
			continue
		}
		data = redacted
	}

	var redactedOutput map[string]any
	if err := json.Unmarshal(data, &redactedOutput); err != nil {
		return
	}

	entry := Entry{
		Timestamp: l.clockNow().Format(time.RFC3339Nano),
		Node:      node,
		Output:    redactedOutput,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.Write(line)
	l.file.Write([]byte("\n"))
}

// Close releases the underlying file handle. Safe to call on a no-op
// Logger.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
