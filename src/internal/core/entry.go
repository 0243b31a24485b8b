// FILE: src/internal/core/entry.go
package core

import (
	"time"
)

// EntryType discriminates the kinds of diagnostic entries flowing
// through the pipeline.
type EntryType string

const (
	TypeLog             EntryType = "log"
	TypeError           EntryType = "error"
	TypeNetworkRequest  EntryType = "network-request"
	TypeNetworkResponse EntryType = "network-response"
	TypeNetworkError    EntryType = "network-error"
)

// Level is the diagnostic level assigned to an entry at creation.
type Level string

const (
	LevelLog   Level = "log"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// Valid reports whether l is one of the recognized levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLog, LevelInfo, LevelWarn, LevelError, LevelDebug:
		return true
	}
	return false
}

// ParseLevel normalizes a level string, falling back to LevelLog for
// anything unrecognized. Never errors; capture paths must be total.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug:
		return LevelDebug
	case LevelInfo:
		return LevelInfo
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelLog
	}
}

// Application identifies the instrumented application. Attached to an
// entry at creation time and never rewritten afterwards.
type Application struct {
	Name        string `json:"name"`
	SessionID   string `json:"sessionId"`
	Environment string `json:"environment,omitempty"`
	Developer   string `json:"developer,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

// Severity is the classified severity of an entry.
type Severity struct {
	Level   string   `json:"level"` // low, medium, high, critical
	Score   int      `json:"score"`
	Factors []string `json:"factors,omitempty"`
}

// Context is a best-effort point-in-time snapshot of the host process.
// Fields may be partially populated; Error carries a marker when the
// snapshot itself failed.
type Context struct {
	Hostname     string `json:"hostname,omitempty"`
	PID          int    `json:"pid,omitempty"`
	GoVersion    string `json:"goVersion,omitempty"`
	NumGoroutine int    `json:"numGoroutine,omitempty"`
	HeapAllocKB  uint64 `json:"heapAllocKb,omitempty"`
	NumGC        uint32 `json:"numGc,omitempty"`
	UptimeMillis int64  `json:"uptimeMillis,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Network carries request/response metadata for network entries.
type Network struct {
	Method         string            `json:"method,omitempty"`
	URL            string            `json:"url,omitempty"`
	Status         int               `json:"status,omitempty"`
	DurationMillis float64           `json:"durationMs,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	Error          string            `json:"error,omitempty"`
	RequestID      string            `json:"requestId,omitempty"`
}

// Entry is one structured, classified unit of captured diagnostic
// data. Entries are immutable once built: classification, severity and
// application identity are fixed at creation and never recomputed.
type Entry struct {
	ID          string      `json:"id"`
	Type        EntryType   `json:"type"`
	Timestamp   string      `json:"timestamp"` // RFC3339Nano, creation time
	Level       Level       `json:"level"`
	Message     string      `json:"message"`
	Args        []string    `json:"args,omitempty"` // sanitized argument renderings
	Truncated   bool        `json:"truncated,omitempty"`
	Application Application `json:"application"`
	Category    string      `json:"category"`
	Severity    Severity    `json:"severity"`
	Tags        []string    `json:"tags,omitempty"`
	Context     *Context    `json:"context,omitempty"`
	Network     *Network    `json:"network,omitempty"`
	Stack       string      `json:"stack,omitempty"`
}

// Now returns the canonical entry timestamp representation.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
