// FILE: src/internal/intercept/guard.go
package intercept

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// reentryGuard detects same-goroutine reentry into a capture path.
// Capture code never logs through the intercepted globals itself, but
// embedder listeners might; without the guard a listener calling
// log.Print from inside the pipeline would recurse forever.
type reentryGuard struct {
	m sync.Map // goroutine id -> struct{}
}

// enter marks the current goroutine as inside the capture path.
// Returns false when it already is, in which case the caller must skip
// capture (and not call exit).
func (g *reentryGuard) enter() bool {
	_, loaded := g.m.LoadOrStore(gid(), struct{}{})
	return !loaded
}

func (g *reentryGuard) exit() {
	g.m.Delete(gid())
}

// gid extracts the current goroutine id from the stack header
// ("goroutine 123 [running]:"). Small fixed-size read; no full stack
// walk.
func gid() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
