// FILE: src/internal/format/context.go
package format

import (
	"os"
	"runtime"
	"sync"
	"time"

	"tapwire/src/internal/core"
)

var processStart = time.Now()

// snapshotTTL caps how often the memory statistics are refreshed.
// Interception runs on the caller's stack and must stay O(small);
// ReadMemStats is too heavy to pay per entry.
const snapshotTTL = time.Second

var snapshotCache struct {
	mu    sync.Mutex
	taken time.Time
	ctx   core.Context
}

// Snapshot returns a best-effort point-in-time context for the host
// process. Failures degrade to a context carrying an error marker;
// Snapshot never panics.
func Snapshot() (ctx *core.Context) {
	defer func() {
		if r := recover(); r != nil {
			ctx = &core.Context{Error: "context snapshot failed"}
		}
	}()

	snapshotCache.mu.Lock()
	defer snapshotCache.mu.Unlock()

	now := time.Now()
	if now.Sub(snapshotCache.taken) > snapshotTTL {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		hostname, _ := os.Hostname()

		snapshotCache.ctx = core.Context{
			Hostname:    hostname,
			PID:         os.Getpid(),
			GoVersion:   runtime.Version(),
			HeapAllocKB: mem.HeapAlloc / 1024,
			NumGC:       mem.NumGC,
		}
		snapshotCache.taken = now
	}

	out := snapshotCache.ctx
	// Cheap per-entry fields stay live even when the heavy part is cached.
	out.NumGoroutine = runtime.NumGoroutine()
	out.UptimeMillis = now.Sub(processStart).Milliseconds()
	return &out
}
