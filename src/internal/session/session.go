// FILE: src/internal/session/session.go
// One capture session per process lifetime: a stable identity that
// ties every entry this process emits to one collector stream.
package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session identifies one run of an instrumented application.
type Session struct {
	ID              string
	ApplicationName string
	StartTime       time.Time

	capturing atomic.Bool
}

// New creates a session with a fresh UUID.
func New(appName string) *Session {
	return &Session{
		ID:              uuid.NewString(),
		ApplicationName: appName,
		StartTime:       time.Now(),
	}
}

// SetCapturing flips the capture flag; interception paths consult it
// before doing any work.
func (s *Session) SetCapturing(on bool) {
	s.capturing.Store(on)
}

// Capturing reports whether capture is currently enabled.
func (s *Session) Capturing() bool {
	return s.capturing.Load()
}

// Uptime is the elapsed time since the session began.
func (s *Session) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// GetStats returns session statistics.
func (s *Session) GetStats() map[string]any {
	return map[string]any{
		"session_id": s.ID,
		"app_name":   s.ApplicationName,
		"start_time": s.StartTime,
		"uptime":     s.Uptime().Seconds(),
		"capturing":  s.Capturing(),
	}
}
