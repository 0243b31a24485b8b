// FILE: src/internal/session/session_test.go
package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s := New("orders")
	assert.Equal(t, "orders", s.ApplicationName)
	assert.False(t, s.StartTime.IsZero())

	_, err := uuid.Parse(s.ID)
	require.NoError(t, err, "session ID must be a valid UUID")

	// Each session gets its own identity.
	assert.NotEqual(t, s.ID, New("orders").ID)
}

func TestCapturingFlag(t *testing.T) {
	s := New("orders")
	assert.False(t, s.Capturing())

	s.SetCapturing(true)
	assert.True(t, s.Capturing())

	s.SetCapturing(false)
	assert.False(t, s.Capturing())
}

func TestGetStats(t *testing.T) {
	s := New("orders")
	s.SetCapturing(true)

	stats := s.GetStats()
	assert.Equal(t, s.ID, stats["session_id"])
	assert.Equal(t, "orders", stats["app_name"])
	assert.Equal(t, true, stats["capturing"])
}
