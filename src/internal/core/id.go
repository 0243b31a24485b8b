// FILE: src/internal/core/id.go
package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// NewEntryID creates a process-unique entry identifier: nanosecond
// timestamp plus a random suffix. IDs sort roughly by creation time and
// are never reused.
func NewEntryID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// Timestamp-only fallback
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	suffix := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), suffix)
}
