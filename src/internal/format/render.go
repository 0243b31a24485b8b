// FILE: src/internal/format/render.go
package format

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tapwire/src/internal/core"
	"tapwire/src/internal/sanitize"
	"tapwire/src/internal/version"
)

// ConsoleLine renders an entry as a single human-readable line:
// fixed-width level, then [app][category][SEVERITY] message.
func ConsoleLine(e core.Entry) string {
	return fmt.Sprintf("%-5s [%s][%s][%s] %s",
		strings.ToUpper(string(e.Level)),
		e.Application.Name,
		e.Category,
		strings.ToUpper(e.Severity.Level),
		e.Message)
}

// JSON renders an entry as JSON. If marshaling fails the result is an
// error-descriptor object instead of an error return.
func JSON(e core.Entry) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		fallback := map[string]string{
			"id":    e.ID,
			"error": "serialization failed",
			"cause": err.Error(),
		}
		data, _ = json.Marshal(fallback)
	}
	return data
}

// Wire renders an entry as a wire-ready transmission frame. Entry
// content is already sanitized into plain strings, so marshaling is
// expected to succeed; a residual failure degrades through the
// sanitizer's circular-safe serializer rather than erroring.
func Wire(sanitizer *sanitize.Sanitizer, e core.Entry) ([]byte, error) {
	frame := core.WireFrame{
		Type: e.Type.WireType(),
		Data: core.WireData{
			Level:       e.Level,
			Message:     e.Message,
			Timestamp:   e.Timestamp,
			Source:      core.WireSource,
			SessionID:   e.Application.SessionID,
			Args:        e.Args,
			Application: e.Application,
			Category:    e.Category,
			Severity:    e.Severity,
			Tags:        e.Tags,
			Context:     e.Context,
			Network:     e.Network,
			Stack:       e.Stack,
			Truncated:   e.Truncated,
		},
		Meta: core.WireMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Version:   version.Short(),
			Format:    core.WireFormat,
		},
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return []byte(sanitizer.Serialize(frame)), nil
	}
	return data, nil
}

// NewWireEncoder binds a sanitizer into the transport's frame encoder.
func NewWireEncoder(sanitizer *sanitize.Sanitizer) func(core.Entry) ([]byte, error) {
	return func(e core.Entry) ([]byte, error) {
		return Wire(sanitizer, e)
	}
}
