// FILE: src/internal/core/wire.go
package core

// Wire frame types exchanged with the collector. Entries collapse to
// three wire categories regardless of their internal tagged type.

const (
	WireTypeLog     = "log"
	WireTypeError   = "error"
	WireTypeNetwork = "network"
	WireTypeAuth    = "auth"

	// WireSource marks frames produced by this runtime.
	WireSource = "go"

	// WireFormat identifies the envelope layout version.
	WireFormat = "tapwire.v1"
)

// WireType maps an entry type onto its wire category.
func (t EntryType) WireType() string {
	switch t {
	case TypeError:
		return WireTypeError
	case TypeNetworkRequest, TypeNetworkResponse, TypeNetworkError:
		return WireTypeNetwork
	default:
		return WireTypeLog
	}
}

// WireFrame is the transmission envelope for a single entry.
type WireFrame struct {
	Type string   `json:"type"`
	Data WireData `json:"data"`
	Meta WireMeta `json:"meta"`
}

// WireData is the entry payload inside a frame.
type WireData struct {
	Level       Level       `json:"level"`
	Message     string      `json:"message"`
	Timestamp   string      `json:"timestamp"`
	Source      string      `json:"source"`
	SessionID   string      `json:"sessionId"`
	Args        []string    `json:"args,omitempty"`
	Application Application `json:"application"`
	Category    string      `json:"category"`
	Severity    Severity    `json:"severity"`
	Tags        []string    `json:"tags,omitempty"`
	Context     *Context    `json:"context,omitempty"`
	Network     *Network    `json:"network,omitempty"`
	Stack       string      `json:"stack,omitempty"`
	Truncated   bool        `json:"truncated,omitempty"`
}

// WireMeta carries envelope metadata added at transmission time.
type WireMeta struct {
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Format    string `json:"format"`
}

// AuthFrame is the optional first frame on a freshly opened channel.
type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// CollectorResponse is the defensively-parsed shape of anything the
// collector sends back. Unknown or malformed responses are discarded.
type CollectorResponse struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}
