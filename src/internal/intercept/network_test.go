// FILE: src/internal/intercept/network_test.go
package intercept

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"tapwire/src/internal/core"
	"tapwire/src/internal/filter"
	"tapwire/src/internal/sanitize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTransport settles every request without touching the network.
type stubTransport struct {
	status int
	err    error
	calls  int
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader("{}")),
		Request:    req,
	}, nil
}

func newNetworkForTest(t *testing.T, cfg NetworkConfig, fcfg filter.Config, sink *entrySink) *NetworkInterceptor {
	t.Helper()
	urls := filter.NewSet(fcfg, newTestLogger())
	n := NewNetwork(cfg, urls, nil, testBuilder(), sink.accept,
		func(string, ...any) {}, newTestLogger())
	t.Cleanup(n.Stop)
	return n
}

func TestNetworkInterceptor_InstallUninstallSymmetry(t *testing.T) {
	sink := &entrySink{}
	n := newNetworkForTest(t, NetworkConfig{}, filter.Config{}, sink)

	original := http.DefaultTransport

	n.Start()
	n.Start()
	assert.False(t, http.DefaultTransport == original, "wrapper should be installed")

	n.Stop()
	assert.True(t, http.DefaultTransport == original, "original transport must be restored")

	n.Stop()
	assert.True(t, http.DefaultTransport == original)
}

func TestNetworkInterceptor_RequestResponsePair(t *testing.T) {
	sink := &entrySink{}
	n := newNetworkForTest(t, NetworkConfig{CaptureBodies: true}, filter.Config{}, sink)

	stub := &stubTransport{status: 201}
	rt := n.Wrap(stub)

	req, err := http.NewRequest("POST", "https://api.example.com/users?token=sek",
		strings.NewReader(`{"name":"bob"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer xyz")

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, 1, stub.calls)

	entries := sink.all()
	require.Len(t, entries, 2)

	reqEntry, respEntry := entries[0], entries[1]
	assert.Equal(t, core.TypeNetworkRequest, reqEntry.Type)
	assert.Equal(t, core.TypeNetworkResponse, respEntry.Type)
	assert.Equal(t, reqEntry.Network.RequestID, respEntry.Network.RequestID)

	// Sanitization applied before the entry exists.
	assert.Equal(t, sanitize.RedactedMarker, reqEntry.Network.Headers["Authorization"])
	assert.NotContains(t, reqEntry.Network.URL, "sek")
	assert.Contains(t, reqEntry.Network.Body, "bob")

	assert.Equal(t, 201, respEntry.Network.Status)
	assert.GreaterOrEqual(t, respEntry.Network.DurationMillis, 0.0)
}

func TestNetworkInterceptor_ErrorEntry(t *testing.T) {
	sink := &entrySink{}
	n := newNetworkForTest(t, NetworkConfig{}, filter.Config{}, sink)

	cause := errors.New("connection refused")
	rt := n.Wrap(&stubTransport{err: cause})

	req, _ := http.NewRequest("GET", "https://api.example.com/health", nil)
	_, err := rt.RoundTrip(req)
	assert.Same(t, cause, err, "transport error must pass through unchanged")

	entries := sink.all()
	require.Len(t, entries, 2)
	assert.Equal(t, core.TypeNetworkRequest, entries[0].Type)
	assert.Equal(t, core.TypeNetworkError, entries[1].Type)
	assert.Contains(t, entries[1].Network.Error, "connection refused")
}

func TestNetworkInterceptor_URLFiltering(t *testing.T) {
	sink := &entrySink{}
	n := newNetworkForTest(t, NetworkConfig{},
		filter.Config{ExcludePatterns: []string{`/health$`}}, sink)

	stub := &stubTransport{status: 200}
	rt := n.Wrap(stub)

	req1, _ := http.NewRequest("GET", "https://api.example.com/health", nil)
	req2, _ := http.NewRequest("GET", "https://api.example.com/users", nil)
	rt.RoundTrip(req1)
	rt.RoundTrip(req2)

	// Both calls went through, only the second was captured.
	assert.Equal(t, 2, stub.calls)
	entries := sink.all()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Contains(t, e.Network.URL, "/users")
	}
}

func TestNetworkInterceptor_SinkFailureDoesNotBreakRequest(t *testing.T) {
	sink := &entrySink{fail: true}
	n := newNetworkForTest(t, NetworkConfig{}, filter.Config{}, sink)

	stub := &stubTransport{status: 200}
	rt := n.Wrap(stub)

	req, _ := http.NewRequest("GET", "https://api.example.com/users", nil)

	var resp *http.Response
	var err error
	assert.NotPanics(t, func() { resp, err = rt.RoundTrip(req) })
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, stub.calls)
}

func TestNetworkInterceptor_BodyNeverConsumed(t *testing.T) {
	sink := &entrySink{}
	n := newNetworkForTest(t, NetworkConfig{CaptureBodies: true}, filter.Config{}, sink)

	var seen string
	inspect := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		data, _ := io.ReadAll(req.Body)
		seen = string(data)
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(""))}, nil
	})

	req, _ := http.NewRequest("POST", "https://api.example.com/x", strings.NewReader("payload"))
	_, err := n.Wrap(inspect).RoundTrip(req)
	require.NoError(t, err)

	// The downstream transport still sees the full body.
	assert.Equal(t, "payload", seen)
	require.NotEmpty(t, sink.all())
	assert.Equal(t, "payload", sink.all()[0].Network.Body)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
