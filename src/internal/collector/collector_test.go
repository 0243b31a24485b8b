// FILE: src/internal/collector/collector_test.go
package collector

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"tapwire/src/internal/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []core.WireFrame
}

func (r *frameRecorder) handle(frame core.WireFrame, remoteAddr string) {
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
}

func (r *frameRecorder) all() []core.WireFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.WireFrame(nil), r.frames...)
}

func startTestCollector(t *testing.T, secret string) (*Collector, *frameRecorder, int) {
	t.Helper()
	port := freePort(t)
	rec := &frameRecorder{}

	c, err := New(Config{Port: port, AuthSecret: secret}, rec.handle, log.NewLogger())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(c.Stop)
	return c, rec, port
}

func dialCollector(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wireLine(t *testing.T, msg string) []byte {
	t.Helper()
	frame := core.WireFrame{
		Type: core.WireTypeLog,
		Data: core.WireData{Message: msg, Source: core.WireSource},
		Meta: core.WireMeta{Format: core.WireFormat},
	}
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	return append(data, '\n')
}

func TestNew_Validation(t *testing.T) {
	logger := log.NewLogger()

	_, err := New(Config{Port: 3001}, nil, logger)
	assert.Error(t, err, "handler required")

	_, err = New(Config{Port: 0}, func(core.WireFrame, string) {}, logger)
	assert.Error(t, err)
}

func TestCollector_ReceivesFrames(t *testing.T) {
	c, rec, port := startTestCollector(t, "")
	conn := dialCollector(t, port)

	_, err := conn.Write(wireLine(t, "first"))
	require.NoError(t, err)
	_, err = conn.Write(wireLine(t, "second"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.all()) == 2
	}, 3*time.Second, 20*time.Millisecond)

	frames := rec.all()
	assert.Equal(t, "first", frames[0].Data.Message)
	assert.Equal(t, "second", frames[1].Data.Message)
	assert.Equal(t, uint64(2), c.GetStats()["total_frames"])
}

func TestCollector_DiscardsMalformedLines(t *testing.T) {
	c, rec, port := startTestCollector(t, "")
	conn := dialCollector(t, port)

	_, err := conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)
	_, err = conn.Write(wireLine(t, "valid"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, "valid", rec.all()[0].Data.Message)
	assert.Equal(t, uint64(1), c.GetStats()["malformed_frames"])
}

func TestCollector_PartialLinesAreBuffered(t *testing.T) {
	_, rec, port := startTestCollector(t, "")
	conn := dialCollector(t, port)

	line := wireLine(t, "split across writes")
	_, err := conn.Write(line[:10])
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write(line[10:])
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "split across writes", rec.all()[0].Data.Message)
}

func TestCollector_AuthAcceptsValidToken(t *testing.T) {
	_, rec, port := startTestCollector(t, "s3cret")
	conn := dialCollector(t, port)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "orders",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	auth, err := json.Marshal(core.AuthFrame{Type: core.WireTypeAuth, Token: token})
	require.NoError(t, err)
	_, err = conn.Write(append(auth, '\n'))
	require.NoError(t, err)

	// Ack arrives, then frames flow.
	reader := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	ackLine, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var ack core.CollectorResponse
	require.NoError(t, json.Unmarshal(ackLine, &ack))
	assert.Equal(t, "ok", ack.Status)

	_, err = conn.Write(wireLine(t, "after auth"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCollector_AuthRejectsBadToken(t *testing.T) {
	c, rec, port := startTestCollector(t, "s3cret")
	conn := dialCollector(t, port)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	auth, _ := json.Marshal(core.AuthFrame{Type: core.WireTypeAuth, Token: token})
	_, err = conn.Write(append(auth, '\n'))
	require.NoError(t, err)

	// Server closes the connection without accepting frames.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 64)
	_, readErr := conn.Read(buf)
	assert.Error(t, readErr)

	assert.Empty(t, rec.all())
	require.Eventually(t, func() bool {
		return c.GetStats()["rejected_auth"] == uint64(1)
	}, 3*time.Second, 20*time.Millisecond)
}
