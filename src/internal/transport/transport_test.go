// FILE: src/internal/transport/transport_test.go
package transport

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"tapwire/src/internal/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEncoder(e core.Entry) ([]byte, error) {
	return json.Marshal(map[string]string{"id": e.ID, "message": e.Message})
}

func testEntry(msg string) core.Entry {
	return core.Entry{ID: core.NewEntryID(), Message: msg}
}

func fastConfig(port int) Config {
	return Config{
		Kind:              KindTCP,
		Host:              "127.0.0.1",
		Port:              port,
		BatchSize:         10,
		BatchTimeout:      20 * time.Millisecond,
		MaxRetries:        2,
		RetryDelay:        10 * time.Millisecond,
		DialTimeout:       time.Second,
		WriteTimeout:      time.Second,
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		Encode:            testEncoder,
	}
}

// mockCollector accepts TCP connections and records newline frames.
type mockCollector struct {
	ln    net.Listener
	mu    sync.Mutex
	lines []string
}

func newMockCollector(t *testing.T) *mockCollector {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	m := &mockCollector{ln: ln}
	go m.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return m
}

func (m *mockCollector) serve() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			scanner := bufio.NewScanner(c)
			for scanner.Scan() {
				m.mu.Lock()
				m.lines = append(m.lines, scanner.Text())
				m.mu.Unlock()
			}
		}(conn)
	}
}

func (m *mockCollector) port() int {
	return m.ln.Addr().(*net.TCPAddr).Port
}

func (m *mockCollector) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func messagesOf(lines []string) []string {
	var out []string
	for _, line := range lines {
		var frame map[string]string
		if err := json.Unmarshal([]byte(line), &frame); err == nil {
			out = append(out, frame["message"])
		}
	}
	return out
}

func TestEntryQueue_DropOldest(t *testing.T) {
	q := newEntryQueue(3)
	for i := 0; i < 5; i++ {
		q.Push(testEntry(fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())

	batch := q.PopBatch(10)
	require.Len(t, batch, 3)
	// The two oldest were evicted.
	assert.Equal(t, "m2", batch[0].Message)
	assert.Equal(t, "m4", batch[2].Message)
	assert.Equal(t, 0, q.Len())
}

func TestEntryQueue_PopBatchOrder(t *testing.T) {
	q := newEntryQueue(100)
	for i := 0; i < 7; i++ {
		q.Push(testEntry(fmt.Sprintf("m%d", i)))
	}

	first := q.PopBatch(3)
	second := q.PopBatch(10)
	require.Len(t, first, 3)
	require.Len(t, second, 4)
	assert.Equal(t, "m0", first[0].Message)
	assert.Equal(t, "m3", second[0].Message)
	assert.Equal(t, "m6", second[3].Message)
}

func TestNew_Validation(t *testing.T) {
	logger := log.NewLogger()

	_, err := New(Config{Kind: KindTCP, Port: 3001}, logger)
	assert.Error(t, err, "encoder is required")

	_, err = New(Config{Kind: "carrier-pigeon", Port: 3001, Encode: testEncoder}, logger)
	assert.Error(t, err)

	_, err = New(Config{Kind: KindTCP, Port: 0, Encode: testEncoder}, logger)
	assert.Error(t, err)
}

func TestTCPTransport_DeliversInOrder(t *testing.T) {
	collector := newMockCollector(t)

	tr, err := New(fastConfig(collector.port()), log.NewLogger())
	require.NoError(t, err)
	defer tr.Destroy()

	for i := 0; i < 5; i++ {
		tr.Send(testEntry(fmt.Sprintf("m%d", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	require.Eventually(t, func() bool {
		return len(collector.all()) == 5
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, messagesOf(collector.all()))
	assert.Equal(t, StateConnected, tr.State())
	assert.Equal(t, uint64(0), tr.GetStats()["total_reconnects"],
		"first connect is not a reconnect")
}

func TestTCPTransport_ResponseSplitAcrossIdleTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conns <- conn
	}()

	cfg := fastConfig(port)
	cfg.ReadIdleTimeout = 50 * time.Millisecond
	tr, err := New(cfg, log.NewLogger())
	require.NoError(t, err)
	defer tr.Destroy()

	var conn net.Conn
	select {
	case conn = <-conns:
	case <-time.After(3 * time.Second):
		t.Fatal("transport never connected")
	}
	defer conn.Close()

	// Half an ack line, then silence spanning several idle read
	// timeouts, then the rest. The fragments must reassemble into one
	// parseable response.
	_, err = conn.Write([]byte(`{"status":`))
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)
	_, err = conn.Write([]byte(`"ok","message":"resumed"}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.GetStats()["responses"] == uint64(1)
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, StateConnected, tr.State())
}

func TestTCPTransport_QueuesWhileDisconnected(t *testing.T) {
	// Reserve a port, then close the listener so dialing fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	tr, err := New(fastConfig(port), log.NewLogger())
	require.NoError(t, err)
	defer tr.Destroy()

	for i := 0; i < 3; i++ {
		tr.Send(testEntry(fmt.Sprintf("q%d", i)))
	}
	time.Sleep(100 * time.Millisecond)
	assert.NotEqual(t, StateConnected, tr.State())
	assert.Equal(t, 3, tr.GetStats()["queued"])

	// Collector comes up; everything queued arrives in order.
	ln2, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	m := &mockCollector{ln: ln2}
	go m.serve()
	defer ln2.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	require.Eventually(t, func() bool {
		return len(m.all()) == 3
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"q0", "q1", "q2"}, messagesOf(m.all()))
}

func TestTCPTransport_AuthHandshake(t *testing.T) {
	collector := newMockCollector(t)

	cfg := fastConfig(collector.port())
	cfg.AuthSecret = "s3cret"
	cfg.AppName = "orders"
	cfg.SessionID = "sess-1"

	tr, err := New(cfg, log.NewLogger())
	require.NoError(t, err)
	defer tr.Destroy()

	tr.Send(testEntry("hello"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	require.Eventually(t, func() bool {
		return len(collector.all()) == 2
	}, 3*time.Second, 20*time.Millisecond)

	lines := collector.all()
	var auth core.AuthFrame
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &auth))
	assert.Equal(t, core.WireTypeAuth, auth.Type)

	token, err := jwt.Parse(auth.Token, func(tok *jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "orders", claims["sub"])
	assert.Equal(t, "sess-1", claims["sid"])
}

func TestTCPTransport_DestroyedDiscardsSend(t *testing.T) {
	collector := newMockCollector(t)

	tr, err := New(fastConfig(collector.port()), log.NewLogger())
	require.NoError(t, err)

	tr.Destroy()
	tr.Destroy()
	assert.Equal(t, StateDestroyed, tr.State())

	tr.Send(testEntry("late"))
	assert.Equal(t, 0, tr.GetStats()["queued"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, tr.Flush(ctx))
}

func TestWSTransport_Delivers(t *testing.T) {
	var mu sync.Mutex
	var messages []string

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			messages = append(messages, string(data))
			mu.Unlock()
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := fastConfig(port)
	cfg.Kind = KindWebSocket
	cfg.Path = "/tapwire"

	tr, err := New(cfg, log.NewLogger())
	require.NoError(t, err)
	defer tr.Destroy()

	tr.Send(testEntry("w0"))
	tr.Send(testEntry("w1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(messages) == 2
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var frame map[string]string
	require.NoError(t, json.Unmarshal([]byte(messages[0]), &frame))
	assert.Equal(t, "w0", frame["message"])
	assert.Equal(t, uint64(0), tr.GetStats()["total_reconnects"],
		"first connect is not a reconnect")
}

func TestHTTPTransport_PostsBatch(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	var headers []http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, data)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := fastConfig(port)
	cfg.Kind = KindHTTP
	cfg.Path = "/tapwire"
	cfg.AuthSecret = "s3cret"

	tr, err := New(cfg, log.NewLogger())
	require.NoError(t, err)
	defer tr.Destroy()

	tr.Send(testEntry("h0"))
	tr.Send(testEntry("h1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) >= 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, StateConnected, tr.State())

	mu.Lock()
	defer mu.Unlock()
	var frames []map[string]string
	require.NoError(t, json.Unmarshal(bodies[0], &frames))
	require.Len(t, frames, 2)
	assert.Equal(t, "h0", frames[0]["message"])
	assert.Equal(t, "h1", frames[1]["message"])
	assert.Contains(t, headers[0].Get("Authorization"), "Bearer ")
}

func TestHTTPTransport_Compression(t *testing.T) {
	var mu sync.Mutex
	var body []byte
	var encoding string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = data
		encoding = r.Header.Get("Content-Encoding")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	cfg := fastConfig(port)
	cfg.Kind = KindHTTP
	cfg.EnableCompression = true

	tr, err := New(cfg, log.NewLogger())
	require.NoError(t, err)
	defer tr.Destroy()

	tr.Send(testEntry("compressed"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(body) > 0
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "gzip", encoding)

	zr, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "compressed")
}
