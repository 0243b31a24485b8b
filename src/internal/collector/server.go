// FILE: src/internal/collector/server.go
package collector

import (
	"bytes"
	"encoding/json"
	"sync"

	"tapwire/src/internal/core"

	"github.com/panjf2000/gnet/v2"
)

// clientState is per-connection line buffering and auth progress.
type clientState struct {
	buffer        bytes.Buffer
	authenticated bool
}

// frameServer handles gnet events.
type frameServer struct {
	gnet.BuiltinEventEngine
	collector *Collector
	clients   map[gnet.Conn]*clientState
	mu        sync.RWMutex
}

func (s *frameServer) OnBoot(eng gnet.Engine) gnet.Action {
	s.collector.engineMu.Lock()
	s.collector.engine = &eng
	s.collector.engineMu.Unlock()

	s.collector.logger.Debug("msg", "Collector server booted",
		"component", "collector",
		"port", s.collector.config.Port)
	return gnet.None
}

func (s *frameServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	client := &clientState{
		authenticated: s.collector.config.AuthSecret == "",
	}

	s.mu.Lock()
	s.clients[c] = client
	s.mu.Unlock()

	newCount := s.collector.activeConns.Add(1)
	s.collector.logger.Debug("msg", "Connection opened",
		"component", "collector",
		"remote_addr", c.RemoteAddr().String(),
		"active_connections", newCount,
		"requires_auth", !client.authenticated)
	return nil, gnet.None
}

func (s *frameServer) OnClose(c gnet.Conn, err error) gnet.Action {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()

	newCount := s.collector.activeConns.Add(-1)
	s.collector.logger.Debug("msg", "Connection closed",
		"component", "collector",
		"remote_addr", c.RemoteAddr().String(),
		"active_connections", newCount,
		"error", err)
	return gnet.None
}

func (s *frameServer) OnTraffic(c gnet.Conn) gnet.Action {
	s.mu.RLock()
	client, exists := s.clients[c]
	s.mu.RUnlock()

	if !exists {
		return gnet.Close
	}

	data, err := c.Next(-1)
	if err != nil {
		s.collector.logger.Error("msg", "Error reading from connection",
			"component", "collector",
			"error", err)
		return gnet.Close
	}

	client.buffer.Write(data)
	if client.buffer.Len() > s.collector.config.MaxLineSize {
		s.collector.logger.Warn("msg", "Oversized frame, closing connection",
			"component", "collector",
			"remote_addr", c.RemoteAddr().String(),
			"buffered", client.buffer.Len())
		return gnet.Close
	}

	for {
		idx := bytes.IndexByte(client.buffer.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, client.buffer.Bytes()[:idx])
		client.buffer.Next(idx + 1)

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if action := s.handleLine(c, client, line); action != gnet.None {
			return action
		}
	}
	return gnet.None
}

// handleLine processes one complete frame line. Malformed data is
// counted and skipped; a sender bug never takes the collector down.
func (s *frameServer) handleLine(c gnet.Conn, client *clientState, line []byte) gnet.Action {
	col := s.collector

	if !client.authenticated {
		var auth core.AuthFrame
		if err := json.Unmarshal(line, &auth); err != nil || auth.Type != core.WireTypeAuth {
			col.rejectedAuth.Add(1)
			col.logger.Warn("msg", "Expected auth frame, closing",
				"component", "collector",
				"remote_addr", c.RemoteAddr().String())
			return gnet.Close
		}
		if err := col.verifyToken(auth.Token); err != nil {
			col.rejectedAuth.Add(1)
			col.logger.Warn("msg", "Rejected auth token",
				"component", "collector",
				"remote_addr", c.RemoteAddr().String(),
				"error", err)
			return gnet.Close
		}
		client.authenticated = true
		s.respond(c, "ok", "authenticated")
		return gnet.None
	}

	var frame core.WireFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		col.malformedFrames.Add(1)
		col.logger.Debug("msg", "Discarded malformed frame",
			"component", "collector",
			"error", err)
		return gnet.None
	}

	col.totalFrames.Add(1)
	col.handler(frame, c.RemoteAddr().String())
	return gnet.None
}

func (s *frameServer) respond(c gnet.Conn, status, message string) {
	data, err := json.Marshal(core.CollectorResponse{Status: status, Message: message})
	if err != nil {
		return
	}
	_, _ = c.Write(append(data, '\n'))
}
