// Package ws terminates the browser-facing WebSocket endpoint. Browser
// clients push typed frames (events, interactions, tab metadata, storage
// snapshots) and receive the live event broadcast plus command frames.
//
// Each Go process has one Manager instance. Frame ingestion is delegated to
// a Sink (the hub), which serializes all state mutation on its own path; the
// manager itself only tracks connections and moves bytes.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// sendQueueSize bounds the per-client outbound queue. A client that falls
// this far behind the broadcast is dropped rather than allowed to stall
// anyone else.
const sendQueueSize = 256

// defaultWriteTimeout bounds a single frame write.
const defaultWriteTimeout = 10 * time.Second

// Sink receives decoded inbound frames. Implemented by the hub; every method
// posts to the hub's serialized ingestion path.
type Sink interface {
	// IngestBrowserEvent handles a browser_event (or legacy bare) frame.
	IngestBrowserEvent(source, level string, payload map[string]any)
	// AddInteraction handles a browser_interaction frame.
	AddInteraction(in InboundInteraction)
	// UpsertTab handles a browser_tab_info frame.
	UpsertTab(tabID, url, title string)
	// IngestStorage handles a browser_storage frame.
	IngestStorage(payload map[string]any)
}

// InboundInteraction is the payload of a browser_interaction frame.
type InboundInteraction struct {
	Type   string
	Target string
	Value  string
	URL    string
	X      *float64
	Y      *float64
}

// inboundFrame is the superset of all recognized client frames. Type selects
// which fields matter; unknown types are dropped.
type inboundFrame struct {
	Type string `json:"type"`

	// browser_event + legacy bare frames
	Source  string         `json:"source"`
	Level   string         `json:"level"`
	Payload map[string]any `json:"payload"`

	// browser_interaction
	InteractionType string   `json:"interactionType"`
	Target          string   `json:"target"`
	Value           string   `json:"value"`
	URL             string   `json:"url"`
	X               *float64 `json:"x"`
	Y               *float64 `json:"y"`

	// browser_tab_info
	TabID    string `json:"tabId"`
	TabURL   string `json:"tabUrl"`
	TabTitle string `json:"tabTitle"`
}

// Manager tracks WebSocket connections and fans frames out to them.
type Manager struct {
	sink         Sink
	writeTimeout time.Duration

	// consoleFilter, when non-nil, is pushed to every new client as a
	// one-shot set_console_filter command.
	consoleFilter []string

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Connection is a single WebSocket client. The read loop runs on the
// goroutine that owns the connection; writes go through sendCh so a slow
// peer never blocks a broadcaster.
type Connection struct {
	ID     string
	conn   *websocket.Conn
	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewManager creates a manager delivering inbound frames to sink.
// consoleFilter may be nil when clients need no filter command.
func NewManager(sink Sink, consoleFilter []string) *Manager {
	return &Manager{
		sink:          sink,
		writeTimeout:  defaultWriteTimeout,
		consoleFilter: consoleFilter,
		connections:   make(map[string]*Connection),
	}
}

// HTTPHandler returns the upgrade handler for the WS port. Any path is
// accepted; the loopback bind is the trust boundary.
func (m *Manager) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Loopback-only endpoint; origin checks add nothing here.
			InsecureSkipVerify: true,
		})
		if err != nil {
			slog.Warn("WebSocket upgrade failed", "error", err)
			return
		}
		m.HandleConnection(r.Context(), conn)
	})
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Blocks until the connection closes.
func (m *Manager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:     uuid.New().String(),
		conn:   conn,
		sendCh: make(chan []byte, sendQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	m.register(c)
	defer m.unregister(c)

	go m.writeLoop(c)

	if m.consoleFilter != nil {
		m.sendJSON(c, map[string]any{
			"type":    "command",
			"command": "set_console_filter",
			"include": m.consoleFilter,
		})
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid WebSocket frame", "connection_id", c.ID, "error", err)
			continue
		}
		m.dispatch(c, &frame)
	}
}

// dispatch routes one decoded frame. Unknown types are dropped without
// failing the connection.
func (m *Manager) dispatch(c *Connection, f *inboundFrame) {
	switch f.Type {
	case "browser_event":
		m.sink.IngestBrowserEvent(f.Source, f.Level, f.Payload)

	case "browser_interaction":
		m.sink.AddInteraction(InboundInteraction{
			Type:   f.InteractionType,
			Target: f.Target,
			Value:  f.Value,
			URL:    f.URL,
			X:      f.X,
			Y:      f.Y,
		})

	case "browser_tab_info":
		if f.TabID == "" {
			slog.Warn("browser_tab_info frame without tabId", "connection_id", c.ID)
			return
		}
		m.sink.UpsertTab(f.TabID, f.TabURL, f.TabTitle)

	case "browser_storage":
		m.sink.IngestStorage(f.Payload)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})

	case "":
		// Legacy clients send the bare event object.
		if f.Source != "" {
			m.sink.IngestBrowserEvent(f.Source, f.Level, f.Payload)
			return
		}
		slog.Warn("Untyped WebSocket frame dropped", "connection_id", c.ID)

	default:
		slog.Warn("Unknown WebSocket frame type dropped",
			"connection_id", c.ID, "type", f.Type)
	}
}

// Broadcast sends one JSON frame to every open connection. A connection
// whose queue is full is dropped; the broadcaster never blocks.
func (m *Manager) Broadcast(frame []byte) {
	// Snapshot connection pointers under the lock, then release before
	// queueing so register/unregister never wait on sends.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.sendCh <- frame:
		default:
			slog.Warn("Dropping slow WebSocket client", "connection_id", c.ID)
			c.close(websocket.StatusPolicyViolation, "send queue overflow")
		}
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (m *Manager) BroadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal broadcast frame", "error", err)
		return
	}
	m.Broadcast(data)
}

// CountOpen returns the number of connected clients.
func (m *Manager) CountOpen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll terminates every connection. Used on hub shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "hub shutting down")
	}
}

// writeLoop drains the send queue onto the wire. Any write error ends the
// connection; the read loop observes the closed socket and unregisters.
func (m *Manager) writeLoop(c *Connection) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.sendCh:
			writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Warn("WebSocket write failed, dropping client",
					"connection_id", c.ID, "error", err)
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (m *Manager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	select {
	case c.sendCh <- data:
	default:
		slog.Warn("Dropping slow WebSocket client", "connection_id", c.ID)
		c.close(websocket.StatusPolicyViolation, "send queue overflow")
	}
}

func (c *Connection) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close(code, reason)
	})
}

func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()
	c.close(websocket.StatusNormalClosure, "")
}
