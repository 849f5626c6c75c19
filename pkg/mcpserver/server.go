// Package mcpserver exposes the hub's state and command protocol as MCP
// tools over stdio, so an agent can query events, drive browser captures and
// manage sessions through a single tool surface.
//
// The server is built against narrow capability interfaces instead of the
// hub type; tools register only for the capabilities actually supplied, so
// a partially wired server simply offers fewer tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/session"
	"github.com/daibug/daibug/pkg/version"
)

// EventSource reads and clears the event ring.
type EventSource interface {
	EventsSnapshot() []models.Event
	ClearEvents() int
}

// InteractionSource reads the interaction ring.
type InteractionSource interface {
	InteractionsSnapshot() []models.Interaction
}

// CommandBroker broadcasts a command frame and awaits the correlated
// response event.
type CommandBroker interface {
	Command(ctx context.Context, cmd map[string]any, timeout time.Duration, match func(models.Event) bool) (models.Event, error)
}

// WatchBackend manages watch rules and the watched-event buffer.
type WatchBackend interface {
	AddWatchRule(label string, source models.Source, conds models.WatchConditions) (models.WatchRule, error)
	RemoveWatchRule(id string) bool
	WatchRules() []models.WatchRule
	WatchedEvents(limit int, ruleID string) []models.WatchedEvent
	ClearWatchedEvents() int
}

// SessionBackend drives the session recorder.
type SessionBackend interface {
	StartSession(label string) (string, error)
	StopSession() (*session.Session, error)
	ExportSession(path string) error
	SessionState() (bool, *session.Summary)
}

// Backends carries the capabilities to expose. Nil entries suppress the
// tools that would need them.
type Backends struct {
	Events       EventSource
	Interactions InteractionSource
	Commands     CommandBroker
	Watch        WatchBackend
	Sessions     SessionBackend
}

// Server is the MCP tool surface.
type Server struct {
	b   Backends
	mcp *mcpsdk.Server

	// netCursor is the advancing get_network_log cursor: only events with
	// a strictly greater ts are returned on the next call.
	cursorMu  sync.Mutex
	netCursor int64
}

// NewServer builds the server and registers every tool its backends can
// serve.
func NewServer(b Backends) *Server {
	s := &Server{
		b: b,
		mcp: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    version.AppName,
			Version: version.Full(),
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is cancelled or the peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// addTool registers one tool with a raw JSON schema.
func (s *Server) addTool(name, description string, schema json.RawMessage, handler mcpsdk.ToolHandler) {
	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, handler)
}

// textResult marshals v into the single text fragment every tool returns.
func textResult(v any) *mcpsdk.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("failed to serialize result: " + err.Error())
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}
}

// errorResult renders a tool failure. Failures are payloads, never
// protocol errors, so agents always get something parseable back.
func errorResult(msg string) *mcpsdk.CallToolResult {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
		IsError: true,
	}
}

// parseArgs unmarshals the raw tool arguments into a typed struct.
func parseArgs(req *mcpsdk.CallToolRequest, out any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, out)
}
