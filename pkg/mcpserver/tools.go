package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/daibug/daibug/pkg/hub"
	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/session"
)

// Result limits for the query tools.
const (
	defaultEventLimit       = 50
	maxEventLimit           = 500
	defaultInteractionLimit = 50
	maxInteractionLimit     = 200
)

// evaluateTimeout is the default wait for evaluate_in_browser; expressions
// resolve fast or not at all.
const evaluateTimeout = 300 * time.Millisecond

func (s *Server) registerTools() {
	if s.b.Events != nil {
		s.addTool("get_events",
			"Query captured events, filtered by source, level, timestamp, tab and limit.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"source": {"type": "string", "description": "Exact source tag, e.g. vite or browser:console"},
					"level": {"type": "string", "description": "Exact level: info, warn, error or debug"},
					"since": {"type": "integer", "description": "Only events with ts strictly greater than this"},
					"tab_id": {"type": "string", "description": "Keep events from this tab, plus events carrying no tab"},
					"limit": {"type": "integer", "description": "Max events returned, default 50, capped at 500"}
				}
			}`), s.handleGetEvents)
		s.addTool("get_network_log",
			"Return new network events since the previous call, split by success.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"include_successful": {"type": "boolean", "description": "Include requests with status 200-399 (default true)"},
					"include_failed": {"type": "boolean", "description": "Include failed requests (default true)"}
				}
			}`), s.handleGetNetworkLog)
		s.addTool("clear_events",
			"Empty the event ring.",
			json.RawMessage(`{"type": "object"}`), s.handleClearEvents)
	}
	if s.b.Interactions != nil {
		s.addTool("replay_interactions",
			"Return recorded user interactions in order.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"limit": {"type": "integer", "description": "Max interactions returned, default 50, capped at 200"}
				}
			}`), s.handleReplayInteractions)
	}
	if s.b.Commands != nil {
		s.addTool("snapshot_dom",
			"Ask the connected browser for a DOM snapshot.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"selector": {"type": "string", "description": "CSS selector restricting the snapshot"},
					"timeout": {"type": "integer", "description": "Wait in milliseconds, default 3000, capped at 10000"}
				}
			}`), s.handleSnapshotDOM)
		s.addTool("get_component_state",
			"Ask the connected browser for its React component tree.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"timeout": {"type": "integer", "description": "Wait in milliseconds, default 3000, capped at 10000"}
				}
			}`), s.handleGetComponentState)
		s.addTool("capture_storage",
			"Ask the connected browser for its localStorage/sessionStorage contents.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"timeout": {"type": "integer", "description": "Wait in milliseconds, default 3000, capped at 10000"}
				}
			}`), s.handleCaptureStorage)
		s.addTool("evaluate_in_browser",
			"Evaluate a JavaScript expression in the connected browser. Network access is restricted to localhost.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"expression": {"type": "string", "description": "JavaScript expression to evaluate"},
					"timeout": {"type": "integer", "description": "Wait in milliseconds, default 300, capped at 10000"}
				},
				"required": ["expression"]
			}`), s.handleEvaluateInBrowser)
	}
	if s.b.Watch != nil {
		s.addTool("add_watch_rule",
			"Watch the event stream for a condition and buffer every match.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"label": {"type": "string", "description": "Human-readable rule label"},
					"source": {"type": "string", "description": "Restrict to one source tag"},
					"status_codes": {"type": "array", "items": {"type": "integer"}, "description": "Match network events with these statuses"},
					"url_pattern": {"type": "string", "description": "URL glob, * within a segment, ** across segments"},
					"methods": {"type": "array", "items": {"type": "string"}, "description": "HTTP methods, case-insensitive"},
					"levels": {"type": "array", "items": {"type": "string"}, "description": "Event levels"},
					"message_contains": {"type": "string", "description": "Case-insensitive message substring"},
					"payload_contains": {"type": "object", "description": "Structural payload containment"}
				},
				"required": ["label"]
			}`), s.handleAddWatchRule)
		s.addTool("remove_watch_rule",
			"Remove a watch rule by id.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"rule_id": {"type": "string", "description": "Rule id returned by add_watch_rule"}
				},
				"required": ["rule_id"]
			}`), s.handleRemoveWatchRule)
		s.addTool("list_watch_rules",
			"List the registered watch rules.",
			json.RawMessage(`{"type": "object"}`), s.handleListWatchRules)
		s.addTool("get_watched_events",
			"Return buffered watch-rule matches, newest first.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"limit": {"type": "integer", "description": "Max matches returned"},
					"rule_id": {"type": "string", "description": "Only matches of this rule"}
				}
			}`), s.handleGetWatchedEvents)
		s.addTool("clear_watched_events",
			"Empty the watched-event buffer.",
			json.RawMessage(`{"type": "object"}`), s.handleClearWatchedEvents)
	}
	if s.b.Sessions != nil {
		s.addTool("start_session",
			"Clear the event ring and start recording a debugging session.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"label": {"type": "string", "description": "Optional session label"}
				}
			}`), s.handleStartSession)
		s.addTool("stop_session",
			"Stop the active session and return its summary.",
			json.RawMessage(`{"type": "object"}`), s.handleStopSession)
		s.addTool("export_session",
			"Write the active or last-stopped session to a JSON file.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Destination file path"}
				},
				"required": ["path"]
			}`), s.handleExportSession)
		s.addTool("import_session",
			"Read a previously exported session file and return its summary.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Session file path"}
				},
				"required": ["path"]
			}`), s.handleImportSession)
		s.addTool("diff_sessions",
			"Compare two exported session files.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"path_a": {"type": "string", "description": "Baseline session file"},
					"path_b": {"type": "string", "description": "Comparison session file"}
				},
				"required": ["path_a", "path_b"]
			}`), s.handleDiffSessions)
		s.addTool("get_session_summary",
			"Return the summary of the active or last-stopped session.",
			json.RawMessage(`{"type": "object"}`), s.handleGetSessionSummary)
	}
}

// ── query tools ──────────────────────────────────────────────

type getEventsArgs struct {
	Source string `json:"source"`
	Level  string `json:"level"`
	Since  int64  `json:"since"`
	TabID  string `json:"tab_id"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleGetEvents(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args getEventsArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	var filtered []models.Event
	for _, ev := range s.b.Events.EventsSnapshot() {
		if args.Source != "" && string(ev.Source) != args.Source {
			continue
		}
		if args.Level != "" && string(ev.Level) != args.Level {
			continue
		}
		if args.Since > 0 && ev.TS <= args.Since {
			continue
		}
		if args.TabID != "" {
			if tabID, ok := ev.Payload["tabId"].(string); ok && tabID != args.TabID {
				continue
			}
		}
		filtered = append(filtered, ev)
	}
	total := len(filtered)
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	if filtered == nil {
		filtered = []models.Event{}
	}
	return textResult(map[string]any{"events": filtered, "total": total}), nil
}

type getNetworkLogArgs struct {
	IncludeSuccessful *bool `json:"include_successful"`
	IncludeFailed     *bool `json:"include_failed"`
}

func (s *Server) handleGetNetworkLog(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args getNetworkLogArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	includeOK := args.IncludeSuccessful == nil || *args.IncludeSuccessful
	includeFail := args.IncludeFailed == nil || *args.IncludeFailed

	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	out := []models.Event{}
	for _, ev := range s.b.Events.EventsSnapshot() {
		if ev.Source != models.SourceBrowserNetwork || ev.TS <= s.netCursor {
			continue
		}
		if networkSuccess(ev) {
			if !includeOK {
				continue
			}
		} else if !includeFail {
			continue
		}
		out = append(out, ev)
	}
	if len(out) > 0 {
		s.netCursor = out[len(out)-1].TS
	}
	return textResult(map[string]any{"requests": out, "count": len(out)}), nil
}

// networkSuccess treats status 200-399 as success; a missing status means
// the request never completed.
func networkSuccess(ev models.Event) bool {
	switch v := ev.Payload["status"].(type) {
	case float64:
		return v >= 200 && v < 400
	case int:
		return v >= 200 && v < 400
	case int64:
		return v >= 200 && v < 400
	default:
		return false
	}
}

type replayInteractionsArgs struct {
	Limit int `json:"limit"`
}

func (s *Server) handleReplayInteractions(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args replayInteractionsArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultInteractionLimit
	}
	if limit > maxInteractionLimit {
		limit = maxInteractionLimit
	}

	all := s.b.Interactions.InteractionsSnapshot()
	total := len(all)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	if all == nil {
		all = []models.Interaction{}
	}
	return textResult(map[string]any{"interactions": all, "total": total}), nil
}

func (s *Server) handleClearEvents(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.b.Events.ClearEvents()
	return textResult(map[string]any{
		"cleared":   true,
		"timestamp": time.Now().UnixMilli(),
	}), nil
}

// ── command/response tools ───────────────────────────────────

type captureArgs struct {
	Selector string `json:"selector"`
	Timeout  int    `json:"timeout"`
}

func commandTimeout(ms int) time.Duration {
	if ms <= 0 {
		return 0 // hub default
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Server) handleSnapshotDOM(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args captureArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	cmd := map[string]any{"command": "snapshot_dom"}
	if args.Selector != "" {
		cmd["selector"] = args.Selector
	}
	ev, err := s.b.Commands.Command(ctx, cmd, commandTimeout(args.Timeout), func(ev models.Event) bool {
		return ev.Source == models.SourceBrowserDOM && ev.Payload["type"] == "dom_snapshot"
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(ev.Payload), nil
}

func (s *Server) handleGetComponentState(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args captureArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	cmd := map[string]any{"command": "capture_react"}
	ev, err := s.b.Commands.Command(ctx, cmd, commandTimeout(args.Timeout), func(ev models.Event) bool {
		t := ev.Payload["type"]
		return ev.Source == models.SourceBrowserDOM && (t == "react_tree" || t == "react-tree")
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(ev.Payload), nil
}

func (s *Server) handleCaptureStorage(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args captureArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	cmd := map[string]any{"command": "capture_storage"}
	ev, err := s.b.Commands.Command(ctx, cmd, commandTimeout(args.Timeout), func(ev models.Event) bool {
		return ev.Source == models.SourceBrowserStorage && ev.Payload["type"] == "storage_snapshot"
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(ev.Payload), nil
}

type evaluateArgs struct {
	Expression string `json:"expression"`
	Timeout    int    `json:"timeout"`
}

func (s *Server) handleEvaluateInBrowser(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args evaluateArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	if strings.TrimSpace(args.Expression) == "" {
		return errorResult("expression is required"), nil
	}
	if err := checkSandbox(args.Expression); err != nil {
		return errorResult(err.Error()), nil
	}

	timeout := commandTimeout(args.Timeout)
	if timeout == 0 {
		timeout = evaluateTimeout
	}
	evaluationID := uuid.NewString()
	cmd := map[string]any{
		"command":      "evaluate",
		"evaluationId": evaluationID,
		"expression":   args.Expression,
	}
	ev, err := s.b.Commands.Command(ctx, cmd, timeout, func(ev models.Event) bool {
		return ev.Payload["evaluationId"] == evaluationID
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if msg, ok := ev.Payload["error"].(string); ok && msg != "" {
		return errorResult(msg), nil
	}
	return textResult(map[string]any{"result": ev.Payload["result"]}), nil
}

// ── evaluation sandbox ───────────────────────────────────────

// sandboxViolationMsg is the exact error agents key on.
const sandboxViolationMsg = "Sandbox violation: network requests to non-localhost URLs are not allowed"

var (
	fetchCallRe = regexp.MustCompile(`fetch\s*\(\s*['"]([^'"]+)['"]`)
	xhrOpenRe   = regexp.MustCompile(`\.open\s*\(\s*['"][^'"]*['"]\s*,\s*['"]([^'"]+)['"]`)
)

// checkSandbox scans the expression for fetch/XHR calls targeting a
// non-loopback host. Relative URLs stay on the dev server's origin and are
// always allowed.
func checkSandbox(expr string) error {
	for _, re := range []*regexp.Regexp{fetchCallRe, xhrOpenRe} {
		for _, m := range re.FindAllStringSubmatch(expr, -1) {
			if !isLoopbackURL(m[1]) {
				return errors.New(sandboxViolationMsg)
			}
		}
	}
	return nil
}

func isLoopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return true
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// ── watch tools ──────────────────────────────────────────────

type addWatchRuleArgs struct {
	Label           string         `json:"label"`
	Source          string         `json:"source"`
	StatusCodes     []int          `json:"status_codes"`
	URLPattern      string         `json:"url_pattern"`
	Methods         []string       `json:"methods"`
	Levels          []string       `json:"levels"`
	MessageContains string         `json:"message_contains"`
	PayloadContains map[string]any `json:"payload_contains"`
}

func (s *Server) handleAddWatchRule(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args addWatchRuleArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}

	levels := make([]models.Level, len(args.Levels))
	for i, l := range args.Levels {
		levels[i] = models.Level(l)
	}
	conds := models.WatchConditions{
		StatusCodes:     args.StatusCodes,
		URLPattern:      args.URLPattern,
		Methods:         args.Methods,
		Levels:          levels,
		MessageContains: args.MessageContains,
		PayloadContains: args.PayloadContains,
	}
	rule, err := s.b.Watch.AddWatchRule(args.Label, models.Source(args.Source), conds)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"rule": rule}), nil
}

type ruleIDArgs struct {
	RuleID string `json:"rule_id"`
}

func (s *Server) handleRemoveWatchRule(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args ruleIDArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	if args.RuleID == "" {
		return errorResult("rule_id is required"), nil
	}
	if !s.b.Watch.RemoveWatchRule(args.RuleID) {
		return errorResult("watch rule not found: " + args.RuleID), nil
	}
	return textResult(map[string]any{"removed": true, "ruleId": args.RuleID}), nil
}

func (s *Server) handleListWatchRules(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	rules := s.b.Watch.WatchRules()
	if rules == nil {
		rules = []models.WatchRule{}
	}
	return textResult(map[string]any{"rules": rules, "count": len(rules)}), nil
}

type getWatchedEventsArgs struct {
	Limit  int    `json:"limit"`
	RuleID string `json:"rule_id"`
}

func (s *Server) handleGetWatchedEvents(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args getWatchedEventsArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	events := s.b.Watch.WatchedEvents(args.Limit, args.RuleID)
	if events == nil {
		events = []models.WatchedEvent{}
	}
	return textResult(map[string]any{"events": events, "count": len(events)}), nil
}

func (s *Server) handleClearWatchedEvents(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	n := s.b.Watch.ClearWatchedEvents()
	return textResult(map[string]any{"cleared": n}), nil
}

// ── session tools ────────────────────────────────────────────

type startSessionArgs struct {
	Label string `json:"label"`
}

func (s *Server) handleStartSession(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args startSessionArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	id, err := s.b.Sessions.StartSession(args.Label)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"sessionId": id, "started": true}), nil
}

func (s *Server) handleStopSession(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	sess, err := s.b.Sessions.StopSession()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"sessionId": sess.ID, "summary": sess.Summary}), nil
}

type sessionPathArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleExportSession(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args sessionPathArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	if args.Path == "" {
		return errorResult("path is required"), nil
	}
	if err := s.b.Sessions.ExportSession(args.Path); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"exported": true, "path": args.Path}), nil
}

func (s *Server) handleImportSession(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args sessionPathArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	if args.Path == "" {
		return errorResult("path is required"), nil
	}
	sess, err := session.Import(args.Path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{
		"sessionId": sess.ID,
		"label":     sess.Label,
		"summary":   sess.Summary,
	}), nil
}

type diffSessionsArgs struct {
	PathA string `json:"path_a"`
	PathB string `json:"path_b"`
}

func (s *Server) handleDiffSessions(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args diffSessionsArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	if args.PathA == "" || args.PathB == "" {
		return errorResult("path_a and path_b are required"), nil
	}
	a, err := session.Import(args.PathA)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	b, err := session.Import(args.PathB)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(session.ComputeDiff(a, b)), nil
}

func (s *Server) handleGetSessionSummary(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	active, summary := s.b.Sessions.SessionState()
	if summary == nil {
		return errorResult("no session recorded"), nil
	}
	return textResult(map[string]any{"active": active, "summary": summary}), nil
}

// Hub-facing sanity check: the hub satisfies every capability interface.
var (
	_ EventSource       = (*hub.Hub)(nil)
	_ InteractionSource = (*hub.Hub)(nil)
	_ CommandBroker     = (*hub.Hub)(nil)
	_ WatchBackend      = (*hub.Hub)(nil)
	_ SessionBackend    = (*hub.Hub)(nil)
)
