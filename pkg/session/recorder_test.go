package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daibug/daibug/pkg/config"
	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/redact"
)

// fakeView is a StateView with settable contents.
type fakeView struct {
	events       []models.Event
	interactions []models.Interaction
	watched      []models.WatchedEvent
}

func (f *fakeView) EventsSnapshot() []models.Event {
	return append([]models.Event(nil), f.events...)
}

func (f *fakeView) InteractionsSnapshot() []models.Interaction {
	return append([]models.Interaction(nil), f.interactions...)
}

func (f *fakeView) WatchedSnapshot() []models.WatchedEvent {
	return append([]models.WatchedEvent(nil), f.watched...)
}

func testEvent(id string, ts int64, source models.Source, level models.Level, payload map[string]any) models.Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return models.Event{ID: id, TS: ts, Source: source, Level: level, Payload: payload}
}

func newTestRecorder(t *testing.T, view *fakeView) *Recorder {
	t.Helper()
	cfg := config.DefaultConfig()
	return NewRecorder(view, redact.New(cfg.Redact.Fields, nil), cfg, Environment{
		Framework:     "vite",
		NodeVersion:   "go1.25.6",
		Platform:      "linux",
		DaibugVersion: "dev",
		Cmd:           "npm run dev",
	})
}

func TestRecorder_StartSeedsWithExistingEvents(t *testing.T) {
	view := &fakeView{events: []models.Event{
		testEvent("evt_0000000000001_001", 1, models.SourceVite, models.LevelInfo, map[string]any{"message": "ready"}),
	}}
	r := newTestRecorder(t, view)

	require.NoError(t, r.Start("first"))
	s := r.Snapshot()

	assert.Equal(t, "1.0", s.Version)
	assert.Contains(t, s.ID, "session_")
	assert.Equal(t, "first", s.Label)
	require.Len(t, s.Events, 1)
	assert.Equal(t, "ready", s.Events[0].Payload["message"])
}

func TestRecorder_AppendsWhileActive(t *testing.T) {
	view := &fakeView{}
	r := newTestRecorder(t, view)
	require.NoError(t, r.Start(""))

	r.RecordEvent(testEvent("evt_0000000000002_001", 2, models.SourceBrowserConsole, models.LevelError, map[string]any{"message": "boom"}))
	r.RecordEvent(testEvent("evt_0000000000003_001", 3, models.SourceBrowserNetwork, models.LevelInfo, map[string]any{"url": "/api", "status": 500.0}))

	s := r.Snapshot()
	assert.Equal(t, 2, s.Summary.TotalEvents)
	assert.Equal(t, 1, s.Summary.ErrorCount)
	assert.Equal(t, 1, s.Summary.NetworkRequests)
	assert.Equal(t, 1, s.Summary.FailedRequests)
}

func TestRecorder_ActiveSnapshotTracksLiveInteractions(t *testing.T) {
	view := &fakeView{}
	r := newTestRecorder(t, view)
	require.NoError(t, r.Start(""))

	view.interactions = []models.Interaction{{ID: "int_1_001", Type: "click"}}
	assert.Len(t, r.Snapshot().Interactions, 1)

	view.interactions = append(view.interactions, models.Interaction{ID: "int_2_001", Type: "input"})
	assert.Len(t, r.Snapshot().Interactions, 2)
}

func TestRecorder_StopFreezes(t *testing.T) {
	view := &fakeView{
		interactions: []models.Interaction{{ID: "int_1_001", Type: "click"}},
		watched:      []models.WatchedEvent{{MatchedRule: models.RuleRef{ID: "rule_1", Label: "r"}}},
	}
	r := newTestRecorder(t, view)
	require.NoError(t, r.Start(""))
	r.RecordEvent(testEvent("evt_0000000000002_001", 2, models.SourceVite, models.LevelInfo, nil))

	r.Stop()

	// later changes to hub state must not be visible
	view.interactions = append(view.interactions, models.Interaction{ID: "int_9_001", Type: "scroll"})
	view.watched = nil
	r.RecordEvent(testEvent("evt_0000000000009_001", 9, models.SourceVite, models.LevelInfo, nil))
	r.RecordStorage(models.StorageSnapshot{URL: "http://localhost"})

	s := r.Snapshot()
	assert.False(t, r.Active())
	assert.Len(t, s.Events, 1)
	assert.Len(t, s.Interactions, 1)
	assert.Len(t, s.WatchedEvents, 1)
	assert.Empty(t, s.StorageSnapshots)

	// stop is idempotent
	r.Stop()
	assert.Len(t, r.Snapshot().Interactions, 1)
}

func TestRecorder_StartTwiceFails(t *testing.T) {
	r := newTestRecorder(t, &fakeView{})
	require.NoError(t, r.Start(""))
	assert.Error(t, r.Start(""))

	r.Stop()
	assert.Error(t, r.Start(""), "a frozen recorder stays frozen")
}

func TestRecorder_StorageCaptureDisabled(t *testing.T) {
	view := &fakeView{}
	cfg := config.DefaultConfig()
	off := false
	cfg.Session.CaptureStorage = &off
	r := NewRecorder(view, redact.New(nil, nil), cfg, Environment{})
	require.NoError(t, r.Start(""))

	r.RecordStorage(models.StorageSnapshot{URL: "http://localhost:3000"})

	assert.Empty(t, r.Snapshot().StorageSnapshots)
}

func TestRecorder_SnapshotIsDefensive(t *testing.T) {
	view := &fakeView{}
	r := newTestRecorder(t, view)
	require.NoError(t, r.Start(""))
	r.RecordEvent(testEvent("evt_0000000000002_001", 2, models.SourceVite, models.LevelInfo, map[string]any{"message": "x"}))

	s := r.Snapshot()
	s.Events[0].Payload["message"] = "mutated"

	assert.Equal(t, "x", r.Snapshot().Events[0].Payload["message"])
}

func TestExportImport_RoundTrip(t *testing.T) {
	view := &fakeView{}
	r := newTestRecorder(t, view)
	require.NoError(t, r.Start("roundtrip"))
	r.RecordEvent(testEvent("evt_0000000000002_001", 2, models.SourceBrowserConsole, models.LevelError, map[string]any{"message": "boom"}))
	r.Stop()

	out, err := r.ExportString()
	require.NoError(t, err)

	imported, err := ImportString(out)
	require.NoError(t, err)
	assert.Equal(t, r.ID(), imported.ID)
	assert.Equal(t, "1.0", imported.Version)
	assert.Equal(t, "roundtrip", imported.Label)
	require.Len(t, imported.Events, 1)
	assert.Equal(t, "boom", imported.Events[0].Payload["message"])
	assert.NotZero(t, imported.ExportedAt)
}

func TestExport_RedactsStorageValues(t *testing.T) {
	view := &fakeView{}
	r := newTestRecorder(t, view)
	require.NoError(t, r.Start(""))
	r.RecordStorage(models.StorageSnapshot{
		URL:            "http://localhost:3000",
		LocalStorage:   map[string]string{"token": "abc", "theme": "dark"},
		SessionStorage: map[string]string{"authorization": "Bearer x"},
	})

	out, err := r.ExportString()
	require.NoError(t, err)

	imported, err := ImportString(out)
	require.NoError(t, err)
	require.Len(t, imported.StorageSnapshots, 1)
	assert.Equal(t, "[REDACTED]", imported.StorageSnapshots[0].LocalStorage["token"])
	assert.Equal(t, "dark", imported.StorageSnapshots[0].LocalStorage["theme"])
	assert.Equal(t, "[REDACTED]", imported.StorageSnapshots[0].SessionStorage["authorization"])

	// the in-memory session keeps the captured values
	assert.Equal(t, "abc", r.Snapshot().StorageSnapshots[0].LocalStorage["token"])
}

func TestExport_WritesFileWithParents(t *testing.T) {
	r := newTestRecorder(t, &fakeView{})
	require.NoError(t, r.Start(""))

	path := filepath.Join(t.TempDir(), "nested", "deeper", "session.json")
	require.NoError(t, r.Export(path))

	imported, err := Import(path)
	require.NoError(t, err)
	assert.Equal(t, r.ID(), imported.ID)
}

func TestImportString_Validation(t *testing.T) {
	_, err := ImportString("{not json")
	assert.ErrorIs(t, err, ErrInvalidFormat)

	doc := map[string]any{"version": "2.0", "id": "session_1"}
	raw, _ := json.Marshal(doc)
	_, err = ImportString(string(raw))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	doc = map[string]any{"version": "1.0", "id": ""}
	raw, _ = json.Marshal(doc)
	_, err = ImportString(string(raw))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	doc = map[string]any{"version": "1.0", "id": "session_1"}
	raw, _ = json.Marshal(doc)
	s, err := ImportString(string(raw))
	require.NoError(t, err)
	assert.Equal(t, "session_1", s.ID)
}

func TestImport_MissingFile(t *testing.T) {
	_, err := Import(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(errUnwrapAll(err)))
}

func errUnwrapAll(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		err = u.Unwrap()
	}
}
