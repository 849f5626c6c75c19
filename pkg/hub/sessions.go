package hub

import (
	"fmt"
	"runtime"

	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/session"
	"github.com/daibug/daibug/pkg/version"
)

// Session operations. One recorder records one session; starting a new
// session replaces the previous (stopped) recorder, whose snapshot stays
// readable until then.

// StartSession clears the event ring and begins recording. The clear and
// the recorder seed run on the ingestion goroutine, so no event can land
// between them. Returns the new session id.
func (h *Hub) StartSession(label string) (string, error) {
	h.lifeMu.Lock()
	running := h.started && !h.stopped
	h.lifeMu.Unlock()
	if !running {
		return "", ErrNotStarted
	}
	return h.startSession(label)
}

func (h *Hub) startSession(label string) (string, error) {
	h.recMu.Lock()
	if h.recorder != nil && h.recorder.Active() {
		h.recMu.Unlock()
		return "", fmt.Errorf("session already active")
	}
	h.recMu.Unlock()

	rec := session.NewRecorder(h, h.redactor, h.cfg, h.environment())

	var startErr error
	h.runOnIngest(func() {
		h.ClearEvents()
		if startErr = rec.Start(label); startErr != nil {
			return
		}
		h.recMu.Lock()
		h.recorder = rec
		h.recMu.Unlock()
	})
	if startErr != nil {
		return "", startErr
	}

	id := rec.ID()
	if id == "" {
		// runOnIngest fell through because the hub stopped mid-start.
		return "", ErrNotStarted
	}
	h.wireRecorderOnce()
	return id, nil
}

// wireRecorderOnce installs the single subscriber that forwards ingested
// events to whichever recorder is current. Registered lazily so a hub that
// never records keeps an empty subscriber list.
func (h *Hub) wireRecorderOnce() {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	if h.recorderWired {
		return
	}
	h.recorderWired = true
	h.OnEvent(func(ev models.Event) {
		h.recMu.Lock()
		rec := h.recorder
		h.recMu.Unlock()
		if rec != nil {
			rec.RecordEvent(ev)
		}
	})
}

// StopSession freezes the active recorder and returns its snapshot.
func (h *Hub) StopSession() (*session.Session, error) {
	h.recMu.Lock()
	rec := h.recorder
	h.recMu.Unlock()

	if rec == nil || !rec.Active() {
		return nil, fmt.Errorf("%w: no active session", models.ErrNotFound)
	}
	rec.Stop()
	return rec.Snapshot(), nil
}

// SessionState reports whether a recorder is active and the summary of the
// active or last-stopped session.
func (h *Hub) SessionState() (bool, *session.Summary) {
	h.recMu.Lock()
	rec := h.recorder
	h.recMu.Unlock()

	if rec == nil {
		return false, nil
	}
	s := rec.Snapshot()
	return rec.Active(), &s.Summary
}

// SessionSummary returns the summary of the active or last-stopped session.
func (h *Hub) SessionSummary() (*session.Summary, error) {
	h.recMu.Lock()
	rec := h.recorder
	h.recMu.Unlock()

	if rec == nil {
		return nil, fmt.Errorf("%w: no session recorded", models.ErrNotFound)
	}
	s := rec.Snapshot()
	return &s.Summary, nil
}

// ExportSession writes the active or last-stopped session to path.
func (h *Hub) ExportSession(path string) error {
	h.recMu.Lock()
	rec := h.recorder
	h.recMu.Unlock()

	if rec == nil {
		return fmt.Errorf("%w: no session recorded", models.ErrNotFound)
	}
	return rec.Export(path)
}

// environment describes this run for the session document.
func (h *Hub) environment() session.Environment {
	fw, _ := h.framework.Load().(string)
	return session.Environment{
		Framework:     fw,
		NodeVersion:   runtime.Version(),
		Platform:      runtime.GOOS,
		DaibugVersion: version.Full(),
		Cmd:           h.cmd,
	}
}
