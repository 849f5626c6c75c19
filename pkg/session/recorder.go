package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/daibug/daibug/pkg/config"
	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/redact"
)

// StateView is the narrow slice of hub state the recorder reads. The hub
// passes itself; the recorder never holds the hub type, keeping ownership
// one-directional.
type StateView interface {
	EventsSnapshot() []models.Event
	InteractionsSnapshot() []models.Interaction
	WatchedSnapshot() []models.WatchedEvent
}

// Recorder captures one session. It starts with the events already in the
// hub, appends everything ingested afterwards, and freezes on Stop. A
// Recorder records a single session; the hub creates a new one per
// start_session.
type Recorder struct {
	mu sync.Mutex

	view     StateView
	redactor *redact.Redactor
	cfg      config.Config
	env      Environment
	now      func() int64

	active  bool
	stopped bool

	id      string
	label   string
	events  []models.Event
	storage []models.StorageSnapshot

	// frozen on Stop
	interactions []models.Interaction
	watched      []models.WatchedEvent
}

// NewRecorder prepares an inactive recorder.
func NewRecorder(view StateView, redactor *redact.Redactor, cfg config.Config, env Environment) *Recorder {
	return &Recorder{
		view:     view,
		redactor: redactor,
		cfg:      cfg.Clone(),
		env:      env,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Start begins recording, seeding the session with the hub's current
// events. Starting twice or after Stop is a misuse.
func (r *Recorder) Start(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return fmt.Errorf("session already started")
	}
	if r.stopped {
		return fmt.Errorf("recorder is frozen, start a new session")
	}
	ts := r.now()
	r.id = fmt.Sprintf("session_%d", ts)
	r.label = label
	r.env.StartedAt = ts
	r.events = r.view.EventsSnapshot()
	r.storage = nil
	r.active = true
	return nil
}

// Active reports whether the recorder is still appending.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ID returns the session id assigned at Start.
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// RecordEvent appends one ingested event. The hub's subscriber calls this
// on the ingestion path; events arriving after Stop are dropped.
func (r *Recorder) RecordEvent(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.events = append(r.events, e.Clone())
}

// RecordStorage appends a storage snapshot unless storage capture is
// disabled by config.
func (r *Recorder) RecordStorage(s models.StorageSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || !r.cfg.Session.StorageCapture() {
		return
	}
	r.storage = append(r.storage, s.Clone())
}

// Stop freezes the session: interactions and watched events are captured
// from the hub as of now, and no further appends are accepted. Idempotent.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.stopped = true
	r.interactions = r.view.InteractionsSnapshot()
	r.watched = r.view.WatchedSnapshot()
}

// Snapshot materializes the session. While active, interactions and
// watched events reflect the hub's live state; once stopped, the frozen
// capture. The result is always a fresh deep copy with a recomputed
// summary.
func (r *Recorder) Snapshot() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	interactions := r.interactions
	watched := r.watched
	if r.active {
		interactions = r.view.InteractionsSnapshot()
		watched = r.view.WatchedSnapshot()
	}

	s := &Session{
		Version:          FormatVersion,
		ID:               r.id,
		Label:            r.label,
		Environment:      r.env,
		Config:           r.cfg.Clone(),
		Events:           cloneEvents(r.events),
		Interactions:     cloneInteractions(interactions),
		WatchedEvents:    cloneWatched(watched),
		StorageSnapshots: cloneStorage(r.storage),
	}
	s.Events = SortEvents(s.Events)
	s.Summary = ComputeSummary(s.Events, s.Interactions)
	return s
}

func cloneEvents(in []models.Event) []models.Event {
	out := make([]models.Event, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

func cloneInteractions(in []models.Interaction) []models.Interaction {
	out := make([]models.Interaction, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

func cloneWatched(in []models.WatchedEvent) []models.WatchedEvent {
	out := make([]models.WatchedEvent, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

func cloneStorage(in []models.StorageSnapshot) []models.StorageSnapshot {
	out := make([]models.StorageSnapshot, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
