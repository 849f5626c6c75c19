// Package hub is the container that owns the whole observability bridge: the
// child dev-server supervisor, the event/interaction/watched stores, the tab
// registry, the watch engine, the session recorder, the WebSocket and HTTP
// endpoints, and the correlated command/response machinery the tool surface
// is built on.
//
// All state mutation funnels through a single ingestion goroutine, so id
// assignment, redaction, ring insertion, watch evaluation, broadcast and
// subscriber fan-out happen atomically per event. Readers take defensive
// snapshots under a registry lock and never block ingestion.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daibug/daibug/pkg/api"
	"github.com/daibug/daibug/pkg/config"
	"github.com/daibug/daibug/pkg/devserver"
	"github.com/daibug/daibug/pkg/events"
	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/redact"
	"github.com/daibug/daibug/pkg/ring"
	"github.com/daibug/daibug/pkg/session"
	"github.com/daibug/daibug/pkg/watch"
	"github.com/daibug/daibug/pkg/ws"
)

// Ring capacities. Fixed; overflow drops the oldest entries.
const (
	EventCapacity       = 500
	InteractionCapacity = 200
)

// startupDrainTimeout is how long Start waits for the first event so
// callers observe the child's startup output immediately after Start
// returns. startupDrainPoll is the polling interval.
const (
	startupDrainTimeout = 700 * time.Millisecond
	startupDrainPoll    = 25 * time.Millisecond
)

// ingestQueueSize buffers producers (pipe readers, WS read loops) posting
// into the ingestion goroutine.
const ingestQueueSize = 512

// serverShutdownTimeout bounds HTTP/WS server shutdown during Stop.
const serverShutdownTimeout = 5 * time.Second

// Options carries the per-run parameters that are not part of the config
// schema.
type Options struct {
	// Cmd is the shell command that launches the dev server.
	Cmd string
}

// Hub wires every component together. Create with New, then Start/Stop.
type Hub struct {
	cfg config.Config
	cmd string

	factory  *events.Factory
	intSeq   *events.Sequencer
	redactor *redact.Redactor
	engine   *watch.Engine
	detector *devserver.Detector
	super    *devserver.Supervisor
	wsm      *ws.Manager

	// framework mirrors the detector lock for readers off the ingestion
	// goroutine.
	framework atomic.Value // string

	// Registries. mu guards the rings and the tab map; the watch engine
	// carries its own lock.
	mu     sync.RWMutex
	events *ring.Ring[models.Event]
	inters *ring.Ring[models.Interaction]
	tabs   map[string]models.TabInfo

	subMu       sync.Mutex
	subscribers []func(models.Event)

	waitMu   sync.Mutex
	waiters  map[int]*waiter
	waiterID int

	recMu         sync.Mutex
	recorder      *session.Recorder
	recorderWired bool

	lifeMu  sync.Mutex
	started bool
	stopped bool

	httpSrv  *http.Server
	wsSrv    *http.Server
	httpPort int
	wsPort   int

	ingestCh   chan func()
	quitCh     chan struct{}
	ingestDone chan struct{}
}

// New builds an unstarted hub from a resolved configuration.
func New(cfg config.Config, opts Options) *Hub {
	h := &Hub{
		cfg:        cfg.Clone(),
		cmd:        opts.Cmd,
		factory:    events.NewFactory(),
		intSeq:     events.NewSequencer(),
		redactor:   redact.New(cfg.Redact.Fields, cfg.Redact.URLPatterns),
		engine:     watch.NewEngine(),
		detector:   devserver.NewDetector(),
		events:     ring.New[models.Event](EventCapacity),
		inters:     ring.New[models.Interaction](InteractionCapacity),
		tabs:       make(map[string]models.TabInfo),
		waiters:    make(map[int]*waiter),
		ingestCh:   make(chan func(), ingestQueueSize),
		quitCh:     make(chan struct{}),
		ingestDone: make(chan struct{}),
	}
	h.framework.Store("")

	// Clients only need a filter command when the include set is a strict
	// subset of the console vocabulary.
	var filter []string
	if !config.ConsoleIncludesAllLevels(h.cfg.Console.Include) {
		filter = h.cfg.Console.Include
	}
	h.wsm = ws.NewManager(h, filter)
	return h
}

// Start binds the HTTP and WS endpoints, launches the dev command, registers
// configured watch rules and, when configured, auto-starts a session. It
// then waits briefly for the first event to drain so startup output is
// already readable.
func (h *Hub) Start(ctx context.Context) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if h.started {
		return ErrAlreadyStarted
	}

	httpLn, httpPort, err := bindLoopback(h.cfg.Hub.HTTPPort, 0)
	if err != nil {
		return err
	}
	wsLn, wsPort, err := bindLoopback(h.cfg.Hub.WSPort, httpPort)
	if err != nil {
		_ = httpLn.Close()
		return err
	}
	h.httpPort, h.wsPort = httpPort, wsPort
	h.started = true

	go h.ingestLoop()

	h.httpSrv = &http.Server{Handler: api.NewServer(h).Handler()}
	go func() {
		if err := h.httpSrv.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	h.wsSrv = &http.Server{Handler: h.wsm.HTTPHandler()}
	go func() {
		if err := h.wsSrv.Serve(wsLn); err != nil && err != http.ErrServerClosed {
			slog.Error("WS server error", "error", err)
		}
	}()
	slog.Info("Hub listening", "http_port", httpPort, "ws_port", wsPort)

	if hint := devserver.DetectFromCommand(h.cmd); hint != "" {
		h.detector.Lock(hint)
		h.framework.Store(string(hint))
	}
	h.super = devserver.NewSupervisor(h.cmd, h)
	// A failed spawn is already reported through the sink as a child
	// failure event; the hub stays up either way.
	_ = h.super.Start()

	for _, w := range h.cfg.Watch {
		if _, err := h.engine.AddRule(w.Label, w.Source, w.Conditions()); err != nil {
			slog.Warn("Skipping invalid configured watch rule", "label", w.Label, "error", err)
		}
	}

	if h.cfg.Session.AutoStart {
		if _, err := h.startSession(""); err != nil {
			slog.Warn("Session auto-start failed", "error", err)
		}
	}

	deadline := time.Now().Add(startupDrainTimeout)
	for time.Now().Before(deadline) {
		if h.eventCount() > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupDrainPoll):
		}
	}
	return nil
}

// Stop shuts everything down: the recorder keeps its last snapshot,
// outstanding command waits fail with a timeout error, WS clients are
// terminated, both servers close and the child gets its grace period before
// the process group is killed. Idempotent after the first call.
func (h *Hub) Stop() error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if !h.started {
		return ErrNotStarted
	}
	if h.stopped {
		return nil
	}
	h.stopped = true

	h.recMu.Lock()
	if h.recorder != nil {
		h.recorder.Stop()
	}
	h.recMu.Unlock()

	close(h.quitCh)
	<-h.ingestDone

	h.wsm.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := h.wsSrv.Shutdown(ctx); err != nil {
		slog.Warn("WS server shutdown error", "error", err)
	}
	if err := h.httpSrv.Shutdown(ctx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	h.super.Stop()
	slog.Info("Hub stopped")
	return nil
}

// ingestLoop is the single goroutine all state mutation runs on.
func (h *Hub) ingestLoop() {
	defer close(h.ingestDone)
	for {
		select {
		case <-h.quitCh:
			return
		case fn := <-h.ingestCh:
			fn()
		}
	}
}

// post schedules fn on the ingestion goroutine. After Stop the work is
// silently discarded.
func (h *Hub) post(fn func()) {
	select {
	case <-h.quitCh:
	case h.ingestCh <- fn:
	}
}

// runOnIngest schedules fn and waits for it, so the caller observes a state
// change that is atomic with respect to event ingestion.
func (h *Hub) runOnIngest(fn func()) {
	done := make(chan struct{})
	h.post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-h.quitCh:
	}
}

func (h *Hub) eventCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.events.Len()
}
