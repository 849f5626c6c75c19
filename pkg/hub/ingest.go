package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/ws"
)

// Command/response timeout policy. Callers may ask for less, never more.
const (
	DefaultCommandTimeout = 3 * time.Second
	MaxCommandTimeout     = 10 * time.Second
)

// waiter is a one-shot correlated subscription installed for the duration
// of a command wait.
type waiter struct {
	match func(models.Event) bool
	ch    chan models.Event
}

// ── ws.Sink ──────────────────────────────────────────────────

// IngestBrowserEvent validates, redacts and stores an event pushed by a
// browser client.
func (h *Hub) IngestBrowserEvent(source, level string, payload map[string]any) {
	h.post(func() {
		h.ingestEvent(models.Source(source), models.Level(level), payload)
	})
}

// AddInteraction appends a browser interaction to its ring.
func (h *Hub) AddInteraction(in ws.InboundInteraction) {
	h.post(func() {
		id, ts := h.intSeq.Next("int")
		h.mu.Lock()
		h.inters.Push(models.Interaction{
			ID:     id,
			TS:     ts,
			Type:   in.Type,
			Target: in.Target,
			Value:  in.Value,
			URL:    in.URL,
			X:      in.X,
			Y:      in.Y,
		})
		h.mu.Unlock()
	})
}

// UpsertTab records tab metadata, preserving the original connectedAt.
func (h *Hub) UpsertTab(tabID, url, title string) {
	h.post(func() {
		h.upsertTab(tabID, url, title)
	})
}

// IngestStorage stores a pushed storage snapshot as a browser:storage event.
func (h *Hub) IngestStorage(payload map[string]any) {
	h.post(func() {
		h.ingestEvent(models.SourceBrowserStorage, models.LevelInfo, payload)
	})
}

// ── devserver.LineSink ───────────────────────────────────────

// ChildLine classifies one line of child output and ingests it.
func (h *Hub) ChildLine(line string, stderr bool) {
	h.post(func() {
		src := h.detector.ClassifyLine(line)
		h.framework.Store(string(h.detector.Locked()))
		level := models.LevelInfo
		if stderr {
			level = models.LevelWarn
		}
		h.ingestEvent(src, level, map[string]any{"message": line})
	})
}

// ChildExit records a spawn failure or non-zero exit as an error event.
func (h *Hub) ChildExit(message string, exitCode int) {
	h.post(func() {
		src := h.detector.Locked()
		if src == "" {
			src = models.SourceDevServer
		}
		payload := map[string]any{"exitCode": exitCode}
		if message != "" {
			payload["message"] = message
		}
		h.ingestEvent(src, models.LevelError, payload)
	})
}

// ── ingestion path ───────────────────────────────────────────

// ingestEvent runs the full pipeline for one event. Must be called on the
// ingestion goroutine.
func (h *Hub) ingestEvent(source models.Source, level models.Level, payload map[string]any) {
	if tabID, ok := payload["tabId"].(string); ok && tabID != "" {
		url, _ := payload["url"].(string)
		h.upsertTab(tabID, url, "")
	}

	ev, err := h.factory.New(source, level, payload)
	if err != nil {
		slog.Warn("Dropping invalid event", "source", source, "level", level, "error", err)
		return
	}

	red := h.redactor.Event(ev)
	h.engine.Evaluate(&red)

	h.mu.Lock()
	h.events.Push(red)
	h.mu.Unlock()

	if data, err := json.Marshal(red); err == nil {
		h.wsm.Broadcast(data)
	} else {
		slog.Error("Failed to marshal event for broadcast", "event_id", red.ID, "error", err)
	}

	h.recordStorageSnapshot(red)
	h.deliver(red)
	h.resolveWaiters(red)
}

// upsertTab updates the tab registry. Must be called on the ingestion
// goroutine (through h.mu for reader visibility).
func (h *Hub) upsertTab(tabID, url, title string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, ok := h.tabs[tabID]
	if !ok {
		existing = models.TabInfo{TabID: tabID, ConnectedAt: time.Now().UnixMilli()}
	}
	if url != "" {
		existing.URL = url
	}
	if title != "" {
		existing.Title = title
	}
	h.tabs[tabID] = existing
}

// recordStorageSnapshot hands storage events carrying full storage maps to
// the active session recorder.
func (h *Hub) recordStorageSnapshot(ev models.Event) {
	if ev.Source != models.SourceBrowserStorage {
		return
	}
	local, lok := toStringMap(ev.Payload["localStorage"])
	sess, sok := toStringMap(ev.Payload["sessionStorage"])
	if !lok && !sok {
		return
	}

	snap := models.StorageSnapshot{
		TS:             ev.TS,
		LocalStorage:   local,
		SessionStorage: sess,
	}
	snap.URL, _ = ev.Payload["url"].(string)
	snap.TabID, _ = ev.Payload["tabId"].(string)
	snap.Cookies, _ = ev.Payload["cookies"].(string)

	h.recMu.Lock()
	rec := h.recorder
	h.recMu.Unlock()
	if rec != nil {
		rec.RecordStorage(snap)
	}
}

func toStringMap(v any) (map[string]string, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		s, ok := val.(string)
		if !ok {
			return nil, false
		}
		out[k] = s
	}
	return out, true
}

// ── subscribers and correlated waits ─────────────────────────

// OnEvent registers a subscriber for every ingested event. Subscribers fire
// in registration order on the ingestion goroutine; a panicking subscriber
// is isolated and never fails the pipeline.
func (h *Hub) OnEvent(fn func(models.Event)) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

func (h *Hub) deliver(ev models.Event) {
	h.subMu.Lock()
	subs := make([]func(models.Event), len(h.subscribers))
	copy(subs, h.subscribers)
	h.subMu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Event subscriber panicked", "panic", r)
				}
			}()
			fn(ev.Clone())
		}()
	}
}

func (h *Hub) addWaiter(match func(models.Event) bool) (int, chan models.Event) {
	h.waitMu.Lock()
	defer h.waitMu.Unlock()
	h.waiterID++
	id := h.waiterID
	ch := make(chan models.Event, 1)
	h.waiters[id] = &waiter{match: match, ch: ch}
	return id, ch
}

func (h *Hub) removeWaiter(id int) {
	h.waitMu.Lock()
	defer h.waitMu.Unlock()
	delete(h.waiters, id)
}

func (h *Hub) resolveWaiters(ev models.Event) {
	h.waitMu.Lock()
	defer h.waitMu.Unlock()
	for id, w := range h.waiters {
		if w.match(ev) {
			w.ch <- ev.Clone()
			delete(h.waiters, id)
		}
	}
}

// BroadcastCommand sends a command frame to every connected WS client.
func (h *Hub) BroadcastCommand(cmd map[string]any) {
	frame := make(map[string]any, len(cmd)+1)
	frame["type"] = "command"
	for k, v := range cmd {
		frame[k] = v
	}
	h.wsm.BroadcastJSON(frame)
}

// Command broadcasts cmd and waits for the first ingested event accepted by
// match. The subscription is installed before the broadcast so a fast
// responder cannot slip through. Timeouts are clamped to MaxCommandTimeout;
// zero means DefaultCommandTimeout. Stop fails outstanding waits.
func (h *Hub) Command(ctx context.Context, cmd map[string]any, timeout time.Duration, match func(models.Event) bool) (models.Event, error) {
	id, ch := h.addWaiter(match)
	defer h.removeWaiter(id)

	h.BroadcastCommand(cmd)

	name, _ := cmd["command"].(string)
	return h.wait(ctx, timeout, ch, name)
}

// AwaitEvent waits for the first ingested event accepted by match without
// broadcasting anything. Same timeout policy as Command.
func (h *Hub) AwaitEvent(ctx context.Context, timeout time.Duration, match func(models.Event) bool) (models.Event, error) {
	id, ch := h.addWaiter(match)
	defer h.removeWaiter(id)
	return h.wait(ctx, timeout, ch, "await")
}

func (h *Hub) wait(ctx context.Context, timeout time.Duration, ch chan models.Event, name string) (models.Event, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if timeout > MaxCommandTimeout {
		timeout = MaxCommandTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return models.Event{}, fmt.Errorf("%w: no response to %s within %s", ErrCommandTimeout, name, timeout)
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	case <-h.quitCh:
		return models.Event{}, fmt.Errorf("%w: hub stopped", ErrCommandTimeout)
	}
}
