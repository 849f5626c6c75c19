package hub

import (
	"sort"

	"github.com/daibug/daibug/pkg/api"
	"github.com/daibug/daibug/pkg/config"
	"github.com/daibug/daibug/pkg/models"
)

// Readers. Every method returns defensive copies so callers can never
// mutate hub state.

// EventsSnapshot returns the full event ring, oldest first.
func (h *Hub) EventsSnapshot() []models.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	all := h.events.ToSlice()
	out := make([]models.Event, len(all))
	for i, e := range all {
		out[i] = e.Clone()
	}
	return out
}

// QueryEvents filters by exact source/level and clamps to the last limit
// events. total counts all matches before clamping.
func (h *Hub) QueryEvents(source, level string, limit int) ([]models.Event, int) {
	h.mu.RLock()
	all := h.events.ToSlice()
	h.mu.RUnlock()

	filtered := make([]models.Event, 0, len(all))
	for _, e := range all {
		if source != "" && string(e.Source) != source {
			continue
		}
		if level != "" && string(e.Level) != level {
			continue
		}
		filtered = append(filtered, e)
	}
	total := len(filtered)
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	out := make([]models.Event, len(filtered))
	for i, e := range filtered {
		out[i] = e.Clone()
	}
	return out, total
}

// ClearEvents empties the event ring and reports how many entries it had.
func (h *Hub) ClearEvents() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.events.Len()
	h.events.Clear()
	return n
}

// InteractionsSnapshot returns the interaction ring, oldest first.
func (h *Hub) InteractionsSnapshot() []models.Interaction {
	h.mu.RLock()
	defer h.mu.RUnlock()

	all := h.inters.ToSlice()
	out := make([]models.Interaction, len(all))
	for i, in := range all {
		out[i] = in.Clone()
	}
	return out
}

// Tabs returns the registry ordered by connection time, then id for stable
// output.
func (h *Hub) Tabs() []models.TabInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.TabInfo, 0, len(h.tabs))
	for _, t := range h.tabs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt != out[j].ConnectedAt {
			return out[i].ConnectedAt < out[j].ConnectedAt
		}
		return out[i].TabID < out[j].TabID
	})
	return out
}

// Status reports connection, child and framework state.
func (h *Hub) Status() api.StatusInfo {
	running := false
	if h.super != nil {
		running = h.super.IsRunning()
	}
	fw, _ := h.framework.Load().(string)
	return api.StatusInfo{
		ConnectedClients:   h.wsm.CountOpen(),
		IsDevServerRunning: running,
		DetectedFramework:  fw,
	}
}

// Ports returns the resolved HTTP and WS ports.
func (h *Hub) Ports() (int, int) {
	return h.httpPort, h.wsPort
}

// ActiveConfig returns a copy of the running configuration.
func (h *Hub) ActiveConfig() config.Config {
	return h.cfg.Clone()
}

// Watch-rule operations, delegated to the engine.

// AddWatchRule registers a rule against the live event stream.
func (h *Hub) AddWatchRule(label string, source models.Source, conds models.WatchConditions) (models.WatchRule, error) {
	return h.engine.AddRule(label, source, conds)
}

// RemoveWatchRule drops a rule by id, reporting whether it existed.
func (h *Hub) RemoveWatchRule(id string) bool {
	return h.engine.RemoveRule(id)
}

// WatchRules lists the registered rules.
func (h *Hub) WatchRules() []models.WatchRule {
	return h.engine.Rules()
}

// WatchedEvents returns rule matches newest first, optionally filtered to
// one rule and capped at limit.
func (h *Hub) WatchedEvents(limit int, ruleID string) []models.WatchedEvent {
	return h.engine.Watched(limit, ruleID)
}

// WatchedSnapshot returns all matches oldest first, for session capture.
func (h *Hub) WatchedSnapshot() []models.WatchedEvent {
	return h.engine.WatchedSnapshot()
}

// ClearWatchedEvents empties the watched buffer.
func (h *Hub) ClearWatchedEvents() int {
	return h.engine.ClearWatched()
}
