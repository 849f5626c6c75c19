// Package watch evaluates user-defined rules against the event stream and
// retains matches in a bounded buffer so an agent can poll "did X happen"
// without replaying the whole stream.
package watch

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/daibug/daibug/pkg/events"
	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/ring"
	"github.com/daibug/daibug/pkg/urlglob"
)

// WatchedCapacity bounds the match buffer.
const WatchedCapacity = 200

// Engine holds the rule set and the watched-event buffer. All methods are
// safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	rules    []models.WatchRule
	matchers map[string]*urlglob.Matcher // rule id -> compiled urlPattern
	watched  *ring.Ring[models.WatchedEvent]
	seq      *events.Sequencer
}

// NewEngine returns an empty engine on the system clock.
func NewEngine() *Engine {
	return &Engine{
		matchers: make(map[string]*urlglob.Matcher),
		watched:  ring.New[models.WatchedEvent](WatchedCapacity),
		seq:      events.NewSequencer(),
	}
}

// AddRule validates and registers a rule, returning it with its assigned id.
func (e *Engine) AddRule(label string, source models.Source, conds models.WatchConditions) (models.WatchRule, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return models.WatchRule{}, models.NewValidationError("label", "label is required")
	}
	if conds.IsZero() {
		return models.WatchRule{}, models.NewValidationError("conditions", "at least one condition is required")
	}
	if source != "" && !source.IsValid() {
		return models.WatchRule{}, models.NewValidationError("source", "unknown source "+string(source))
	}

	var matcher *urlglob.Matcher
	if conds.URLPattern != "" {
		m, err := urlglob.Compile(conds.URLPattern)
		if err != nil {
			return models.WatchRule{}, models.NewValidationError("conditions.urlPattern", err.Error())
		}
		matcher = m
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, ts := e.seq.Next("rule")
	rule := models.WatchRule{
		ID:         id,
		Label:      label,
		Source:     source,
		Conditions: conds.Clone(),
		CreatedAt:  ts,
		Active:     true,
	}
	e.rules = append(e.rules, rule)
	if matcher != nil {
		e.matchers[id] = matcher
	}
	slog.Info("Watch rule added", "rule_id", id, "label", label)
	return rule.Clone(), nil
}

// RemoveRule drops a rule by id. Existing watched entries stay.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			delete(e.matchers, id)
			return true
		}
	}
	return false
}

// Rules returns the active rule set in insertion order.
func (e *Engine) Rules() []models.WatchRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.WatchRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Clone()
	}
	return out
}

// Evaluate tests ev against every active rule in insertion order. On the
// first match the live payload is annotated with watched/watchRuleLabel/
// watchRuleId; every match appends its own watched entry. Returns the
// matched rule refs.
func (e *Engine) Evaluate(ev *models.Event) []models.RuleRef {
	e.mu.Lock()
	defer e.mu.Unlock()

	var matched []models.RuleRef
	for _, r := range e.rules {
		if !r.Active || !e.ruleMatches(r, ev) {
			continue
		}
		if len(matched) == 0 && ev.Payload != nil {
			ev.Payload["watched"] = true
			ev.Payload["watchRuleLabel"] = r.Label
			ev.Payload["watchRuleId"] = r.ID
		}
		ref := models.RuleRef{ID: r.ID, Label: r.Label}
		matched = append(matched, ref)
		e.watched.Push(models.WatchedEvent{
			Event:       ev.Clone(),
			MatchedRule: ref,
			MatchedAt:   ev.TS,
		})
	}
	return matched
}

// Watched returns matches newest-first. A ruleID filters to one rule; limit
// caps the result when positive.
func (e *Engine) Watched(limit int, ruleID string) []models.WatchedEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all := e.watched.ToSlice()
	out := make([]models.WatchedEvent, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if ruleID != "" && all[i].MatchedRule.ID != ruleID {
			continue
		}
		out = append(out, all[i].Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// WatchedSnapshot returns all matches oldest-first, for session capture.
func (e *Engine) WatchedSnapshot() []models.WatchedEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all := e.watched.ToSlice()
	out := make([]models.WatchedEvent, len(all))
	for i, w := range all {
		out[i] = w.Clone()
	}
	return out
}

// ClearWatched empties the match buffer and reports how many entries it had.
func (e *Engine) ClearWatched() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.watched.Len()
	e.watched.Clear()
	return n
}

func (e *Engine) ruleMatches(r models.WatchRule, ev *models.Event) bool {
	if r.Source != "" && r.Source != ev.Source {
		return false
	}
	c := r.Conditions

	if len(c.StatusCodes) > 0 {
		status, ok := numericField(ev.Payload, "status")
		if !ok || !containsInt(c.StatusCodes, status) {
			return false
		}
	}
	if c.URLPattern != "" {
		url, ok := ev.Payload["url"].(string)
		m := e.matchers[r.ID]
		if !ok || m == nil || !m.MatchURL(url) {
			return false
		}
	}
	if len(c.Methods) > 0 {
		method, ok := ev.Payload["method"].(string)
		if !ok || !containsFold(c.Methods, method) {
			return false
		}
	}
	if len(c.Levels) > 0 {
		found := false
		for _, l := range c.Levels {
			if l == ev.Level {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.MessageContains != "" {
		msg, ok := ev.Payload["message"].(string)
		if !ok || !strings.Contains(strings.ToLower(msg), strings.ToLower(c.MessageContains)) {
			return false
		}
	}
	if len(c.PayloadContains) > 0 {
		if !partialMatch(ev.Payload, c.PayloadContains) {
			return false
		}
	}
	return true
}

func numericField(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// partialMatch implements structural containment: every key in want must be
// present in got and match. Objects recurse, arrays match as a prefix by
// index, scalars compare with JSON number loosening.
func partialMatch(got map[string]any, want map[string]any) bool {
	for k, w := range want {
		g, ok := got[k]
		if !ok || !valueMatch(g, w) {
			return false
		}
	}
	return true
}

func valueMatch(got, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		return ok && partialMatch(g, w)
	case []any:
		g, ok := got.([]any)
		if !ok || len(w) > len(g) {
			return false
		}
		for i := range w {
			if !valueMatch(g[i], w[i]) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(got, want)
	}
}

func scalarEqual(got, want any) bool {
	if gf, gok := toFloat(got); gok {
		wf, wok := toFloat(want)
		return wok && gf == wf
	}
	return got == want
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
