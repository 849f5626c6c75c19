package models

// WatchConditions are the per-rule predicates. Absent conditions pass; all
// present conditions must hold for a rule to match.
type WatchConditions struct {
	StatusCodes     []int          `json:"statusCodes,omitempty"`
	URLPattern      string         `json:"urlPattern,omitempty"`
	Methods         []string       `json:"methods,omitempty"`
	Levels          []Level        `json:"levels,omitempty"`
	MessageContains string         `json:"messageContains,omitempty"`
	PayloadContains map[string]any `json:"payloadContains,omitempty"`
}

// IsZero reports whether no condition is set.
func (c WatchConditions) IsZero() bool {
	return len(c.StatusCodes) == 0 &&
		c.URLPattern == "" &&
		len(c.Methods) == 0 &&
		len(c.Levels) == 0 &&
		c.MessageContains == "" &&
		len(c.PayloadContains) == 0
}

// Clone returns a deep copy of the conditions.
func (c WatchConditions) Clone() WatchConditions {
	out := c
	if c.StatusCodes != nil {
		out.StatusCodes = append([]int(nil), c.StatusCodes...)
	}
	if c.Methods != nil {
		out.Methods = append([]string(nil), c.Methods...)
	}
	if c.Levels != nil {
		out.Levels = append([]Level(nil), c.Levels...)
	}
	if c.PayloadContains != nil {
		out.PayloadContains = ClonePayload(c.PayloadContains)
	}
	return out
}

// WatchRule matches ingested events and flags them for later retrieval.
type WatchRule struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	Source     Source          `json:"source,omitempty"`
	Conditions WatchConditions `json:"conditions"`
	CreatedAt  int64           `json:"createdAt"`
	Active     bool            `json:"active"`
}

// Clone returns a deep copy of the rule.
func (r WatchRule) Clone() WatchRule {
	r.Conditions = r.Conditions.Clone()
	return r
}

// RuleRef names the rule a watched event matched.
type RuleRef struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// WatchedEvent records one rule match.
type WatchedEvent struct {
	Event       Event   `json:"event"`
	MatchedRule RuleRef `json:"matchedRule"`
	MatchedAt   int64   `json:"matchedAt"`
}

// Clone returns a deep copy of the watched entry.
func (w WatchedEvent) Clone() WatchedEvent {
	w.Event = w.Event.Clone()
	return w
}
