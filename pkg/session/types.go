// Package session records a time-bounded slice of hub activity into a
// serializable, diffable document: events, interactions, watched events,
// storage snapshots and a computed summary.
package session

import (
	"github.com/daibug/daibug/pkg/config"
	"github.com/daibug/daibug/pkg/models"
)

// FormatVersion is the session file format version. Import rejects
// anything else.
const FormatVersion = "1.0"

// Environment describes the host that produced a session.
type Environment struct {
	Framework     string `json:"framework"`
	NodeVersion   string `json:"nodeVersion"`
	Platform      string `json:"platform"`
	DaibugVersion string `json:"daibugVersion"`
	Cmd           string `json:"cmd"`
	StartedAt     int64  `json:"startedAt"`
}

// Session is the exported document.
type Session struct {
	Version          string                   `json:"version"`
	ID               string                   `json:"id"`
	Label            string                   `json:"label,omitempty"`
	ExportedAt       int64                    `json:"exportedAt"`
	Environment      Environment              `json:"environment"`
	Config           config.Config            `json:"config"`
	Events           []models.Event           `json:"events"`
	Interactions     []models.Interaction     `json:"interactions"`
	WatchedEvents    []models.WatchedEvent    `json:"watchedEvents"`
	StorageSnapshots []models.StorageSnapshot `json:"storageSnapshots"`
	Summary          Summary                  `json:"summary"`
}

// Summary aggregates a session's events deterministically: events are
// ordered by (ts, id) before any counting.
type Summary struct {
	TotalEvents      int      `json:"totalEvents"`
	ErrorCount       int      `json:"errorCount"`
	WarnCount        int      `json:"warnCount"`
	NetworkRequests  int      `json:"networkRequests"`
	FailedRequests   int      `json:"failedRequests"`
	InteractionCount int      `json:"interactionCount"`
	Duration         int64    `json:"duration"`
	TopErrors        []string `json:"topErrors"`
}

// Diff is the comparison of two sessions.
type Diff struct {
	Summary         DiffSummary     `json:"summary"`
	EventDiff       EventDiff       `json:"eventDiff"`
	InteractionDiff InteractionDiff `json:"interactionDiff"`
	NetworkDiff     NetworkDiff     `json:"networkDiff"`
	StorageDiff     StorageDiff     `json:"storageDiff"`
}

// DiffSummary carries the verdict. DivergesAt is the earliest timestamp at
// which the event sequences visibly part ways, nil when they never do.
type DiffSummary struct {
	Identical  bool   `json:"identical"`
	DivergesAt *int64 `json:"divergesAt"`
}

// EventDiff compares events by id.
type EventDiff struct {
	OnlyInA   []models.Event   `json:"onlyInA"`
	OnlyInB   []models.Event   `json:"onlyInB"`
	Different []EventFieldDiff `json:"different"`
}

// EventFieldDiff lists which of source/level/ts/payload changed for one id.
type EventFieldDiff struct {
	ID     string   `json:"id"`
	Fields []string `json:"fields"`
}

// InteractionDiff compares interactions by id, then by positional
// signature over {type,target,value,url,x,y}.
type InteractionDiff struct {
	OnlyInA            []models.Interaction `json:"onlyInA"`
	OnlyInB            []models.Interaction `json:"onlyInB"`
	FirstMismatchIndex *int                 `json:"firstMismatchIndex"`
}

// NetworkDiff compares the first-seen status per URL.
type NetworkDiff struct {
	EndpointsOnlyInA  []string     `json:"endpointsOnlyInA"`
	EndpointsOnlyInB  []string     `json:"endpointsOnlyInB"`
	StatusDifferences []StatusDiff `json:"statusDifferences"`
}

// StatusDiff is one URL whose first-seen status differs.
type StatusDiff struct {
	URL     string `json:"url"`
	StatusA int    `json:"statusA"`
	StatusB int    `json:"statusB"`
}

// StorageDiff compares the flattened key/value view of all snapshots
// (localStorage overrides sessionStorage for a shared key).
type StorageDiff struct {
	OnlyInA   map[string]string  `json:"onlyInA"`
	OnlyInB   map[string]string  `json:"onlyInB"`
	Different []StorageValueDiff `json:"different"`
}

// StorageValueDiff is one key present on both sides with different values.
type StorageValueDiff struct {
	Key    string `json:"key"`
	ValueA string `json:"valueA"`
	ValueB string `json:"valueB"`
}

// Empty reports whether the event diff found no difference.
func (d EventDiff) Empty() bool {
	return len(d.OnlyInA) == 0 && len(d.OnlyInB) == 0 && len(d.Different) == 0
}

// Empty reports whether the interaction diff found no difference.
func (d InteractionDiff) Empty() bool {
	return len(d.OnlyInA) == 0 && len(d.OnlyInB) == 0 && d.FirstMismatchIndex == nil
}

// Empty reports whether the network diff found no difference.
func (d NetworkDiff) Empty() bool {
	return len(d.EndpointsOnlyInA) == 0 && len(d.EndpointsOnlyInB) == 0 && len(d.StatusDifferences) == 0
}

// Empty reports whether the storage diff found no difference.
func (d StorageDiff) Empty() bool {
	return len(d.OnlyInA) == 0 && len(d.OnlyInB) == 0 && len(d.Different) == 0
}
