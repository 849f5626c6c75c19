// Package models defines the data types shared across the hub: events,
// interactions, watch rules, storage snapshots, tabs and recorded sessions.
// All JSON field names here are wire contract; browser clients and exported
// session files depend on them.
package models

// Source identifies where an event originated.
type Source string

const (
	SourceVite           Source = "vite"
	SourceNext           Source = "next"
	SourceDevServer      Source = "devserver"
	SourceBrowserConsole Source = "browser:console"
	SourceBrowserNetwork Source = "browser:network"
	SourceBrowserDOM     Source = "browser:dom"
	SourceBrowserStorage Source = "browser:storage"
)

// IsValid checks if the source is a known value
func (s Source) IsValid() bool {
	switch s {
	case SourceVite, SourceNext, SourceDevServer,
		SourceBrowserConsole, SourceBrowserNetwork,
		SourceBrowserDOM, SourceBrowserStorage:
		return true
	}
	return false
}

// Level is the severity of an event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// IsValid checks if the level is a known value
func (l Level) IsValid() bool {
	switch l {
	case LevelInfo, LevelWarn, LevelError, LevelDebug:
		return true
	}
	return false
}

// AllLevels lists every valid level in severity order.
func AllLevels() []Level {
	return []Level{LevelInfo, LevelWarn, LevelError, LevelDebug}
}

// Event is one entry in the hub's event stream. Events are immutable once
// ingested; the only sanctioned mutation is the watch engine annotating the
// payload of a freshly created event before it becomes visible to readers.
type Event struct {
	ID      string         `json:"id"`
	TS      int64          `json:"ts"`
	Source  Source         `json:"source"`
	Level   Level          `json:"level"`
	Payload map[string]any `json:"payload"`
}

// Clone returns a deep copy; readers receive clones so stored events stay
// untouched.
func (e Event) Clone() Event {
	e.Payload = ClonePayload(e.Payload)
	return e
}
