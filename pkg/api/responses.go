package api

import (
	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/session"
)

// EventsResponse is the GET /events body.
type EventsResponse struct {
	Events []models.Event `json:"events"`
	Total  int            `json:"total"`
}

// PortsResponse is the GET /ports body, reporting resolved ports.
type PortsResponse struct {
	HTTPPort int `json:"httpPort"`
	WSPort   int `json:"wsPort"`
}

// TabsResponse is the GET /tabs body.
type TabsResponse struct {
	Tabs []models.TabInfo `json:"tabs"`
}

// WatchRulesResponse is the GET /watch-rules body.
type WatchRulesResponse struct {
	Rules []models.WatchRule `json:"rules"`
}

// WatchedEventsResponse is the GET /watched-events body, newest first.
type WatchedEventsResponse struct {
	Events []models.WatchedEvent `json:"events"`
}

// SessionResponse is the GET /session body.
type SessionResponse struct {
	Active  bool             `json:"active"`
	Summary *session.Summary `json:"summary,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// CommandRequest is the POST /command body.
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResponse is the POST /command success body.
type CommandResponse struct {
	Accepted bool `json:"accepted"`
}

// ErrorResponse is the body of every error status.
type ErrorResponse struct {
	Error string `json:"error"`
}
