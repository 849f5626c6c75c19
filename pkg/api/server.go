// Package api serves the hub's loopback read/control HTTP surface: event
// queries, status, tab and watch-rule listings, the active config, session
// state and the command broadcast endpoint.
package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/daibug/daibug/pkg/config"
	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/session"
)

// StatusInfo is the GET /status response.
type StatusInfo struct {
	ConnectedClients   int    `json:"connectedClients"`
	IsDevServerRunning bool   `json:"isDevServerRunning"`
	DetectedFramework  string `json:"detectedFramework"`
}

// Hub is the slice of hub capability the HTTP surface reads. All results
// are defensive copies; handlers never see live registry state.
type Hub interface {
	// QueryEvents filters by exact source/level and clamps to the last
	// limit events (limit <= 0 means no clamp). total counts all matches.
	QueryEvents(source, level string, limit int) (events []models.Event, total int)
	Status() StatusInfo
	Ports() (httpPort, wsPort int)
	Tabs() []models.TabInfo
	WatchRules() []models.WatchRule
	WatchedEvents(limit int, ruleID string) []models.WatchedEvent
	ActiveConfig() config.Config
	SessionState() (active bool, summary *session.Summary)
	BroadcastCommand(cmd map[string]any)
}

// Server owns the echo instance and its routes.
type Server struct {
	hub  Hub
	echo *echo.Echo
}

// NewServer builds the HTTP surface over the given hub view.
func NewServer(hub Hub) *Server {
	s := &Server{hub: hub, echo: echo.New()}
	s.echo.Use(securityHeaders())
	s.registerRoutes()
	return s
}

// Handler exposes the server for binding by the hub (which owns the
// listener and the port policy).
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/events", s.eventsHandler)
	e.GET("/status", s.statusHandler)
	e.GET("/ports", s.portsHandler)
	e.GET("/tabs", s.tabsHandler)
	e.GET("/watch-rules", s.watchRulesHandler)
	e.GET("/watched-events", s.watchedEventsHandler)
	e.GET("/config", s.configHandler)
	e.GET("/session", s.sessionHandler)
	e.GET("/health", s.healthHandler)
	e.POST("/command", s.commandHandler)
}
