package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/daibug/daibug/pkg/version"
)

// commands accepted by POST /command. Anything else is a 400.
var broadcastableCommands = map[string]struct{}{
	"snapshot_dom":    {},
	"capture_react":   {},
	"capture_storage": {},
}

// eventsHandler handles GET /events?source&level&limit.
func (s *Server) eventsHandler(c *echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return writeError(c, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	events, total := s.hub.QueryEvents(c.QueryParam("source"), c.QueryParam("level"), limit)
	return c.JSON(http.StatusOK, &EventsResponse{Events: events, Total: total})
}

// statusHandler handles GET /status.
func (s *Server) statusHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Status())
}

// portsHandler handles GET /ports, reporting the resolved ports.
func (s *Server) portsHandler(c *echo.Context) error {
	httpPort, wsPort := s.hub.Ports()
	return c.JSON(http.StatusOK, &PortsResponse{HTTPPort: httpPort, WSPort: wsPort})
}

// tabsHandler handles GET /tabs.
func (s *Server) tabsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &TabsResponse{Tabs: s.hub.Tabs()})
}

// watchRulesHandler handles GET /watch-rules.
func (s *Server) watchRulesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &WatchRulesResponse{Rules: s.hub.WatchRules()})
}

// watchedEventsHandler handles GET /watched-events (newest first).
func (s *Server) watchedEventsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &WatchedEventsResponse{Events: s.hub.WatchedEvents(0, "")})
}

// configHandler handles GET /config.
func (s *Server) configHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.ActiveConfig())
}

// sessionHandler handles GET /session for the active or last-stopped
// recorder.
func (s *Server) sessionHandler(c *echo.Context) error {
	active, summary := s.hub.SessionState()
	return c.JSON(http.StatusOK, &SessionResponse{Active: active, Summary: summary})
}

// healthHandler handles GET /health. Minimal liveness for tooling.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{Status: "ok", Version: version.Full()})
}

// commandHandler handles POST /command: validates the command name and
// broadcasts it to every connected browser client.
func (s *Server) commandHandler(c *echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid JSON body")
	}
	if _, ok := broadcastableCommands[req.Command]; !ok {
		return writeError(c, http.StatusBadRequest, "unknown command: "+req.Command)
	}

	s.hub.BroadcastCommand(map[string]any{"command": req.Command})
	return c.JSON(http.StatusAccepted, &CommandResponse{Accepted: true})
}
