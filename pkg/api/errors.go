package api

import (
	echo "github.com/labstack/echo/v5"
)

// writeError renders the documented {"error": ...} body for any failing
// request. Handlers return its result so echo sees a handled response.
func writeError(c *echo.Context, status int, message string) error {
	return c.JSON(status, &ErrorResponse{Error: message})
}
