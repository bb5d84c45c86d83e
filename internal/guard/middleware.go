package guard

import (
	"github.com/labstack/echo/v4"
)

// Middleware runs the guard's checks before the handler and turns a
// rejection into the JSON error contract: 403 for origin mismatches,
// 429 with a reset timestamp for rate-limit violations.
func Middleware(g *Guard, policy string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rej := g.Check(c.Request(), policy); rej != nil {
				return c.JSON(rej.Status, rej)
			}
			return next(c)
		}
	}
}
