package jwttrust

import (
	"github.com/labstack/echo/v4"

	"github.com/finplat/jwt-trust/core"
)

// Echo returns m as echo middleware. Verified claims are stored in the
// request context and are readable with GetClaims(c.Request().Context()).
// Rejections are written with m's ErrorHandler.
func (m *Middleware) Echo() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			if m.skip(r) {
				return next(c)
			}

			claims, err := m.authorise(r)
			if err != nil {
				m.errorHandler(c.Response(), r, err)
				return nil
			}
			if claims != nil {
				c.SetRequest(r.WithContext(core.SetClaims(r.Context(), claims)))
			}
			return next(c)
		}
	}
}
