package jwttrust

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finplat/jwt-trust/core"
)

// GinErrorHandler is called when a gin request is rejected. It must abort c.
type GinErrorHandler func(c *gin.Context, err error)

// DefaultGinErrorHandler aborts with the same status and body as
// DefaultErrorHandler.
func DefaultGinErrorHandler(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	c.AbortWithStatusJSON(status, body)
}

// Gin returns m as gin middleware. Verified claims are stored in the request
// context and are readable with GetClaims(c.Request.Context()).
func (m *Middleware) Gin(handlers ...GinErrorHandler) gin.HandlerFunc {
	onError := DefaultGinErrorHandler
	if len(handlers) > 0 && handlers[0] != nil {
		onError = handlers[0]
	}

	return func(c *gin.Context) {
		if m.skip(c.Request) {
			c.Next()
			return
		}

		claims, err := m.authorise(c.Request)
		if err != nil {
			onError(c, err)
			return
		}
		if claims != nil {
			c.Request = c.Request.WithContext(core.SetClaims(c.Request.Context(), claims))
		}
		c.Next()
	}
}
