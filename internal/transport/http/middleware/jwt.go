package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/piyushsharma8821/scribbly-ai/internal/app"
	"github.com/piyushsharma8821/scribbly-ai/internal/transport/http/response"
)

const ContextIdentityKey = "identity"

// AuthJWT resolves the bearer credential into an app.Identity for the handlers.
func AuthJWT(guard *app.AccessGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		identity, err := guard.Resolve(strings.TrimPrefix(authHeader, prefix))
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (app.Identity, bool) {
	v, exists := c.Get(ContextIdentityKey)
	if !exists {
		return app.Identity{}, false
	}
	identity, ok := v.(app.Identity)
	return identity, ok && identity.UserID != 0
}
