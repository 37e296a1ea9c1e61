package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livestream/pkg/response"
)

// RequireRole admits callers whose token carries one of roles. It must run
// after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	denied := "requires role " + strings.Join(roles, " or ")
	return func(c *gin.Context) {
		if _, ok := UserID(c); !ok {
			response.Unauthorized(c, "login required")
			c.Abort()
			return
		}
		if !allowed[Role(c)] {
			response.Forbidden(c, denied)
			c.Abort()
			return
		}
		c.Next()
	}
}
