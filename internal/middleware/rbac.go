package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gatepass-api/internal/models"
	appErrors "github.com/noah-isme/gatepass-api/pkg/errors"
	"github.com/noah-isme/gatepass-api/pkg/response"
)

// RequireRoles allows the request through when the caller's canonical role is
// one of roles. Aliases such as classincharge match their canonical role.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r.Canonical()] = struct{}{}
	}

	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role.Canonical()]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "your role cannot access this resource"))
			c.Abort()
			return
		}
		c.Next()
	}
}
