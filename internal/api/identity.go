package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/RefatHex/ResQ/internal/models"
)

const (
	HeaderSubjectID = "X-Subject-ID"
	HeaderRole      = "X-Role"

	actorKey = "actor"
)

// IdentityMiddleware reads the caller identity set by the upstream auth
// gateway. A missing subject or an unknown role is rejected with 401.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := strings.TrimSpace(c.GetHeader(HeaderSubjectID))
		if subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		role := models.RoleCitizen
		if r := strings.TrimSpace(c.GetHeader(HeaderRole)); r != "" {
			role = models.Role(strings.ToUpper(r))
		}
		if !role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown role"})
			return
		}

		c.Set(actorKey, models.Actor{SubjectID: subject, Role: role})
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(models.Actor); ok {
			return a
		}
	}
	return models.Actor{}
}
