package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"dynacrud/internal/apperr"
)

// Context keys set by JWT.
const (
	SubjectKey = "auth.subject"
	RolesKey   = "auth.roles"
)

// JWT rejects requests without a valid token in the Authorization header,
// given either as "Bearer <token>" or as the bare token.
func JWT(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			apperr.Respond(c, apperr.ErrUnauthorized.WithReason("authorization header required"))
			return
		}
		token := header
		if scheme, rest, ok := strings.Cut(header, " "); ok {
			if !strings.EqualFold(scheme, "Bearer") {
				apperr.Respond(c, apperr.ErrUnauthorized.WithReason("invalid authorization header"))
				return
			}
			token = strings.TrimSpace(rest)
		}

		claims, err := m.Validate(token)
		if err != nil {
			apperr.Respond(c, apperr.ErrUnauthorized.WithReason(err.Error()))
			return
		}
		c.Set(SubjectKey, claims.Subject)
		c.Set(RolesKey, claims.Roles)
		c.Next()
	}
}

// Subject returns the subject of the validated token.
func Subject(c *gin.Context) string {
	return c.GetString(SubjectKey)
}
