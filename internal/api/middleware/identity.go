// Package middleware provides HTTP middleware for the roundledger API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Headers set by the upstream gateway after it has authenticated the caller.
const (
	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"
)

// RoleAdmin grants access to the administrative routes.
const RoleAdmin = "admin"

// ContextKey is the type for context keys used by this package.
type ContextKey string

// IdentityContextKey is the context key for the caller identity.
const IdentityContextKey ContextKey = "identity"

// Identity is the caller as asserted by the gateway.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

// IsAdmin reports whether the caller holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IdentityMiddleware reads the gateway identity headers and stores the
// caller in the Gin context. Requests without a valid user ID are rejected.
func IdentityMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "identity_middleware").Logger()

	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(UserIDHeader))
		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			log.Debug().Str("path", c.Request.URL.Path).Msg("request without caller identity")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(string(IdentityContextKey), &Identity{
			UserID: userID,
			Role:   strings.ToLower(strings.TrimSpace(c.GetHeader(UserRoleHeader))),
		})
		c.Next()
	}
}

// GetIdentity returns the caller stored by IdentityMiddleware, or nil.
func GetIdentity(c *gin.Context) *Identity {
	v, ok := c.Get(string(IdentityContextKey))
	if !ok {
		return nil
	}
	id, ok := v.(*Identity)
	if !ok {
		return nil
	}
	return id
}

// RequireUser returns the caller or aborts with 401.
func RequireUser(c *gin.Context) *Identity {
	id := GetIdentity(c)
	if id == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil
	}
	return id
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := RequireUser(c)
		if id == nil {
			return
		}
		if !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
