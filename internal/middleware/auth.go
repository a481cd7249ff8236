package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"odaiboard/internal/config"
	"odaiboard/internal/models"
	"odaiboard/internal/security"
	"odaiboard/internal/store"
)

const (
	CurrentUserKey  = "current_user"
	accessClaimsKey = "access_claims"
)

// Auth rejects requests without a valid bearer token for an active user.
func Auth(cfg *config.AppConfig, users store.UserStore) gin.HandlerFunc {
	return authenticate(cfg, users, true)
}

// OptionalAuth resolves the user when a token is present and lets anonymous
// requests through.
func OptionalAuth(cfg *config.AppConfig, users store.UserStore) gin.HandlerFunc {
	return authenticate(cfg, users, false)
}

func authenticate(cfg *config.AppConfig, users store.UserStore, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
				return
			}
			c.Next()
			return
		}

		claims, err := security.ParseAccessToken(tokenStr, cfg.Security.JWTAccessSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		user, err := users.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_not_found"})
			return
		}

		if user.Status != models.UserStatusActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user_inactive"})
			return
		}

		c.Set(accessClaimsKey, *claims)
		c.Set(CurrentUserKey, user)

		c.Next()
	}
}

// bearerToken reads the Authorization header. Event streams cannot set
// headers from a browser, so access_token in the query is accepted too.
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("access_token")
}

// CurrentUser returns the authenticated user, if any.
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(CurrentUserKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}
