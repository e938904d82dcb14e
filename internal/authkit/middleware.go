package authkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClaimsContextKey is where RequireSession stores the parsed session claims.
const ClaimsContextKey = "auth_claims"

// RequireSession validates the session cookie and injects claims. Requests
// without a valid session receive 401.
func RequireSession(configuration ServerConfig) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		sessionCookie, cookieErr := contextGin.Request.Cookie(configuration.SessionCookieName)
		if cookieErr != nil || sessionCookie == nil || strings.TrimSpace(sessionCookie.Value) == "" {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
			return
		}
		claims, parseErr := ParseSessionJWT(sessionCookie.Value, configuration.AppJWTIssuer, configuration.AppJWTSigningKey)
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
			return
		}
		contextGin.Set(ClaimsContextKey, claims)
		contextGin.Next()
	}
}
