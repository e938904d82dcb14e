package authkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MountAuthRoutes registers the relay's external contract: login-start,
// provider callback, who-am-I, and logout.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, flow *LoginFlow, sessions SessionStore, issuer *SessionIssuer, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/auth/google", func(contextGin *gin.Context) {
		authURL, startErr := flow.Start(contextGin.Request.Context())
		if startErr != nil {
			logger.Error("login start failed",
				zap.String("code", "routes.login_start"),
				zap.Error(startErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "login_start_failed"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"authUrl": authURL})
	})

	router.GET("/auth/google/callback", func(contextGin *gin.Context) {
		code := contextGin.Query("code")
		state := contextGin.Query("state")

		record, failure := flow.Callback(contextGin.Request.Context(), code, state)
		if failure != nil {
			contextGin.Redirect(http.StatusFound, configuration.FailureRedirectURL(failure.Code))
			return
		}

		if _, issueErr := issuer.Issue(contextGin, record); issueErr != nil {
			logger.Error("session issuance failed",
				zap.String("code", "routes.callback.issue"),
				zap.String("user_id", record.UserID),
				zap.Error(issueErr))
			contextGin.Redirect(http.StatusFound, configuration.FailureRedirectURL(FailureSessionUpsert))
			return
		}
		contextGin.Redirect(http.StatusFound, configuration.SuccessRedirectURL())
	})

	router.GET("/me", RequireSession(configuration), func(contextGin *gin.Context) {
		claims := claimsFromContext(contextGin)
		if claims == nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
			return
		}
		record, getErr := sessions.Get(contextGin.Request.Context(), claims.UserID)
		if getErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"id":            record.UserID,
			"email":         record.Email,
			"name":          record.Name,
			"picture":       record.AvatarURL,
			"authenticated": true,
		})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		if sessionCookie, cookieErr := contextGin.Request.Cookie(configuration.SessionCookieName); cookieErr == nil && sessionCookie != nil {
			if claims, parseErr := ParseSessionJWT(sessionCookie.Value, configuration.AppJWTIssuer, configuration.AppJWTSigningKey); parseErr == nil {
				if removeErr := sessions.Remove(contextGin.Request.Context(), claims.UserID); removeErr != nil {
					logger.Warn("session removal failed on logout",
						zap.String("code", "routes.logout.remove"),
						zap.String("user_id", claims.UserID),
						zap.Error(removeErr))
				}
			}
		}
		issuer.Revoke(contextGin)
		contextGin.JSON(http.StatusOK, gin.H{"message": "logged out"})
	})
}

func claimsFromContext(contextGin *gin.Context) *SessionClaims {
	claimsValue, found := contextGin.Get(ClaimsContextKey)
	if !found {
		return nil
	}
	claims, ok := claimsValue.(*SessionClaims)
	if !ok {
		return nil
	}
	return claims
}
