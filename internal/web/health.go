package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HandleHealth reports process liveness and the configured environment.
func HandleHealth(environment string, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"environment": environment,
			"timestamp":   now().UTC().Format(time.RFC3339),
		})
	}
}
