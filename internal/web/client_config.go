package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientConfig contains dynamic values exposed to the frontend helper script.
type ClientConfig struct {
	BaseURL    string
	LoginPath  string
	WhoAmIPath string
	LogoutPath string
}

// ServeClientConfig emits a JavaScript payload that hydrates
// window.__OAUTHRELAY_CONFIG so the SPA knows where the relay lives.
func ServeClientConfig(contextGin *gin.Context, configuration ClientConfig) {
	baseURL := configuration.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		scheme := forwardedProto(contextGin.Request)
		host := contextGin.Request.Host
		if host == "" {
			host = "localhost"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, host)
	}
	payload := struct {
		BaseURL    string `json:"baseUrl"`
		LoginPath  string `json:"loginPath"`
		WhoAmIPath string `json:"whoAmIPath"`
		LogoutPath string `json:"logoutPath"`
	}{
		BaseURL:    baseURL,
		LoginPath:  valueOr(configuration.LoginPath, "/auth/google"),
		WhoAmIPath: valueOr(configuration.WhoAmIPath, "/me"),
		LogoutPath: valueOr(configuration.LogoutPath, "/auth/logout"),
	}

	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "web.client_config.encode_failed",
		})
		return
	}

	script := fmt.Sprintf(`(function(){window.__OAUTHRELAY_CONFIG=Object.freeze(%s);})();`, string(encoded))

	contextGin.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
	contextGin.Header("Pragma", "no-cache")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(script))
}

func valueOr(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func forwardedProto(request *http.Request) string {
	if request == nil {
		return "https"
	}
	if headerValue := request.Header.Get("X-Forwarded-Proto"); headerValue != "" {
		return headerValue
	}
	if request.TLS != nil {
		return "https"
	}
	if request.URL != nil && request.URL.Scheme != "" {
		return request.URL.Scheme
	}
	return "http"
}
