package web

import (
	"embed"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("cors: wildcard origin not allowed when credentials are enabled")
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
)

// defaultDevelopmentHosts may serve the frontend over plain http without a
// warning when no explicit development hosts are configured.
var defaultDevelopmentHosts = []string{"localhost", "127.0.0.1"}

// CORSOptions configures the relay's cross-origin policy. Cookies only flow
// cross-origin when the browser's origin is explicitly listed here.
type CORSOptions struct {
	// AllowedOrigins lists frontend origins as scheme://host[:port]; paths,
	// queries, and wildcards are rejected.
	AllowedOrigins []string
	// DevelopmentHosts are hostnames permitted to use plain http without a
	// warning. Empty means localhost and 127.0.0.1.
	DevelopmentHosts []string
}

// ServeEmbeddedStaticJS writes a single embedded JS file with cache headers.
func ServeEmbeddedStaticJS(contextGin *gin.Context, filesystem embed.FS, path string) {
	data, readErr := filesystem.ReadFile(path)
	if readErr != nil {
		contextGin.AbortWithStatus(http.StatusNotFound)
		return
	}
	contextGin.Header("Cache-Control", "public, max-age=31536000, immutable")
	contextGin.Data(http.StatusOK, "application/javascript; charset=utf-8", data)
}

// ConfigureCORS enables credentialed cross-origin requests for the origins in
// the supplied options. Required when the frontend is served from a different
// origin than the relay.
func ConfigureCORS(logger *zap.Logger, options CORSOptions) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitized, err := sanitizeOrigins(logger, options)
	if err != nil {
		return nil, err
	}
	config := cors.Config{
		AllowOrigins:     sanitized,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	return cors.New(config), nil
}

func sanitizeOrigins(logger *zap.Logger, options CORSOptions) ([]string, error) {
	if len(options.AllowedOrigins) == 0 {
		return nil, errEmptyAllowedOrigins
	}

	developmentHosts := options.DevelopmentHosts
	if len(developmentHosts) == 0 {
		developmentHosts = defaultDevelopmentHosts
	}
	plainHTTPAllowed := make(map[string]struct{}, len(developmentHosts))
	for _, host := range developmentHosts {
		plainHTTPAllowed[strings.ToLower(host)] = struct{}{}
	}

	ordered := make([]string, len(options.AllowedOrigins))
	copy(ordered, options.AllowedOrigins)
	sort.Strings(ordered)

	seen := make(map[string]struct{})
	sanitized := make([]string, 0, len(ordered))

	for _, origin := range ordered {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		normalized, hostname, normalizeErr := normalizeOrigin(trimmed)
		if normalizeErr != nil {
			return nil, normalizeErr
		}
		if _, duplicate := seen[normalized]; duplicate {
			continue
		}
		if strings.HasPrefix(normalized, "http://") {
			if _, developmentHost := plainHTTPAllowed[strings.ToLower(hostname)]; !developmentHost {
				logger.Warn("unsafe cors origin configured",
					zap.String("code", "cors.origin.unsafe"),
					zap.String("origin", normalized))
			}
		}
		seen[normalized] = struct{}{}
		sanitized = append(sanitized, normalized)
	}

	if len(sanitized) == 0 {
		return nil, errEmptyAllowedOrigins
	}

	return sanitized, nil
}

// normalizeOrigin validates one configured origin and reduces it to
// scheme://host form. Returns the normalized origin and its hostname.
func normalizeOrigin(origin string) (string, string, error) {
	if origin == "*" {
		return "", "", errWildcardOrigin
	}
	parsed, parseErr := url.Parse(origin)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", "", fmt.Errorf("%w: %s", errInvalidOrigin, origin)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return "", "", fmt.Errorf("%w: %s contains path segment", errInvalidOrigin, origin)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", "", fmt.Errorf("%w: %s contains query or fragment", errInvalidOrigin, origin)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return "", "", fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, origin)
	}
	return fmt.Sprintf("%s://%s", scheme, parsed.Host), parsed.Hostname(), nil
}
