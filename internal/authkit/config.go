package authkit

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ServerConfig configures the OAuth relay. It is loaded once at startup and
// treated as immutable for the process lifetime.
type ServerConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	RedirectURL        string
	FrontendURL        string
	AppJWTSigningKey   []byte
	AppJWTIssuer       string
	CookieDomain       string
	SessionCookieName  string
	SessionTTL         time.Duration
	StateTTL           time.Duration
	Environment        string
	SameSiteMode       http.SameSite
	AllowInsecureHTTP  bool
}

// SuccessRedirectURL is where the browser lands after a completed login.
// Session identifiers travel only in cookies, never in this URL.
func (configuration ServerConfig) SuccessRedirectURL() string {
	return strings.TrimRight(configuration.FrontendURL, "/") + "/dashboard"
}

// FailureRedirectURL carries an opaque failure code back to the frontend
// login page. Raw provider detail never appears here.
func (configuration ServerConfig) FailureRedirectURL(code string) string {
	return strings.TrimRight(configuration.FrontendURL, "/") + "/login?error=" + url.QueryEscape(code)
}
