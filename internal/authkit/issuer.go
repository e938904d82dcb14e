package authkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionIssuer turns a session record into the cookie delivered to the
// browser and clears it again on logout. Cookie attributes follow the
// deployment mode: Secure whenever transport is encrypted, SameSite=None only
// together with Secure, Lax otherwise. The cookie is always HTTP-only; no
// token is ever exposed to client script or embedded in a URL.
type SessionIssuer struct {
	configuration ServerConfig
	clock         Clock
}

// NewSessionIssuer constructs an issuer for the given configuration.
func NewSessionIssuer(configuration ServerConfig, clock Clock) *SessionIssuer {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &SessionIssuer{configuration: configuration, clock: clock}
}

// Issue mints the session JWT for the record and writes the session cookie.
// The returned token is the cookie value.
func (issuer *SessionIssuer) Issue(contextGin *gin.Context, record SessionRecord) (string, error) {
	sessionToken, expiresAt, mintErr := MintSessionJWT(issuer.clock, record, issuer.configuration.AppJWTIssuer, issuer.configuration.AppJWTSigningKey, issuer.configuration.SessionTTL)
	if mintErr != nil {
		return "", mintErr
	}
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     issuer.configuration.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		Domain:   issuer.configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   issuer.cookieSecure(),
		HttpOnly: true,
		SameSite: issuer.sameSiteMode(),
	})
	return sessionToken, nil
}

// Revoke clears every cookie written by Issue.
func (issuer *SessionIssuer) Revoke(contextGin *gin.Context) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     issuer.configuration.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   issuer.configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   issuer.cookieSecure(),
		HttpOnly: true,
		SameSite: issuer.sameSiteMode(),
	})
}

func (issuer *SessionIssuer) cookieSecure() bool {
	return !issuer.configuration.AllowInsecureHTTP
}

// sameSiteMode enforces that None is only used over encrypted transport;
// browsers reject SameSite=None cookies without Secure.
func (issuer *SessionIssuer) sameSiteMode() http.SameSite {
	mode := issuer.configuration.SameSiteMode
	if mode == 0 {
		mode = http.SameSiteLaxMode
	}
	if mode == http.SameSiteNoneMode && !issuer.cookieSecure() {
		return http.SameSiteLaxMode
	}
	return mode
}
