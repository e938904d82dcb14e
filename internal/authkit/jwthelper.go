package authkit

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are embedded in the session cookie token. Profile fields are
// informational; authorization decisions use the subject to look up the
// session record.
type SessionClaims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	UserAvatarURL   string `json:"user_avatar_url"`
	jwt.RegisteredClaims
}

// MintSessionJWT creates a signed HS256 session token for the record.
func MintSessionJWT(clock Clock, record SessionRecord, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if record.UserID == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: subject must be non-empty")
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:          record.UserID,
		UserEmail:       record.Email,
		UserDisplayName: record.Name,
		UserAvatarURL:   record.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   record.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseSessionJWT validates a session token and returns its claims.
func ParseSessionJWT(tokenString string, issuer string, signingKey []byte) (*SessionClaims, error) {
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("jwt.parse.failure: invalid token")
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("jwt.parse.failure: unexpected claims type")
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("jwt.parse.failure: unexpected issuer")
	}
	return claims, nil
}
