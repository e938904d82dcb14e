package authkit

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var (
	// ErrIdentityUnverified indicates the ID token lacked a verified email or
	// a stable subject.
	ErrIdentityUnverified = errors.New("identity.unverified")
	// ErrIdentityIssuer indicates an issuer other than Google signed the token.
	ErrIdentityIssuer = errors.New("identity.invalid_issuer")
)

// IdentityVerifier checks the id_token returned alongside the access token in
// the code exchange and extracts the asserted identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (ProviderIdentity, error)
}

// GoogleTokenValidator matches the subset of the idtoken API the verifier
// needs; tests substitute fakes.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

// GoogleIdentityVerifier validates Google-signed ID tokens against the relay
// client id.
type GoogleIdentityVerifier struct {
	validator GoogleTokenValidator
	audience  string
}

// NewGoogleIdentityVerifier constructs a verifier using Google's certificate
// endpoints.
func NewGoogleIdentityVerifier(ctx context.Context, audience string) (*GoogleIdentityVerifier, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity.validator_init: %w", err)
	}
	return &GoogleIdentityVerifier{validator: validator, audience: audience}, nil
}

// NewGoogleIdentityVerifierWithValidator wires a pre-built validator. Used by
// tests and by callers that manage validator lifecycle themselves.
func NewGoogleIdentityVerifierWithValidator(validator GoogleTokenValidator, audience string) *GoogleIdentityVerifier {
	return &GoogleIdentityVerifier{validator: validator, audience: audience}
}

// Verify checks signature, audience, issuer, and email verification, then
// returns the asserted identity.
func (verifier *GoogleIdentityVerifier) Verify(ctx context.Context, rawIDToken string) (ProviderIdentity, error) {
	payload, validateErr := verifier.validator.Validate(ctx, rawIDToken, verifier.audience)
	if validateErr != nil {
		return ProviderIdentity{}, fmt.Errorf("identity.validate: %w", validateErr)
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		return ProviderIdentity{}, ErrIdentityIssuer
	}
	subject, _ := payload.Claims["sub"].(string)
	email, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	displayName, _ := payload.Claims["name"].(string)
	avatarURL, _ := payload.Claims["picture"].(string)

	if subject == "" || email == "" || !emailVerified {
		return ProviderIdentity{}, ErrIdentityUnverified
	}
	return ProviderIdentity{
		Subject:       subject,
		Email:         email,
		EmailVerified: emailVerified,
		Name:          displayName,
		AvatarURL:     avatarURL,
	}, nil
}
