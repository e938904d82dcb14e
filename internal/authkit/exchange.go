package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// ExchangeError wraps a failed code-to-token exchange. The exchange is never
// retried: authorization codes are single-use.
type ExchangeError struct {
	Err error
}

func (exchangeErr *ExchangeError) Error() string {
	return fmt.Sprintf("exchange.token: %v", exchangeErr.Err)
}

func (exchangeErr *ExchangeError) Unwrap() error {
	return exchangeErr.Err
}

// ProfileFetchError wraps a failed userinfo request.
type ProfileFetchError struct {
	Err error
}

func (profileErr *ProfileFetchError) Error() string {
	return fmt.Sprintf("exchange.profile: %v", profileErr.Err)
}

func (profileErr *ProfileFetchError) Unwrap() error {
	return profileErr.Err
}

// OAuthExchanger talks to the identity provider: authorization URL
// composition, code-to-token exchange, and profile fetch.
type OAuthExchanger interface {
	// AuthorizationURL composes the provider authorization endpoint with the
	// supplied state. Pure function of configuration and state.
	AuthorizationURL(state string) string
	// Exchange trades an authorization code for tokens. Never retried.
	Exchange(ctx context.Context, code string) (TokenBundle, error)
	// FetchProfile resolves the token bearer's identity from the userinfo
	// endpoint. Retried a small bounded number of times on transport errors.
	FetchProfile(ctx context.Context, tokens TokenBundle) (ProviderIdentity, error)
}

// GoogleExchanger implements OAuthExchanger against Google's endpoints.
type GoogleExchanger struct {
	config         oauth2.Config
	userInfoURL    string
	requestTimeout time.Duration
	profileRetries int
}

// googleUserInfo mirrors Google's userinfo response. The v2 endpoint reports
// `id` and `verified_email` where OIDC uses `sub` and `email_verified`; both
// shapes are accepted.
type googleUserInfo struct {
	Sub           string `json:"sub"`
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// NewGoogleExchanger constructs an exchanger from the relay configuration.
func NewGoogleExchanger(configuration ServerConfig) *GoogleExchanger {
	return &GoogleExchanger{
		config: oauth2.Config{
			ClientID:     configuration.GoogleClientID,
			ClientSecret: configuration.GoogleClientSecret,
			RedirectURL:  configuration.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL:    googleUserInfoURL,
		requestTimeout: 10 * time.Second,
		profileRetries: 2,
	}
}

// AuthorizationURL composes the Google authorization URL for the given state.
func (exchanger *GoogleExchanger) AuthorizationURL(state string) string {
	return exchanger.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
	)
}

// Exchange trades the authorization code for tokens at Google's token
// endpoint, sending the exact redirect URI used at authorization time.
func (exchanger *GoogleExchanger) Exchange(ctx context.Context, code string) (TokenBundle, error) {
	exchangeCtx, cancel := context.WithTimeout(ctx, exchanger.requestTimeout)
	defer cancel()

	token, err := exchanger.config.Exchange(exchangeCtx, code)
	if err != nil {
		return TokenBundle{}, &ExchangeError{Err: err}
	}
	bundle := TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if rawIDToken, ok := token.Extra("id_token").(string); ok {
		bundle.IDToken = rawIDToken
	}
	if bundle.AccessToken == "" {
		return TokenBundle{}, &ExchangeError{Err: fmt.Errorf("empty access token in response")}
	}
	return bundle, nil
}

// FetchProfile calls the userinfo endpoint bearing the access token.
func (exchanger *GoogleExchanger) FetchProfile(ctx context.Context, tokens TokenBundle) (ProviderIdentity, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, exchanger.requestTimeout)
	defer cancel()

	client := oauth2.NewClient(fetchCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tokens.AccessToken,
	}))

	var lastErr error
	for attempt := 0; attempt <= exchanger.profileRetries; attempt++ {
		// The request must carry fetchCtx so the deadline cancels an in-flight
		// call; the client's own context only selects the base transport.
		request, buildErr := http.NewRequestWithContext(fetchCtx, http.MethodGet, exchanger.userInfoURL, nil)
		if buildErr != nil {
			return ProviderIdentity{}, &ProfileFetchError{Err: buildErr}
		}
		response, requestErr := client.Do(request)
		if requestErr != nil {
			// Transport failure; the request may not have reached Google.
			lastErr = requestErr
			if fetchCtx.Err() != nil {
				break
			}
			continue
		}

		identity, decodeErr := decodeUserInfo(response)
		if decodeErr != nil {
			return ProviderIdentity{}, &ProfileFetchError{Err: decodeErr}
		}
		return identity, nil
	}
	return ProviderIdentity{}, &ProfileFetchError{Err: lastErr}
}

func decodeUserInfo(response *http.Response) (ProviderIdentity, error) {
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return ProviderIdentity{}, fmt.Errorf("userinfo status %d", response.StatusCode)
	}
	var payload googleUserInfo
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return ProviderIdentity{}, fmt.Errorf("userinfo decode: %w", err)
	}
	subject := payload.Sub
	if subject == "" {
		subject = payload.ID
	}
	if subject == "" {
		return ProviderIdentity{}, fmt.Errorf("userinfo missing subject")
	}
	return ProviderIdentity{
		Subject:       subject,
		Email:         payload.Email,
		EmailVerified: payload.VerifiedEmail || payload.EmailVerified,
		Name:          payload.Name,
		AvatarURL:     payload.Picture,
	}, nil
}
