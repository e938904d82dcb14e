package authkit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Opaque failure codes for a login attempt. These are the only values that
// may reach the browser; underlying causes stay in the logs.
const (
	FailureMissingCode   = "missing_code"
	FailureInvalidState  = "invalid_state"
	FailureExchange      = "exchange_failed"
	FailureProfile       = "profile_failed"
	FailureSessionUpsert = "session_failed"
)

// AuthFailure is the terminal-failure outcome of a login attempt.
type AuthFailure struct {
	Code string
	Err  error
}

func (failure *AuthFailure) Error() string {
	return fmt.Sprintf("auth_flow.%s: %v", failure.Code, failure.Err)
}

func (failure *AuthFailure) Unwrap() error {
	return failure.Err
}

// LoginFlow drives one login attempt through its states: state issuance,
// callback validation, token exchange, profile fetch, and session upsert.
// Every failure branch maps to exactly one opaque code.
type LoginFlow struct {
	states    StateStore
	sessions  SessionStore
	exchanger OAuthExchanger
	verifier  IdentityVerifier
	logger    *zap.Logger
	metrics   MetricsRecorder
}

// NewLoginFlow wires the flow's collaborators. The verifier is optional;
// when nil the id_token in the exchange response is not checked.
func NewLoginFlow(states StateStore, sessions SessionStore, exchanger OAuthExchanger, verifier IdentityVerifier, logger *zap.Logger, metrics MetricsRecorder) *LoginFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &LoginFlow{
		states:    states,
		sessions:  sessions,
		exchanger: exchanger,
		verifier:  verifier,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start issues a fresh state token and returns the authorization URL the
// frontend should redirect the browser to. The relay never redirects here.
func (flow *LoginFlow) Start(ctx context.Context) (string, error) {
	state, issueErr := flow.states.Issue(ctx)
	if issueErr != nil {
		return "", fmt.Errorf("auth_flow.start: %w", issueErr)
	}
	flow.metrics.Increment(MetricLoginStart)
	return flow.exchanger.AuthorizationURL(state), nil
}

// Callback runs the provider redirect through the remaining states and
// returns either the upserted session record or a terminal failure.
//
// Invalid or replayed state never reaches the token exchange.
func (flow *LoginFlow) Callback(ctx context.Context, code string, state string) (SessionRecord, *AuthFailure) {
	if code == "" {
		return SessionRecord{}, flow.fail(FailureMissingCode, errors.New("no authorization code in callback"))
	}

	if consumeErr := flow.states.Consume(ctx, state); consumeErr != nil {
		return SessionRecord{}, flow.fail(FailureInvalidState, consumeErr)
	}

	tokens, exchangeErr := flow.exchanger.Exchange(ctx, code)
	if exchangeErr != nil {
		return SessionRecord{}, flow.fail(FailureExchange, exchangeErr)
	}

	asserted, verifyFailure := flow.verifyIdentity(ctx, tokens)
	if verifyFailure != nil {
		return SessionRecord{}, verifyFailure
	}

	identity, profileErr := flow.exchanger.FetchProfile(ctx, tokens)
	if profileErr != nil {
		return SessionRecord{}, flow.fail(FailureProfile, profileErr)
	}
	if asserted != nil && asserted.Subject != identity.Subject {
		return SessionRecord{}, flow.fail(FailureExchange, fmt.Errorf("id_token subject %q does not match profile subject %q", asserted.Subject, identity.Subject))
	}

	record, upsertErr := flow.sessions.Upsert(ctx, identity, tokens)
	if upsertErr != nil {
		return SessionRecord{}, flow.fail(FailureSessionUpsert, upsertErr)
	}

	flow.metrics.Increment(MetricCallbackSuccess)
	flow.logger.Info("login completed",
		zap.String("code", "auth_flow.callback.success"),
		zap.String("user_id", record.UserID),
	)
	return record, nil
}

func (flow *LoginFlow) verifyIdentity(ctx context.Context, tokens TokenBundle) (*ProviderIdentity, *AuthFailure) {
	if flow.verifier == nil || tokens.IDToken == "" {
		return nil, nil
	}
	asserted, verifyErr := flow.verifier.Verify(ctx, tokens.IDToken)
	if verifyErr != nil {
		return nil, flow.fail(FailureExchange, verifyErr)
	}
	return &asserted, nil
}

func (flow *LoginFlow) fail(code string, cause error) *AuthFailure {
	flow.metrics.Increment(MetricCallbackFailure + code)
	flow.logger.Warn("login attempt failed",
		zap.String("code", "auth_flow.callback."+code),
		zap.Error(cause),
	)
	return &AuthFailure{Code: code, Err: cause}
}
