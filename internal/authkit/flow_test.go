package authkit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type stubExchanger struct {
	exchangeCalls int
	profileCalls  int
	exchangeErr   error
	profileErr    error
	tokens        TokenBundle
	identity      ProviderIdentity
}

func (stub *stubExchanger) AuthorizationURL(state string) string {
	return "https://provider.example.com/auth?state=" + state
}

func (stub *stubExchanger) Exchange(ctx context.Context, code string) (TokenBundle, error) {
	stub.exchangeCalls++
	if stub.exchangeErr != nil {
		return TokenBundle{}, stub.exchangeErr
	}
	return stub.tokens, nil
}

func (stub *stubExchanger) FetchProfile(ctx context.Context, tokens TokenBundle) (ProviderIdentity, error) {
	stub.profileCalls++
	if stub.profileErr != nil {
		return ProviderIdentity{}, stub.profileErr
	}
	return stub.identity, nil
}

type stubVerifier struct {
	identity ProviderIdentity
	err      error
}

func (stub *stubVerifier) Verify(ctx context.Context, rawIDToken string) (ProviderIdentity, error) {
	if stub.err != nil {
		return ProviderIdentity{}, stub.err
	}
	return stub.identity, nil
}

func newTestFlow(t *testing.T, exchanger OAuthExchanger, verifier IdentityVerifier) (*LoginFlow, StateStore, *MemorySessionStore, *CounterMetrics) {
	t.Helper()
	states := NewMemoryStateStore(time.Minute)
	sessions := NewMemorySessionStore()
	metrics := NewCounterMetrics()
	flow := NewLoginFlow(states, sessions, exchanger, verifier, zaptest.NewLogger(t), metrics)
	return flow, states, sessions, metrics
}

func TestFlowStartEmbedsIssuedState(t *testing.T) {
	t.Parallel()
	exchanger := &stubExchanger{}
	flow, states, _, metrics := newTestFlow(t, exchanger, nil)

	authURL, err := flow.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	state := strings.TrimPrefix(authURL, "https://provider.example.com/auth?state=")
	if state == "" || state == authURL {
		t.Fatalf("expected state in auth URL, got %q", authURL)
	}
	if consumeErr := states.Consume(context.Background(), state); consumeErr != nil {
		t.Fatalf("issued state should be consumable: %v", consumeErr)
	}
	if metrics.Count(MetricLoginStart) != 1 {
		t.Fatalf("expected login start metric")
	}
}

func TestFlowCallbackMissingCode(t *testing.T) {
	t.Parallel()
	exchanger := &stubExchanger{}
	flow, _, _, metrics := newTestFlow(t, exchanger, nil)

	_, failure := flow.Callback(context.Background(), "", "some-state")
	if failure == nil || failure.Code != FailureMissingCode {
		t.Fatalf("expected missing_code failure, got %+v", failure)
	}
	if exchanger.exchangeCalls != 0 {
		t.Fatalf("exchange must not run without a code")
	}
	if metrics.Count(MetricCallbackFailure+FailureMissingCode) != 1 {
		t.Fatalf("expected failure metric")
	}
}

func TestFlowCallbackInvalidStateNeverReachesExchange(t *testing.T) {
	t.Parallel()
	exchanger := &stubExchanger{}
	flow, _, sessions, _ := newTestFlow(t, exchanger, nil)

	_, failure := flow.Callback(context.Background(), "abc123", "never-issued")
	if failure == nil || failure.Code != FailureInvalidState {
		t.Fatalf("expected invalid_state failure, got %+v", failure)
	}
	if exchanger.exchangeCalls != 0 {
		t.Fatalf("exchange client must receive zero calls on invalid state")
	}
	listed, _ := sessions.List(context.Background())
	if len(listed) != 0 {
		t.Fatalf("no session mutation expected, got %d records", len(listed))
	}
}

func TestFlowCallbackMissingStateDistinctFromMissingCode(t *testing.T) {
	t.Parallel()
	exchanger := &stubExchanger{}
	flow, _, _, _ := newTestFlow(t, exchanger, nil)

	_, failure := flow.Callback(context.Background(), "abc123", "")
	if failure == nil || failure.Code != FailureInvalidState {
		t.Fatalf("expected invalid_state for absent state, got %+v", failure)
	}
}

func TestFlowCallbackSuccess(t *testing.T) {
	t.Parallel()
	exchanger := &stubExchanger{
		tokens:   TokenBundle{AccessToken: "T", RefreshToken: "R"},
		identity: ProviderIdentity{Subject: "u1", Email: "a@b.com", EmailVerified: true, Name: "User One"},
	}
	flow, states, sessions, metrics := newTestFlow(t, exchanger, nil)

	state, _ := states.Issue(context.Background())
	record, failure := flow.Callback(context.Background(), "abc123", state)
	if failure != nil {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if record.UserID != "u1" || record.AccessToken != "T" {
		t.Fatalf("unexpected record: %+v", record)
	}

	stored, getErr := sessions.Get(context.Background(), "u1")
	if getErr != nil {
		t.Fatalf("session should exist: %v", getErr)
	}
	if stored.Email != "a@b.com" {
		t.Fatalf("unexpected stored email %q", stored.Email)
	}
	if metrics.Count(MetricCallbackSuccess) != 1 {
		t.Fatalf("expected success metric")
	}
}

func TestFlowCallbackReplayedStateRejected(t *testing.T) {
	t.Parallel()
	exchanger := &stubExchanger{
		tokens:   TokenBundle{AccessToken: "T"},
		identity: ProviderIdentity{Subject: "u1", Email: "a@b.com", EmailVerified: true},
	}
	flow, states, sessions, _ := newTestFlow(t, exchanger, nil)

	state, _ := states.Issue(context.Background())
	if _, failure := flow.Callback(context.Background(), "abc123", state); failure != nil {
		t.Fatalf("first callback should succeed: %+v", failure)
	}

	_, failure := flow.Callback(context.Background(), "abc123", state)
	if failure == nil || failure.Code != FailureInvalidState {
		t.Fatalf("expected invalid_state on replay, got %+v", failure)
	}
	if exchanger.exchangeCalls != 1 {
		t.Fatalf("replay must not trigger a second exchange, got %d calls", exchanger.exchangeCalls)
	}
	listed, _ := sessions.List(context.Background())
	if len(listed) != 1 {
		t.Fatalf("replay must not mutate sessions, got %d records", len(listed))
	}
}

func TestFlowCallbackExchangeFailure(t *testing.T) {
	t.Parallel()
	exchanger := &stubExchanger{exchangeErr: &ExchangeError{Err: errors.New("invalid_grant")}}
	flow, states, _, _ := newTestFlow(t, exchanger, nil)

	state, _ := states.Issue(context.Background())
	_, failure := flow.Callback(context.Background(), "abc123", state)
	if failure == nil || failure.Code != FailureExchange {
		t.Fatalf("expected exchange failure, got %+v", failure)
	}
	if exchanger.profileCalls != 0 {
		t.Fatalf("profile fetch must not run after exchange failure")
	}
}

func TestFlowCallbackProfileFailure(t *testing.T) {
	t.Parallel()
	exchanger := &stubExchanger{
		tokens:     TokenBundle{AccessToken: "T"},
		profileErr: &ProfileFetchError{Err: errors.New("userinfo status 500")},
	}
	flow, states, sessions, _ := newTestFlow(t, exchanger, nil)

	state, _ := states.Issue(context.Background())
	_, failure := flow.Callback(context.Background(), "abc123", state)
	if failure == nil || failure.Code != FailureProfile {
		t.Fatalf("expected profile failure, got %+v", failure)
	}
	listed, _ := sessions.List(context.Background())
	if len(listed) != 0 {
		t.Fatalf("no session should be created on profile failure")
	}
}

func TestFlowCallbackIDTokenVerification(t *testing.T) {
	t.Parallel()

	t.Run("verifier rejection fails the attempt", func(t *testing.T) {
		exchanger := &stubExchanger{
			tokens:   TokenBundle{AccessToken: "T", IDToken: "raw"},
			identity: ProviderIdentity{Subject: "u1", Email: "a@b.com", EmailVerified: true},
		}
		verifier := &stubVerifier{err: errors.New("bad signature")}
		flow, states, _, _ := newTestFlow(t, exchanger, verifier)

		state, _ := states.Issue(context.Background())
		_, failure := flow.Callback(context.Background(), "abc123", state)
		if failure == nil || failure.Code != FailureExchange {
			t.Fatalf("expected exchange failure on verifier rejection, got %+v", failure)
		}
	})

	t.Run("subject mismatch fails the attempt", func(t *testing.T) {
		exchanger := &stubExchanger{
			tokens:   TokenBundle{AccessToken: "T", IDToken: "raw"},
			identity: ProviderIdentity{Subject: "u1", Email: "a@b.com", EmailVerified: true},
		}
		verifier := &stubVerifier{identity: ProviderIdentity{Subject: "someone-else", Email: "a@b.com", EmailVerified: true}}
		flow, states, _, _ := newTestFlow(t, exchanger, verifier)

		state, _ := states.Issue(context.Background())
		_, failure := flow.Callback(context.Background(), "abc123", state)
		if failure == nil || failure.Code != FailureExchange {
			t.Fatalf("expected exchange failure on subject mismatch, got %+v", failure)
		}
	})

	t.Run("matching subject succeeds", func(t *testing.T) {
		exchanger := &stubExchanger{
			tokens:   TokenBundle{AccessToken: "T", IDToken: "raw"},
			identity: ProviderIdentity{Subject: "u1", Email: "a@b.com", EmailVerified: true},
		}
		verifier := &stubVerifier{identity: ProviderIdentity{Subject: "u1", Email: "a@b.com", EmailVerified: true}}
		flow, states, _, _ := newTestFlow(t, exchanger, verifier)

		state, _ := states.Issue(context.Background())
		if _, failure := flow.Callback(context.Background(), "abc123", state); failure != nil {
			t.Fatalf("unexpected failure: %+v", failure)
		}
	})
}
