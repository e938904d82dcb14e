package authkit

import (
	"context"
	"testing"
	"time"
)

func TestMemorySessionStoreUpsertPreservesCreatedAt(t *testing.T) {
	t.Parallel()
	store := NewMemorySessionStore()
	current := time.Unix(1000, 0).UTC()
	store.now = func() time.Time { return current }

	identity := ProviderIdentity{Subject: "u1", Email: "a@b.com", Name: "User One"}
	first, err := store.Upsert(context.Background(), identity, TokenBundle{AccessToken: "token-1"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !first.CreatedAt.Equal(current) {
		t.Fatalf("expected CreatedAt %v, got %v", current, first.CreatedAt)
	}

	current = current.Add(time.Hour)
	second, err := store.Upsert(context.Background(), identity, TokenBundle{AccessToken: "token-2"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected CreatedAt to survive re-login, got %v", second.CreatedAt)
	}
	if second.AccessToken != "token-2" {
		t.Fatalf("expected latest access token, got %q", second.AccessToken)
	}

	listed, listErr := store.List(context.Background())
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one record after re-login, got %d", len(listed))
	}
}

func TestMemorySessionStoreKeepsRefreshTokenWhenOmitted(t *testing.T) {
	t.Parallel()
	store := NewMemorySessionStore()

	identity := ProviderIdentity{Subject: "u1", Email: "a@b.com"}
	if _, err := store.Upsert(context.Background(), identity, TokenBundle{AccessToken: "t1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Google only returns refresh tokens on first consent.
	record, err := store.Upsert(context.Background(), identity, TokenBundle{AccessToken: "t2"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if record.RefreshToken != "r1" {
		t.Fatalf("expected refresh token to survive, got %q", record.RefreshToken)
	}
}

func TestMemorySessionStoreGetNotFound(t *testing.T) {
	t.Parallel()
	store := NewMemorySessionStore()

	if _, err := store.Get(context.Background(), "missing"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemorySessionStoreRemove(t *testing.T) {
	t.Parallel()
	store := NewMemorySessionStore()

	identity := ProviderIdentity{Subject: "u1", Email: "a@b.com"}
	if _, err := store.Upsert(context.Background(), identity, TokenBundle{AccessToken: "t1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Remove(context.Background(), "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Get(context.Background(), "u1"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after remove, got %v", err)
	}
	if err := store.Remove(context.Background(), "u1"); err != nil {
		t.Fatalf("removing an absent record should not error, got %v", err)
	}
}

func TestMemorySessionStoreListRedactsTokens(t *testing.T) {
	t.Parallel()
	store := NewMemorySessionStore()

	for _, subject := range []string{"u2", "u1"} {
		identity := ProviderIdentity{Subject: subject, Email: subject + "@example.com"}
		if _, err := store.Upsert(context.Background(), identity, TokenBundle{AccessToken: "secret", RefreshToken: "secret"}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	listed, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected two records, got %d", len(listed))
	}
	if listed[0].UserID != "u1" || listed[1].UserID != "u2" {
		t.Fatalf("expected records ordered by user id, got %q then %q", listed[0].UserID, listed[1].UserID)
	}
	for _, record := range listed {
		if record.AccessToken != "" || record.RefreshToken != "" {
			t.Fatalf("expected token fields to be blanked in listing")
		}
	}
}
