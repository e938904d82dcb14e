package authkit

import (
	"testing"
	"time"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

func TestMintSessionJWTRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	_, _, err := MintSessionJWT(fixedClock{timestamp: time.Unix(1700000000, 0)}, SessionRecord{}, "issuer", []byte("signing-key"), time.Minute)
	if err == nil {
		t.Fatalf("expected error when user ID is empty")
	}

	expected := "jwt.mint.failure: subject must be non-empty"
	if err.Error() != expected {
		t.Fatalf("expected error %q, got %q", expected, err.Error())
	}
}

func TestMintSessionJWTCarriesClockTimestamps(t *testing.T) {
	t.Parallel()

	reference := time.Unix(1700000000, 0).UTC()
	record := SessionRecord{UserID: "u1", Email: "a@b.com", Name: "User One"}
	token, expiresAt, err := MintSessionJWT(fixedClock{timestamp: reference}, record, "issuer", []byte("signing-key"), 2*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected signed token")
	}
	expectedExpiry := reference.Add(2 * time.Minute)
	if !expiresAt.Equal(expectedExpiry) {
		t.Fatalf("expected expiry %v, got %v", expectedExpiry, expiresAt)
	}
}

func TestParseSessionJWTRoundTrip(t *testing.T) {
	t.Parallel()

	record := SessionRecord{UserID: "u1", Email: "a@b.com", Name: "User One", AvatarURL: "https://example.com/a.png"}
	token, _, mintErr := MintSessionJWT(NewSystemClock(), record, "issuer", []byte("signing-key"), time.Hour)
	if mintErr != nil {
		t.Fatalf("mint: %v", mintErr)
	}

	claims, parseErr := ParseSessionJWT(token, "issuer", []byte("signing-key"))
	if parseErr != nil {
		t.Fatalf("parse: %v", parseErr)
	}
	if claims.UserID != "u1" || claims.UserEmail != "a@b.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Subject != "u1" {
		t.Fatalf("expected registered subject, got %q", claims.Subject)
	}
}

func TestParseSessionJWTRejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	record := SessionRecord{UserID: "u1"}
	token, _, mintErr := MintSessionJWT(NewSystemClock(), record, "other-issuer", []byte("signing-key"), time.Hour)
	if mintErr != nil {
		t.Fatalf("mint: %v", mintErr)
	}

	if _, parseErr := ParseSessionJWT(token, "issuer", []byte("signing-key")); parseErr == nil {
		t.Fatalf("expected issuer rejection")
	}
}

func TestParseSessionJWTRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	record := SessionRecord{UserID: "u1"}
	token, _, mintErr := MintSessionJWT(NewSystemClock(), record, "issuer", []byte("signing-key"), time.Hour)
	if mintErr != nil {
		t.Fatalf("mint: %v", mintErr)
	}

	if _, parseErr := ParseSessionJWT(token, "issuer", []byte("other-key")); parseErr == nil {
		t.Fatalf("expected signature rejection")
	}
	if _, parseErr := ParseSessionJWT(token+"x", "issuer", []byte("signing-key")); parseErr == nil {
		t.Fatalf("expected tampered token rejection")
	}
}
