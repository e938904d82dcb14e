package authkit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrSessionNotFound indicates no session record exists for the user id.
var ErrSessionNotFound = errors.New("session_store.not_found")

// ProviderIdentity is what the identity provider asserts about a user.
// Immutable once fetched for a given exchange.
type ProviderIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// TokenBundle carries the credentials returned by the token endpoint.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// SessionRecord represents an authenticated user in application terms. One
// record per provider subject; re-login overwrites token fields only.
type SessionRecord struct {
	UserID       string
	Email        string
	Name         string
	AvatarURL    string
	CreatedAt    time.Time
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}

// SessionStore owns session records. All mutations go through it.
type SessionStore interface {
	// Upsert inserts a record for an unseen subject or refreshes the token
	// and profile fields of an existing one. CreatedAt is never overwritten.
	Upsert(ctx context.Context, identity ProviderIdentity, tokens TokenBundle) (SessionRecord, error)
	// Get returns the record for the user id or ErrSessionNotFound.
	Get(ctx context.Context, userID string) (SessionRecord, error)
	// Remove drops the record for the user id. Removing an absent record is
	// not an error.
	Remove(ctx context.Context, userID string) error
	// List returns all records with token fields blanked. Diagnostic only.
	List(ctx context.Context) ([]SessionRecord, error)
}

// MemorySessionStore keeps session records in a mutex-guarded map. Suitable
// for single-process deployments and tests.
type MemorySessionStore struct {
	mutex   sync.Mutex
	records map[string]SessionRecord
	now     func() time.Time
}

// NewMemorySessionStore constructs an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		records: make(map[string]SessionRecord),
		now:     time.Now,
	}
}

// Upsert inserts or refreshes the record keyed by the provider subject.
func (store *MemorySessionStore) Upsert(ctx context.Context, identity ProviderIdentity, tokens TokenBundle) (SessionRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, exists := store.records[identity.Subject]
	if !exists {
		record = SessionRecord{
			UserID:    identity.Subject,
			CreatedAt: store.now().UTC(),
		}
	}
	record.Email = identity.Email
	record.Name = identity.Name
	record.AvatarURL = identity.AvatarURL
	record.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		record.RefreshToken = tokens.RefreshToken
	}
	record.TokenExpiry = tokens.Expiry
	store.records[identity.Subject] = record
	return record, nil
}

// Get returns the record for the user id.
func (store *MemorySessionStore) Get(ctx context.Context, userID string) (SessionRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.records[userID]
	if !ok {
		return SessionRecord{}, ErrSessionNotFound
	}
	return record, nil
}

// Remove drops the record for the user id.
func (store *MemorySessionStore) Remove(ctx context.Context, userID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	delete(store.records, userID)
	return nil
}

// List returns all records, token fields blanked, ordered by user id.
func (store *MemorySessionStore) List(ctx context.Context) ([]SessionRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	listed := make([]SessionRecord, 0, len(store.records))
	for _, record := range store.records {
		listed = append(listed, redactSessionRecord(record))
	}
	sort.Slice(listed, func(left, right int) bool {
		return listed[left].UserID < listed[right].UserID
	})
	return listed, nil
}

func redactSessionRecord(record SessionRecord) SessionRecord {
	record.AccessToken = ""
	record.RefreshToken = ""
	return record
}
