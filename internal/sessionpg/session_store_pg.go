package sessionpg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/oauthrelay/internal/authkit"
)

// PostgresSessionStore persists session records in PostgreSQL.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore constructs a Postgres store.
func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Upsert inserts a new session row or refreshes the token and profile fields
// of an existing one, preserving created_at_unix.
func (store *PostgresSessionStore) Upsert(ctx context.Context, identity authkit.ProviderIdentity, tokens authkit.TokenBundle) (authkit.SessionRecord, error) {
	expiryUnix := int64(0)
	if !tokens.Expiry.IsZero() {
		expiryUnix = tokens.Expiry.UTC().Unix()
	}
	row := store.pool.QueryRow(ctx, `
INSERT INTO sessions (user_id, email, display_name, avatar_url, created_at_unix, access_token, refresh_token, token_expiry_unix)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id) DO UPDATE SET
    email = EXCLUDED.email,
    display_name = EXCLUDED.display_name,
    avatar_url = EXCLUDED.avatar_url,
    access_token = EXCLUDED.access_token,
    refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN sessions.refresh_token ELSE EXCLUDED.refresh_token END,
    token_expiry_unix = EXCLUDED.token_expiry_unix
RETURNING user_id, email, display_name, avatar_url, created_at_unix, access_token, refresh_token, token_expiry_unix
`, identity.Subject, identity.Email, identity.Name, identity.AvatarURL, time.Now().UTC().Unix(), tokens.AccessToken, tokens.RefreshToken, expiryUnix)
	return scanSessionRow(row)
}

// Get returns the record for the user id.
func (store *PostgresSessionStore) Get(ctx context.Context, userID string) (authkit.SessionRecord, error) {
	row := store.pool.QueryRow(ctx, `
SELECT user_id, email, display_name, avatar_url, created_at_unix, access_token, refresh_token, token_expiry_unix
FROM sessions
WHERE user_id = $1
`, userID)
	record, scanErr := scanSessionRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return authkit.SessionRecord{}, authkit.ErrSessionNotFound
		}
		return authkit.SessionRecord{}, scanErr
	}
	return record, nil
}

// Remove drops the record for the user id. Absent rows are not an error.
func (store *PostgresSessionStore) Remove(ctx context.Context, userID string) error {
	_, err := store.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

// List returns all records ordered by user id with token fields blanked.
func (store *PostgresSessionStore) List(ctx context.Context) ([]authkit.SessionRecord, error) {
	rows, queryErr := store.pool.Query(ctx, `
SELECT user_id, email, display_name, avatar_url, created_at_unix, access_token, refresh_token, token_expiry_unix
FROM sessions
ORDER BY user_id
`)
	if queryErr != nil {
		return nil, queryErr
	}
	defer rows.Close()

	var listed []authkit.SessionRecord
	for rows.Next() {
		record, scanErr := scanSessionRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		record.AccessToken = ""
		record.RefreshToken = ""
		listed = append(listed, record)
	}
	return listed, rows.Err()
}

func scanSessionRow(row pgx.Row) (authkit.SessionRecord, error) {
	var record authkit.SessionRecord
	var createdAtUnix int64
	var tokenExpiryUnix int64
	scanErr := row.Scan(&record.UserID, &record.Email, &record.Name, &record.AvatarURL, &createdAtUnix, &record.AccessToken, &record.RefreshToken, &tokenExpiryUnix)
	if scanErr != nil {
		return authkit.SessionRecord{}, scanErr
	}
	record.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	if tokenExpiryUnix != 0 {
		record.TokenExpiry = time.Unix(tokenExpiryUnix, 0).UTC()
	}
	return record, nil
}
