package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("session_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("session_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("session_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("session_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("session_store.unsupported_no_scheme")
)

// DatabaseSessionStore persists session records using GORM so sessions
// survive process restarts when a database is configured.
type DatabaseSessionStore struct {
	db          *gorm.DB
	driverLabel string
	now         func() time.Time
}

// Driver exposes the selected database driver label.
func (store *DatabaseSessionStore) Driver() string {
	return store.driverLabel
}

type sessionRow struct {
	UserID          string `gorm:"column:user_id;primaryKey"`
	Email           string `gorm:"column:email;not null"`
	DisplayName     string `gorm:"column:display_name;not null;default:''"`
	AvatarURL       string `gorm:"column:avatar_url;not null;default:''"`
	CreatedAtUnix   int64  `gorm:"column:created_at_unix;not null"`
	AccessToken     string `gorm:"column:access_token;not null;default:''"`
	RefreshToken    string `gorm:"column:refresh_token;not null;default:''"`
	TokenExpiryUnix int64  `gorm:"column:token_expiry_unix;not null;default:0"`
}

func (sessionRow) TableName() string {
	return "sessions"
}

// NewDatabaseSessionStore constructs a GORM-backed store. The driver is
// chosen from the URL scheme: postgres:// or sqlite://.
func NewDatabaseSessionStore(ctx context.Context, databaseURL string) (*DatabaseSessionStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("session_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("session_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionRow{}); migrateErr != nil {
		return nil, fmt.Errorf("session_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseSessionStore{
		db:          gormDB,
		driverLabel: driverLabel,
		now:         time.Now,
	}, nil
}

// Upsert inserts a record for an unseen subject or refreshes token and
// profile fields, preserving the original creation timestamp.
func (store *DatabaseSessionStore) Upsert(ctx context.Context, identity ProviderIdentity, tokens TokenBundle) (SessionRecord, error) {
	var row sessionRow
	findErr := store.db.WithContext(ctx).Where("user_id = ?", identity.Subject).Take(&row).Error
	switch {
	case errors.Is(findErr, gorm.ErrRecordNotFound):
		row = sessionRow{
			UserID:        identity.Subject,
			CreatedAtUnix: store.now().UTC().Unix(),
		}
	case findErr != nil:
		return SessionRecord{}, fmt.Errorf("session_store.upsert.%s: %w", store.driverLabel, findErr)
	}

	row.Email = identity.Email
	row.DisplayName = identity.Name
	row.AvatarURL = identity.AvatarURL
	row.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		row.RefreshToken = tokens.RefreshToken
	}
	row.TokenExpiryUnix = tokenExpiryUnix(tokens.Expiry)

	if saveErr := store.db.WithContext(ctx).Save(&row).Error; saveErr != nil {
		return SessionRecord{}, fmt.Errorf("session_store.upsert.%s: %w", store.driverLabel, saveErr)
	}
	return rowToRecord(row), nil
}

// Get returns the record for the user id.
func (store *DatabaseSessionStore) Get(ctx context.Context, userID string) (SessionRecord, error) {
	var row sessionRow
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionRecord{}, fmt.Errorf("session_store.get.%s: %w", store.driverLabel, ErrSessionNotFound)
		}
		return SessionRecord{}, fmt.Errorf("session_store.get.%s: %w", store.driverLabel, err)
	}
	return rowToRecord(row), nil
}

// Remove drops the record for the user id. Absent rows are not an error.
func (store *DatabaseSessionStore) Remove(ctx context.Context, userID string) error {
	result := store.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&sessionRow{})
	if result.Error != nil {
		return fmt.Errorf("session_store.remove.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

// List returns all records ordered by user id with token fields blanked.
func (store *DatabaseSessionStore) List(ctx context.Context) ([]SessionRecord, error) {
	var rows []sessionRow
	if err := store.db.WithContext(ctx).Order("user_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("session_store.list.%s: %w", store.driverLabel, err)
	}
	listed := make([]SessionRecord, 0, len(rows))
	for _, row := range rows {
		listed = append(listed, redactSessionRecord(rowToRecord(row)))
	}
	return listed, nil
}

func rowToRecord(row sessionRow) SessionRecord {
	record := SessionRecord{
		UserID:       row.UserID,
		Email:        row.Email,
		Name:         row.DisplayName,
		AvatarURL:    row.AvatarURL,
		CreatedAt:    time.Unix(row.CreatedAtUnix, 0).UTC(),
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
	}
	if row.TokenExpiryUnix != 0 {
		record.TokenExpiry = time.Unix(row.TokenExpiryUnix, 0).UTC()
	}
	return record
}

func tokenExpiryUnix(expiry time.Time) int64 {
	if expiry.IsZero() {
		return 0
	}
	return expiry.UTC().Unix()
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("session_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("session_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("session_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("session_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
