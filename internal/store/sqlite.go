package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/shsh-webssh/internal/domain"
	"github.com/ashureev/shsh-webssh/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxRetries     = 3
	retryBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		account INTEGER NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_last_seen ON users(last_seen_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_account_username ON users(username) WHERE account = 1;

	CREATE TABLE IF NOT EXISTS connections (
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		login TEXT NOT NULL DEFAULT '',
		auth_type TEXT NOT NULL DEFAULT '',
		secret TEXT NOT NULL DEFAULT '',
		passphrase TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		container_id TEXT NOT NULL DEFAULT '',
		shell TEXT NOT NULL DEFAULT '',
		grp TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, id)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs op, retrying SQLite busy/locked errors with exponential
// backoff: 50ms, 100ms.
func withRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := retryBaseDelay * time.Duration(1<<i)
			slog.Debug("Database locked, retrying", "op", name, "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", name, maxRetries, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `user_id, username, account, last_seen_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*domain.User, error) {
	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	if err := row.Scan(&user.UserID, &user.Username, &user.Account, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// UpsertUser creates or updates a user record. The account flag is only
// changed through ClaimUsername and ReleaseUsername.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, account, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return withRetry(ctx, "upsert user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.Account,
			user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	return withRetry(ctx, "update last seen", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`,
			lastSeen.Unix(), time.Now().Unix(), userID)
		if err != nil {
			return fmt.Errorf("update last_seen: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
		}
		return nil
	})
}

// ClaimUsername turns an anonymous identity into an account.
func (s *SQLiteStore) ClaimUsername(ctx context.Context, userID, username string) error {
	return withRetry(ctx, "claim username", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE users SET username = ?, account = 1, updated_at = ? WHERE user_id = ?`,
			username, time.Now().Unix(), userID)
		if err != nil {
			if shared.IsUniqueViolation(err) {
				return ErrUsernameTaken
			}
			return fmt.Errorf("claim username: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("user not found")
		}
		return nil
	})
}

// ReleaseUsername turns an account back into an anonymous identity.
func (s *SQLiteStore) ReleaseUsername(ctx context.Context, userID, anonName string) error {
	return withRetry(ctx, "release username", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE users SET username = ?, account = 0, updated_at = ? WHERE user_id = ?`,
			anonName, time.Now().Unix(), userID)
		if err != nil {
			return fmt.Errorf("release username: %w", err)
		}
		return nil
	})
}

// GetInactiveUsers returns users whose last activity is older than ttl.
func (s *SQLiteStore) GetInactiveUsers(ctx context.Context, ttl time.Duration) ([]*domain.User, error) {
	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE last_seen_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query inactive users: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close inactive users rows", "error", closeErr)
		}
	}()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inactive user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inactive users: %w", err)
	}
	return users, nil
}

const connectionColumns = `id, name, kind, host, port, login, auth_type, secret, passphrase,
	fingerprint, container_id, shell, grp, created_at`

func scanConnection(row scanner) (domain.HostConfig, error) {
	var h domain.HostConfig
	var createdAt int64
	err := row.Scan(&h.ID, &h.Name, &h.Kind, &h.Host, &h.Port, &h.User, &h.AuthType,
		&h.Secret, &h.Passphrase, &h.Fingerprint, &h.ContainerID, &h.Shell, &h.Group, &createdAt)
	if err != nil {
		return h, err
	}
	h.CreatedAt = time.Unix(createdAt, 0)
	return h, nil
}

// ListConnections returns a user's account connections ordered by name.
func (s *SQLiteStore) ListConnections(ctx context.Context, userID string) ([]domain.HostConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE user_id = ? ORDER BY name, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close connection rows", "error", closeErr)
		}
	}()

	var out []domain.HostConfig
	for rows.Next() {
		h, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return out, nil
}

// GetConnection returns one account connection, or nil if absent.
func (s *SQLiteStore) GetConnection(ctx context.Context, userID, id string) (*domain.HostConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE user_id = ? AND id = ?`, userID, id)
	h, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	return &h, nil
}

// SaveConnection creates or replaces an account connection.
func (s *SQLiteStore) SaveConnection(ctx context.Context, userID string, h domain.HostConfig) error {
	query := `
	INSERT INTO connections (user_id, ` + connectionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, id) DO UPDATE SET
		name = excluded.name, kind = excluded.kind, host = excluded.host, port = excluded.port,
		login = excluded.login, auth_type = excluded.auth_type, secret = excluded.secret,
		passphrase = excluded.passphrase, fingerprint = excluded.fingerprint,
		container_id = excluded.container_id, shell = excluded.shell, grp = excluded.grp`

	createdAt := h.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return withRetry(ctx, "save connection", func() error {
		_, err := s.db.ExecContext(ctx, query, userID,
			h.ID, h.Name, string(h.Kind), h.Host, h.Port, h.User, string(h.AuthType),
			h.Secret, h.Passphrase, h.Fingerprint, h.ContainerID, h.Shell, h.Group, createdAt.Unix())
		if err != nil {
			return fmt.Errorf("save connection: %w", err)
		}
		return nil
	})
}

// DeleteConnection removes an account connection and reports whether it existed.
func (s *SQLiteStore) DeleteConnection(ctx context.Context, userID, id string) (bool, error) {
	var deleted bool
	err := withRetry(ctx, "delete connection", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE user_id = ? AND id = ?`, userID, id)
		if err != nil {
			return fmt.Errorf("delete connection: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		deleted = rows > 0
		return nil
	})
	return deleted, err
}

// GetSetting reads a key from the settings table.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting writes a key to the settings table.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	return withRetry(ctx, "set setting", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("write setting %s: %w", key, err)
		}
		return nil
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
