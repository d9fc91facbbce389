package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// Schema is the subset of the application's users table the directory reads. Tests and
// local setups apply it through NewWithSetup.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT UNIQUE,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the application's SQLite database at dbPath. The users table is owned by
// the application; New only checks that it is there and never writes schema.
func New(dbPath string) (*SQLiteStore, error) {
	return open(dbPath+"?_busy_timeout=5000&_query_only=true", checkUsersTable)
}

func checkUsersTable(db *sql.DB) error {
	rows, err := db.Query(`SELECT ` + userColumns + ` FROM users LIMIT 0`)
	if err != nil {
		return fmt.Errorf("users table: %w", err)
	}
	return rows.Close()
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply Schema and fixtures.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	return open(dbPath+"?_journal_mode=WAL&_busy_timeout=5000", setup)
}

func open(dsn string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const userColumns = `id, COALESCE(username, ''), first_name, last_name, email, created_at`

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) queryUser(ctx context.Context, query string, arg any) (*store.User, error) {
	var user store.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %v", store.ErrUserNotFound, arg)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}
