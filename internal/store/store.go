package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUserNotFound is returned when no user matches a lookup.
var ErrUserNotFound = errors.New("user not found")

// User is the read-only projection of an application user the relay needs.
type User struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
	Email     string
	CreatedAt time.Time
}

// DisplayName is the username, or the full name for accounts without one.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// UserDirectory resolves users owned by the surrounding application.
type UserDirectory interface {
	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// Store combines all store interfaces.
type Store interface {
	UserDirectory
	Close() error
}
