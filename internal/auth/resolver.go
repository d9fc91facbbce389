package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// TokenCookie is the cookie the web client keeps its session token in.
const TokenCookie = "token"

// IdentityResolver turns an upgrade request into the username its messages are labelled with.
// An empty identity with a nil error means an anonymous connection.
type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) (string, error)
}

// Anonymous accepts every request without an identity.
type Anonymous struct{}

// Resolve implements IdentityResolver.
func (Anonymous) Resolve(context.Context, *http.Request) (string, error) {
	return "", nil
}

// JWTResolver verifies the session token and checks its user against the directory when one is configured.
type JWTResolver struct {
	cfg      *JWTConfig
	users    store.UserDirectory
	required bool
}

// NewJWTResolver builds a resolver. users may be nil, in which case the token's user id is the fallback identity.
func NewJWTResolver(cfg *JWTConfig, users store.UserDirectory, required bool) *JWTResolver {
	return &JWTResolver{cfg: cfg, users: users, required: required}
}

// Resolve implements IdentityResolver.
func (r *JWTResolver) Resolve(ctx context.Context, req *http.Request) (string, error) {
	token := TokenFromRequest(req)
	if token == "" {
		if r.required {
			return "", ErrMissingToken
		}
		return "", nil
	}

	claims, err := ValidateToken(r.cfg, token)
	if err != nil {
		return "", err
	}
	if r.users == nil {
		if claims.Username != "" {
			return claims.Username, nil
		}
		return claims.UserID, nil
	}

	if claims.Username != "" {
		return r.byUsername(ctx, claims)
	}

	user, err := r.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", fmt.Errorf("%w: unknown user %s", ErrInvalidToken, claims.UserID)
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	return user.DisplayName(), nil
}

// byUsername accepts a username claim only if the directory maps it to the token's user id.
func (r *JWTResolver) byUsername(ctx context.Context, claims *Claims) (string, error) {
	user, err := r.users.GetUserByUsername(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", fmt.Errorf("%w: unknown username %s", ErrInvalidToken, claims.Username)
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if user.ID != claims.UserID {
		return "", fmt.Errorf("%w: username %s does not belong to user %s", ErrInvalidToken, claims.Username, claims.UserID)
	}
	return user.Username, nil
}

// TokenFromRequest reads the token from the session cookie, the Authorization header, or the "token" query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}
