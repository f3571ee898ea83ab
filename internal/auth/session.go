// Package auth supplies the current authenticated identity to the rest of
// the system: credential checks, Redis-backed bearer sessions, and the
// account operations that need a session.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession indicates the token does not map to a live session.
var ErrNoSession = errors.New("auth: no session")

// SessionManager stores bearer-token sessions in Redis. A session holds only
// the identity id; role selection happens per request.
type SessionManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, ttl: ttl}
}

// Create opens a session for the identity and returns its bearer token.
func (sm *SessionManager) Create(ctx context.Context, identityID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := sm.client.Set(ctx, sm.key(token), identityID, sm.ttl).Err(); err != nil {
		return "", fmt.Errorf("auth: store session: %w", err)
	}
	return token, nil
}

// IdentityID resolves the identity id behind a token, refreshing the TTL.
func (sm *SessionManager) IdentityID(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNoSession
	}
	id, err := sm.client.GetEx(ctx, sm.key(token), sm.ttl).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoSession
		}
		return "", fmt.Errorf("auth: load session: %w", err)
	}
	return id, nil
}

// Destroy removes a session. Destroying an absent session is a no-op.
func (sm *SessionManager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := sm.client.Del(ctx, sm.key(token)).Err(); err != nil {
		return fmt.Errorf("auth: destroy session: %w", err)
	}
	return nil
}

func (sm *SessionManager) key(token string) string {
	return "session:" + token
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
