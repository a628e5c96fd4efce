package storage

import (
	"context"
	"errors"
	"time"
)

// ErrTokenNotFound is returned when no refresh token is stored for a user
var ErrTokenNotFound = errors.New("refresh token not found")

// ErrStateAlreadyUsed is returned when a state value is consumed a second
// time within its freshness window
var ErrStateAlreadyUsed = errors.New("state already used")

// ErrVerifierNotFound is returned when no code verifier is stashed for a
// state value, or it was already claimed or expired
var ErrVerifierNotFound = errors.New("code verifier not found")

// StoredGrant is the durable copy of a user's Drive authorization. Its
// lifetime is independent of the HTTP session cookies.
type StoredGrant struct {
	RefreshToken string    `json:"refresh_token"`
	Scopes       []string  `json:"scopes,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserRecord tracks a user who has connected their Drive
type UserRecord struct {
	UserID    string    `json:"user_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Connected bool      `json:"connected"`
}

// TokenStore is the durable keyed storage for refresh tokens. Writes are
// last-write-wins per user; refresh tokens for the same account are
// interchangeable credentials.
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, userID string, grant *StoredGrant) error
	GetRefreshToken(ctx context.Context, userID string) (*StoredGrant, error)
	DeleteRefreshToken(ctx context.Context, userID string) error
}

// StateStore makes callback processing single-use: a state value can be
// consumed exactly once within its TTL, regardless of which instance
// served the begin request.
type StateStore interface {
	// ConsumeState claims a state value. Returns ErrStateAlreadyUsed if the
	// value was already consumed and its TTL has not elapsed.
	ConsumeState(ctx context.Context, state string, ttl time.Duration) error

	// CleanupExpiredStates drops used-state and stashed-verifier entries
	// past their TTL and returns how many were removed.
	CleanupExpiredStates(ctx context.Context) (int, error)
}

// VerifierStore stashes PKCE code verifiers between the begin request
// and the callback, keyed by the encoded state value. Begin and callback
// may land on different instances, so the stash must be as durable as
// the single-use state set; the verifier itself never leaves the server.
type VerifierStore interface {
	// SaveVerifier stashes a verifier under its state value until the TTL
	// elapses. Saving again for the same state replaces the entry.
	SaveVerifier(ctx context.Context, state, verifier string, ttl time.Duration) error

	// ClaimVerifier returns the stashed verifier and removes it, so a
	// verifier is handed out at most once. Returns ErrVerifierNotFound
	// when nothing is stashed, the entry expired, or it was already
	// claimed.
	ClaimVerifier(ctx context.Context, state string) (string, error)
}

// UserStore tracks users for the admin surface
type UserStore interface {
	UpsertUser(ctx context.Context, userID string) error
	GetAllUsers(ctx context.Context) ([]UserRecord, error)
}

// Store combines all storage capabilities needed by drivemind
type Store interface {
	TokenStore
	StateStore
	VerifierStore
	UserStore
}
