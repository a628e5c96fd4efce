package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Ensure MemoryStore implements the combined interface
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. Suitable for
// single-instance deployments and tests; state single-use guarantees do
// not extend across instances.
type MemoryStore struct {
	grantsMutex sync.RWMutex
	grants      map[string]*StoredGrant // userID -> grant

	statesMutex sync.Mutex
	usedStates  map[string]time.Time // state -> expiry

	verifiersMutex sync.Mutex
	verifiers      map[string]stashedVerifier // state -> verifier

	usersMutex sync.RWMutex
	users      map[string]*UserRecord

	now func() time.Time
}

type stashedVerifier struct {
	verifier  string
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants:     make(map[string]*StoredGrant),
		usedStates: make(map[string]time.Time),
		verifiers:  make(map[string]stashedVerifier),
		users:      make(map[string]*UserRecord),
		now:        time.Now,
	}
}

// SaveRefreshToken stores or replaces a user's grant (last-write-wins)
func (s *MemoryStore) SaveRefreshToken(_ context.Context, userID string, grant *StoredGrant) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}
	if grant == nil || grant.RefreshToken == "" {
		return fmt.Errorf("grant must carry a refresh token")
	}

	copied := *grant
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = s.now()
	}

	s.grantsMutex.Lock()
	s.grants[userID] = &copied
	s.grantsMutex.Unlock()
	return nil
}

// GetRefreshToken retrieves a user's grant
func (s *MemoryStore) GetRefreshToken(_ context.Context, userID string) (*StoredGrant, error) {
	s.grantsMutex.RLock()
	defer s.grantsMutex.RUnlock()

	grant, ok := s.grants[userID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	copied := *grant
	return &copied, nil
}

// DeleteRefreshToken removes a user's grant. Deleting an absent grant is
// not an error.
func (s *MemoryStore) DeleteRefreshToken(_ context.Context, userID string) error {
	s.grantsMutex.Lock()
	delete(s.grants, userID)
	s.grantsMutex.Unlock()
	return nil
}

// ConsumeState claims a state value for single use
func (s *MemoryStore) ConsumeState(_ context.Context, state string, ttl time.Duration) error {
	if state == "" {
		return fmt.Errorf("state cannot be empty")
	}

	now := s.now()

	s.statesMutex.Lock()
	defer s.statesMutex.Unlock()

	if expiry, ok := s.usedStates[state]; ok && now.Before(expiry) {
		return ErrStateAlreadyUsed
	}
	s.usedStates[state] = now.Add(ttl)
	return nil
}

// SaveVerifier stashes a code verifier under its state value
func (s *MemoryStore) SaveVerifier(_ context.Context, state, verifier string, ttl time.Duration) error {
	if state == "" {
		return fmt.Errorf("state cannot be empty")
	}
	if verifier == "" {
		return fmt.Errorf("verifier cannot be empty")
	}

	s.verifiersMutex.Lock()
	s.verifiers[state] = stashedVerifier{
		verifier:  verifier,
		expiresAt: s.now().Add(ttl),
	}
	s.verifiersMutex.Unlock()
	return nil
}

// ClaimVerifier returns the stashed verifier at most once
func (s *MemoryStore) ClaimVerifier(_ context.Context, state string) (string, error) {
	s.verifiersMutex.Lock()
	defer s.verifiersMutex.Unlock()

	entry, ok := s.verifiers[state]
	if !ok {
		return "", ErrVerifierNotFound
	}
	delete(s.verifiers, state)
	if !s.now().Before(entry.expiresAt) {
		return "", ErrVerifierNotFound
	}
	return entry.verifier, nil
}

// CleanupExpiredStates drops used-state and stashed-verifier entries
// past their TTL
func (s *MemoryStore) CleanupExpiredStates(_ context.Context) (int, error) {
	now := s.now()
	removed := 0

	s.statesMutex.Lock()
	for state, expiry := range s.usedStates {
		if !now.Before(expiry) {
			delete(s.usedStates, state)
			removed++
		}
	}
	s.statesMutex.Unlock()

	s.verifiersMutex.Lock()
	for state, entry := range s.verifiers {
		if !now.Before(entry.expiresAt) {
			delete(s.verifiers, state)
			removed++
		}
	}
	s.verifiersMutex.Unlock()

	return removed, nil
}

// UpsertUser creates or refreshes a user's last-seen time
func (s *MemoryStore) UpsertUser(_ context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}

	now := s.now()

	s.usersMutex.Lock()
	defer s.usersMutex.Unlock()

	if user, ok := s.users[userID]; ok {
		user.LastSeen = now
		user.Connected = true
		return nil
	}
	s.users[userID] = &UserRecord{
		UserID:    userID,
		FirstSeen: now,
		LastSeen:  now,
		Connected: true,
	}
	return nil
}

// GetAllUsers returns all tracked users
func (s *MemoryStore) GetAllUsers(_ context.Context) ([]UserRecord, error) {
	s.usersMutex.RLock()
	defer s.usersMutex.RUnlock()

	users := make([]UserRecord, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, *user)
	}
	return users, nil
}
