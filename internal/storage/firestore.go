package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/drivemind-app/drivemind/internal/crypto"
	"github.com/drivemind-app/drivemind/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore persists grants, used states, and user records in Google
// Cloud Firestore. Refresh tokens are encrypted before they leave the
// process; the plaintext never reaches the wire.
type FirestoreStore struct {
	client              *firestore.Client
	encryptor           crypto.Encryptor
	grantsCollection    string
	statesCollection    string
	verifiersCollection string
	usersCollection     string
	now                 func() time.Time
}

var _ Store = (*FirestoreStore)(nil)

// grantDoc is the Firestore representation of a stored grant
type grantDoc struct {
	UserID       string    `firestore:"user_id"`
	RefreshToken string    `firestore:"refresh_token"` // encrypted
	Scopes       []string  `firestore:"scopes,omitempty"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

// usedStateDoc marks a consumed state value until its TTL elapses
type usedStateDoc struct {
	ConsumedAt time.Time `firestore:"consumed_at"`
	ExpiresAt  time.Time `firestore:"expires_at"`
}

// verifierDoc stashes a PKCE code verifier between begin and callback
type verifierDoc struct {
	Verifier  string    `firestore:"verifier"` // encrypted
	ExpiresAt time.Time `firestore:"expires_at"`
}

// userDoc tracks a connected user
type userDoc struct {
	UserID    string    `firestore:"user_id"`
	FirstSeen time.Time `firestore:"first_seen"`
	LastSeen  time.Time `firestore:"last_seen"`
	Connected bool      `firestore:"connected"`
}

// NewFirestoreStore creates a Firestore-backed store. database may be
// empty for the default database; collection prefixes every collection
// name so several deployments can share a project.
func NewFirestoreStore(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor) (*FirestoreStore, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if collection == "" {
		collection = "drivemind"
	}

	var client *firestore.Client
	var err error
	if database != "" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Firestore store initialized", map[string]any{
		"project":    projectID,
		"collection": collection,
	})

	return &FirestoreStore{
		client:              client,
		encryptor:           encryptor,
		grantsCollection:    collection + "_grants",
		statesCollection:    collection + "_states",
		verifiersCollection: collection + "_verifiers",
		usersCollection:     collection + "_users",
		now:                 time.Now,
	}, nil
}

// Close releases the underlying client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// SaveRefreshToken stores or replaces a user's grant (last-write-wins)
func (s *FirestoreStore) SaveRefreshToken(ctx context.Context, userID string, grant *StoredGrant) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}
	if grant == nil || grant.RefreshToken == "" {
		return fmt.Errorf("grant must carry a refresh token")
	}

	encrypted, err := s.encryptor.Encrypt(grant.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}

	updatedAt := grant.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	_, err = s.client.Collection(s.grantsCollection).Doc(userID).Set(ctx, grantDoc{
		UserID:       userID,
		RefreshToken: encrypted,
		Scopes:       grant.Scopes,
		UpdatedAt:    updatedAt,
	})
	if err != nil {
		return fmt.Errorf("writing grant: %w", err)
	}
	return nil
}

// GetRefreshToken retrieves and decrypts a user's grant
func (s *FirestoreStore) GetRefreshToken(ctx context.Context, userID string) (*StoredGrant, error) {
	snap, err := s.client.Collection(s.grantsCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("reading grant: %w", err)
	}

	var doc grantDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding grant: %w", err)
	}

	refreshToken, err := s.encryptor.Decrypt(doc.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting refresh token: %w", err)
	}

	return &StoredGrant{
		RefreshToken: refreshToken,
		Scopes:       doc.Scopes,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

// DeleteRefreshToken removes a user's grant
func (s *FirestoreStore) DeleteRefreshToken(ctx context.Context, userID string) error {
	_, err := s.client.Collection(s.grantsCollection).Doc(userID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting grant: %w", err)
	}
	return nil
}

// ConsumeState claims a state value. Create fails when the document
// already exists, which makes the claim atomic across instances.
func (s *FirestoreStore) ConsumeState(ctx context.Context, state string, ttl time.Duration) error {
	if state == "" {
		return fmt.Errorf("state cannot be empty")
	}

	now := s.now()
	docID := stateDocID(state)

	_, err := s.client.Collection(s.statesCollection).Doc(docID).Create(ctx, usedStateDoc{
		ConsumedAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrStateAlreadyUsed
		}
		return fmt.Errorf("claiming state: %w", err)
	}
	return nil
}

// stateDocID hashes the state value into a Firestore-safe document id.
// Storing the hash also keeps raw state material out of the database.
func stateDocID(state string) string {
	h := sha256.Sum256([]byte(state))
	return hex.EncodeToString(h[:])
}

// SaveVerifier stashes an encrypted code verifier under its state value.
// Like the refresh tokens, the plaintext never reaches the wire.
func (s *FirestoreStore) SaveVerifier(ctx context.Context, state, verifier string, ttl time.Duration) error {
	if state == "" {
		return fmt.Errorf("state cannot be empty")
	}
	if verifier == "" {
		return fmt.Errorf("verifier cannot be empty")
	}

	encrypted, err := s.encryptor.Encrypt(verifier)
	if err != nil {
		return fmt.Errorf("encrypting verifier: %w", err)
	}

	_, err = s.client.Collection(s.verifiersCollection).Doc(stateDocID(state)).Set(ctx, verifierDoc{
		Verifier:  encrypted,
		ExpiresAt: s.now().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("writing verifier: %w", err)
	}
	return nil
}

// ClaimVerifier reads and deletes the stashed verifier in a transaction,
// so the claim is single-use across instances.
func (s *FirestoreStore) ClaimVerifier(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("state cannot be empty")
	}

	ref := s.client.Collection(s.verifiersCollection).Doc(stateDocID(state))

	var encrypted string
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrVerifierNotFound
			}
			return err
		}

		var doc verifierDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decoding verifier: %w", err)
		}
		if !s.now().Before(doc.ExpiresAt) {
			if err := tx.Delete(ref); err != nil {
				return err
			}
			return ErrVerifierNotFound
		}

		encrypted = doc.Verifier
		return tx.Delete(ref)
	})
	if err != nil {
		if errors.Is(err, ErrVerifierNotFound) {
			return "", ErrVerifierNotFound
		}
		return "", fmt.Errorf("claiming verifier: %w", err)
	}

	verifier, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypting verifier: %w", err)
	}
	return verifier, nil
}

// CleanupExpiredStates drops used-state and stashed-verifier documents
// past their TTL
func (s *FirestoreStore) CleanupExpiredStates(ctx context.Context) (int, error) {
	removed, err := s.deleteExpired(ctx, s.statesCollection)
	if err != nil {
		return removed, err
	}

	verifiersRemoved, err := s.deleteExpired(ctx, s.verifiersCollection)
	removed += verifiersRemoved
	return removed, err
}

func (s *FirestoreStore) deleteExpired(ctx context.Context, collection string) (int, error) {
	iter := s.client.Collection(collection).
		Where("expires_at", "<", s.now()).
		Documents(ctx)
	defer iter.Stop()

	removed := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("listing expired docs in %s: %w", collection, err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			log.LogWarnWithFields("storage", "Failed to delete expired doc", map[string]any{
				"collection": collection,
				"doc":        snap.Ref.ID,
				"error":      err.Error(),
			})
			continue
		}
		removed++
	}
	return removed, nil
}

// UpsertUser creates or refreshes a user record
func (s *FirestoreStore) UpsertUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}

	now := s.now()
	ref := s.client.Collection(s.usersCollection).Doc(userID)

	snap, err := ref.Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("reading user: %w", err)
	}

	doc := userDoc{UserID: userID, FirstSeen: now, LastSeen: now, Connected: true}
	if err == nil {
		var existing userDoc
		if decodeErr := snap.DataTo(&existing); decodeErr == nil && !existing.FirstSeen.IsZero() {
			doc.FirstSeen = existing.FirstSeen
		}
	}

	if _, err := ref.Set(ctx, doc); err != nil {
		return fmt.Errorf("writing user: %w", err)
	}
	return nil
}

// GetAllUsers returns all tracked users
func (s *FirestoreStore) GetAllUsers(ctx context.Context) ([]UserRecord, error) {
	iter := s.client.Collection(s.usersCollection).Documents(ctx)
	defer iter.Stop()

	var users []UserRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}

		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			log.LogWarnWithFields("storage", "Skipping undecodable user doc", map[string]any{
				"doc":   snap.Ref.ID,
				"error": err.Error(),
			})
			continue
		}
		users = append(users, UserRecord{
			UserID:    doc.UserID,
			FirstSeen: doc.FirstSeen,
			LastSeen:  doc.LastSeen,
			Connected: doc.Connected,
		})
	}
	return users, nil
}
