// Package session turns exchanged tokens into a browser session:
// cookies for the client, best-effort refresh token persistence for
// reconnects.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/drivemind-app/drivemind/internal/cookie"
	"github.com/drivemind-app/drivemind/internal/log"
	"github.com/drivemind-app/drivemind/internal/oauth"
	"github.com/drivemind-app/drivemind/internal/storage"
)

// Materializer writes session cookies and persists refresh tokens.
// Cookie delivery is the source of truth for the client; persistence
// failures never fail the flow.
type Materializer struct {
	store      storage.TokenStore
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewMaterializer(store storage.TokenStore, accessTTL, refreshTTL time.Duration) *Materializer {
	return &Materializer{
		store:      store,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Establish sets cookies from the token set and, when both a refresh
// token and a user id are present, persists the refresh token exactly
// once. The user keeps a working session even if persistence fails;
// they lose silent reconnect until the next consent.
func (m *Materializer) Establish(ctx context.Context, w http.ResponseWriter, tokens *oauth.TokenSet, userID string) {
	if tokens.AccessToken != "" {
		cookie.SetAccessToken(w, tokens.AccessToken, m.accessTTL)
	}

	if tokens.RefreshToken == "" {
		log.LogWarnWithFields("session", "No refresh token in exchange response", map[string]any{
			"user": userID != "",
		})
		return
	}
	cookie.SetRefreshToken(w, tokens.RefreshToken, m.refreshTTL)

	if userID == "" {
		// Anonymous connect is a supported path: cookies only, nothing
		// to key persistence on.
		log.LogInfoWithFields("session", "Anonymous session established, skipping persistence", nil)
		return
	}

	err := m.store.SaveRefreshToken(ctx, userID, &storage.StoredGrant{
		RefreshToken: tokens.RefreshToken,
		Scopes:       tokens.Scopes,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		log.LogErrorWithFields("session", "Refresh token persistence failed, session continues on cookies", map[string]any{
			"error": err.Error(),
		})
		return
	}

	log.LogInfoWithFields("session", "Session established", map[string]any{
		"scopes": len(tokens.Scopes),
	})
}

// Teardown clears cookies and removes any persisted grant. Missing
// grants are fine, disconnect is idempotent.
func (m *Materializer) Teardown(ctx context.Context, w http.ResponseWriter, userID string) error {
	cookie.ClearAuth(w)

	if userID == "" {
		return nil
	}
	if err := m.store.DeleteRefreshToken(ctx, userID); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return err
	}
	return nil
}
