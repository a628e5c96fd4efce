package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drivemind-app/drivemind/internal/config"
	"github.com/drivemind-app/drivemind/internal/cookie"
	"github.com/drivemind-app/drivemind/internal/oauth"
	"github.com/drivemind-app/drivemind/internal/session"
	"github.com/drivemind-app/drivemind/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://drivemind.example.com"

func testHandlersConfig() config.DriveAuthConfig {
	return config.DriveAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  testBaseURL + "/api/auth/drive/callback",
		Scopes:       []string{"https://www.googleapis.com/auth/drive.readonly"},
		StateTTL:     5 * time.Minute,
	}
}

func newTestAuthHandlers(t *testing.T, store storage.Store) *AuthHandlers {
	t.Helper()

	flow, err := oauth.NewFlow(testHandlersConfig(), store)
	require.NoError(t, err)

	sessions := session.NewMaterializer(store, time.Hour, 720*time.Hour)
	return NewAuthHandlers(flow, sessions, store, testBaseURL, 5*time.Minute)
}

func tokenEndpoint(t *testing.T, body string, status int) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	t.Setenv("DRIVE_OAUTH_TOKEN_URL", server.URL)
}

func TestBeginHandler(t *testing.T) {
	h := newTestAuthHandlers(t, storage.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/drive/begin", strings.NewReader(`{"userId":"u1"}`))
	rec := httptest.NewRecorder()
	h.BeginHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"url"`)
	assert.Contains(t, body, `"state"`)
	assert.Contains(t, body, `"codeChallenge"`)
	assert.NotContains(t, body, "codeVerifier")
	assert.NotContains(t, body, "client-secret")
}

func TestBeginHandlerWithoutBody(t *testing.T) {
	h := newTestAuthHandlers(t, storage.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/drive/begin", nil)
	rec := httptest.NewRecorder()
	h.BeginHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBeginHandlerRejectsGet(t *testing.T) {
	h := newTestAuthHandlers(t, storage.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/drive/begin", nil)
	rec := httptest.NewRecorder()
	h.BeginHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// beginState runs the begin handler and returns the state it issued
func beginState(t *testing.T, h *AuthHandlers, userID string) string {
	t.Helper()

	body := `{"userId":"` + userID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/drive/begin", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.BeginHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp beginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.State
}

func TestCallbackRedirectSuccess(t *testing.T) {
	tokenEndpoint(t, `{
		"access_token": "ya29.access",
		"refresh_token": "1//refresh",
		"token_type": "Bearer",
		"expires_in": 3600,
		"scope": "https://www.googleapis.com/auth/drive.readonly"
	}`, http.StatusOK)

	store := storage.NewMemoryStore()
	h := newTestAuthHandlers(t, store)
	state := beginState(t, h, "u1")

	target := "/api/auth/drive/callback?code=auth-code&state=" + url.QueryEscape(state)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.CallbackHandler(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testBaseURL+"/ai?drive_connected=true", rec.Header().Get("Location"))

	// Cookies delivered
	cookies := rec.Result().Cookies()
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, cookie.AccessTokenCookie)
	assert.Contains(t, names, cookie.RefreshTokenCookie)

	// Grant persisted and user recorded
	grant, err := store.GetRefreshToken(req.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "1//refresh", grant.RefreshToken)

	users, err := store.GetAllUsers(req.Context())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].UserID)
}

func TestCallbackRedirectProviderError(t *testing.T) {
	h := newTestAuthHandlers(t, storage.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/drive/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()
	h.CallbackHandler(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testBaseURL+"/ai?error=oauth_access_denied", rec.Header().Get("Location"))
}

func TestCallbackRedirectMissingCode(t *testing.T) {
	h := newTestAuthHandlers(t, storage.NewMemoryStore())
	state := beginState(t, h, "u1")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/drive/callback?state="+url.QueryEscape(state), nil)
	rec := httptest.NewRecorder()
	h.CallbackHandler(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testBaseURL+"/ai?error=no_auth_code", rec.Header().Get("Location"))
}

func TestCallbackRedirectReplayedState(t *testing.T) {
	tokenEndpoint(t, `{"access_token": "ya29.access", "token_type": "Bearer", "expires_in": 3600}`, http.StatusOK)

	h := newTestAuthHandlers(t, storage.NewMemoryStore())
	state := beginState(t, h, "u1")
	target := "/api/auth/drive/callback?code=auth-code&state=" + url.QueryEscape(state)

	rec := httptest.NewRecorder()
	h.CallbackHandler(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, testBaseURL+"/ai?drive_connected=true", rec.Header().Get("Location"))

	// Same callback again is rejected
	rec = httptest.NewRecorder()
	h.CallbackHandler(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testBaseURL+"/ai?error=expired_state", rec.Header().Get("Location"))
}

// Begin and callback may be served by different instances behind a load
// balancer; the verifier stash lives in the shared store, not in the
// handler, so the exchange still presents the verifier.
func TestCallbackRedirectAcrossInstances(t *testing.T) {
	var mu sync.Mutex
	var sentVerifier string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		sentVerifier = r.PostForm.Get("code_verifier")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "ya29.access",
			"refresh_token": "1//refresh",
			"token_type": "Bearer",
			"expires_in": 3600
		}`))
	}))
	t.Cleanup(server.Close)
	t.Setenv("DRIVE_OAUTH_TOKEN_URL", server.URL)

	store := storage.NewMemoryStore()
	beginInstance := newTestAuthHandlers(t, store)
	callbackInstance := newTestAuthHandlers(t, store)

	state := beginState(t, beginInstance, "u1")

	target := "/api/auth/drive/callback?code=auth-code&state=" + url.QueryEscape(state)
	rec := httptest.NewRecorder()
	callbackInstance.CallbackHandler(rec, httptest.NewRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testBaseURL+"/ai?drive_connected=true", rec.Header().Get("Location"))

	// The exchange carried the verifier stashed by the other instance
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, sentVerifier, 128)
}

func TestCallbackJSONSuccess(t *testing.T) {
	tokenEndpoint(t, `{
		"access_token": "ya29.access",
		"refresh_token": "1//refresh",
		"token_type": "Bearer",
		"expires_in": 3600
	}`, http.StatusOK)

	h := newTestAuthHandlers(t, storage.NewMemoryStore())
	state := beginState(t, h, "u1")

	body := `{"code":"auth-code","state":"` + state + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/drive/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CallbackHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestCallbackJSONInvalidState(t *testing.T) {
	h := newTestAuthHandlers(t, storage.NewMemoryStore())

	body := `{"code":"auth-code","state":"not a valid state!!"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/drive/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CallbackHandler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state")
}

func TestCallbackJSONVerifierMismatch(t *testing.T) {
	tokenEndpoint(t, `{"access_token": "ya29.access", "token_type": "Bearer", "expires_in": 3600}`, http.StatusOK)

	h := newTestAuthHandlers(t, storage.NewMemoryStore())
	state := beginState(t, h, "u1")

	// A forwarded verifier that does not match the challenge from begin
	// is rejected before any token exchange
	body := `{"code":"auth-code","state":"` + state + `","codeVerifier":"` + strings.Repeat("a", 43) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/drive/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CallbackHandler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_authorization_code")
}

func TestCallbackJSONInvalidGrant(t *testing.T) {
	tokenEndpoint(t, `{"error": "invalid_grant"}`, http.StatusBadRequest)

	h := newTestAuthHandlers(t, storage.NewMemoryStore())
	state := beginState(t, h, "u1")

	body := `{"code":"reused-code","state":"` + state + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/drive/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CallbackHandler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_authorization_code")
}

func TestStatusHandler(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newTestAuthHandlers(t, store)

	// Not connected
	req := httptest.NewRequest(http.MethodGet, "/api/auth/drive/status?userId=u1", nil)
	rec := httptest.NewRecorder()
	h.StatusHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connected":false`)

	// Connected
	require.NoError(t, store.SaveRefreshToken(req.Context(), "u1", &storage.StoredGrant{
		RefreshToken: "1//refresh",
		Scopes:       []string{"https://www.googleapis.com/auth/drive.readonly"},
		UpdatedAt:    time.Now(),
	}))
	rec = httptest.NewRecorder()
	h.StatusHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connected":true`)
	// The refresh token itself never appears in responses
	assert.NotContains(t, rec.Body.String(), "1//refresh")
}

func TestStatusHandlerAnonymous(t *testing.T) {
	h := newTestAuthHandlers(t, storage.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/drive/status", nil)
	rec := httptest.NewRecorder()
	h.StatusHandler(rec, req)
	assert.Contains(t, rec.Body.String(), `"connected":false`)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/drive/status", nil)
	req.AddCookie(&http.Cookie{Name: cookie.AccessTokenCookie, Value: "ya29.access"})
	rec = httptest.NewRecorder()
	h.StatusHandler(rec, req)
	assert.Contains(t, rec.Body.String(), `"connected":true`)
}

func TestDisconnectHandler(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newTestAuthHandlers(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/drive/disconnect", strings.NewReader(`{"userId":"u1"}`))
	require.NoError(t, store.SaveRefreshToken(req.Context(), "u1", &storage.StoredGrant{RefreshToken: "r"}))

	rec := httptest.NewRecorder()
	h.DisconnectHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := store.GetRefreshToken(req.Context(), "u1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	// Cookies cleared
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge)
	}
}
