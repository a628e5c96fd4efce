package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/drivemind-app/drivemind/internal/cookie"
	"github.com/drivemind-app/drivemind/internal/crypto"
	jsonwriter "github.com/drivemind-app/drivemind/internal/json"
	"github.com/drivemind-app/drivemind/internal/log"
	"github.com/drivemind-app/drivemind/internal/oauth"
	"github.com/drivemind-app/drivemind/internal/session"
	"github.com/drivemind-app/drivemind/internal/storage"
)

// AuthHandlers provides the Drive OAuth HTTP handlers. Code verifiers
// are stashed in the store between begin and callback, keyed by the
// encoded state value, so the two requests can land on different
// instances.
type AuthHandlers struct {
	flow     *oauth.Flow
	sessions *session.Materializer
	store    storage.Store
	baseURL  string
	stateTTL time.Duration
}

func NewAuthHandlers(flow *oauth.Flow, sessions *session.Materializer, store storage.Store, baseURL string, stateTTL time.Duration) *AuthHandlers {
	return &AuthHandlers{
		flow:     flow,
		sessions: sessions,
		store:    store,
		baseURL:  baseURL,
		stateTTL: stateTTL,
	}
}

type beginRequest struct {
	UserID string `json:"userId"`
}

// beginResponse deliberately excludes the code verifier; it never
// leaves the server.
type beginResponse struct {
	URL           string `json:"url"`
	State         string `json:"state"`
	CodeChallenge string `json:"codeChallenge"`
}

type callbackRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	Error        string `json:"error"`
	CodeVerifier string `json:"codeVerifier"`
}

type callbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statusResponse struct {
	Connected bool       `json:"connected"`
	Scopes    []string   `json:"scopes,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// BeginHandler starts the authorization flow and returns the consent URL
func (h *AuthHandlers) BeginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST")
		return
	}

	var req beginRequest
	if r.Body != nil {
		// Body is optional; anonymous connects send none
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.flow.Begin(req.UserID)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}

	// Without the stash the exchange cannot present the verifier, so a
	// begin that fails to persist it would only defer the failure.
	if err := h.store.SaveVerifier(r.Context(), result.State, result.CodeVerifier, h.stateTTL); err != nil {
		log.LogErrorWithFields("oauth", "Failed to stash code verifier", map[string]any{
			"error": err.Error(),
		})
		h.writeFlowError(w, oauth.NewFlowError(oauth.ErrCodeCallbackFailed, http.StatusInternalServerError,
			"could not start authorization", err))
		return
	}

	_ = jsonwriter.Write(w, beginResponse{
		URL:           result.URL,
		State:         result.State,
		CodeChallenge: result.CodeChallenge,
	})
}

// CallbackHandler completes the flow. GET serves the provider redirect
// and answers with a browser redirect; POST serves clients that caught
// the callback themselves and answers with JSON.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.callbackRedirect(w, r)
	case http.MethodPost:
		h.callbackJSON(w, r)
	default:
		jsonwriter.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET or POST")
	}
}

func (h *AuthHandlers) callbackRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stashed := h.claimVerifier(r.Context(), q.Get("state"))
	params := oauth.CallbackParams{
		Code:         q.Get("code"),
		State:        q.Get("state"),
		Error:        q.Get("error"),
		CodeVerifier: stashed,
	}

	if err := h.completeCallback(w, r, params, stashed); err != nil {
		h.redirectToApp(w, r, url.Values{"error": {string(oauth.AsFlowError(err).Code)}})
		return
	}
	h.redirectToApp(w, r, url.Values{"drive_connected": {"true"}})
}

func (h *AuthHandlers) callbackJSON(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid JSON body")
		return
	}

	stashed := h.claimVerifier(r.Context(), req.State)
	verifier := req.CodeVerifier
	if verifier == "" {
		verifier = stashed
	}

	params := oauth.CallbackParams{
		Code:         req.Code,
		State:        req.State,
		Error:        req.Error,
		CodeVerifier: verifier,
	}

	if err := h.completeCallback(w, r, params, stashed); err != nil {
		h.writeFlowError(w, err)
		return
	}

	_ = jsonwriter.Write(w, callbackResponse{
		Success: true,
		Message: "Google Drive connected",
	})
}

// completeCallback validates, exchanges, and materializes the session.
// Cookies must be written before the caller writes its own response.
func (h *AuthHandlers) completeCallback(w http.ResponseWriter, r *http.Request, params oauth.CallbackParams, stashedVerifier string) error {
	ctx := r.Context()

	grant, err := h.flow.ValidateCallback(ctx, params)
	if err != nil {
		return err
	}

	// A client-forwarded verifier must match the challenge sent at begin;
	// catching a mismatch here spares the provider round trip.
	if stashedVerifier != "" &&
		!crypto.VerifyPKCE(grant.CodeVerifier, crypto.GenerateCodeChallenge(stashedVerifier)) {
		return oauth.NewFlowError(oauth.ErrCodeInvalidAuthCode, http.StatusBadRequest,
			"code verifier does not match this authorization attempt", nil)
	}

	tokens, err := h.flow.Exchange(ctx, grant.Code, grant.CodeVerifier)
	if err != nil {
		return err
	}

	h.sessions.Establish(ctx, w, tokens, grant.UserID)

	if grant.UserID != "" {
		if err := h.store.UpsertUser(ctx, grant.UserID); err != nil {
			log.LogWarnWithFields("oauth", "User record update failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
	return nil
}

// StatusHandler reports whether a user has a Drive connection
func (h *AuthHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET")
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		// Anonymous sessions live entirely in cookies
		_, err := cookie.GetAccessToken(r)
		_ = jsonwriter.Write(w, statusResponse{Connected: err == nil})
		return
	}

	grant, err := h.store.GetRefreshToken(r.Context(), userID)
	if err != nil {
		_ = jsonwriter.Write(w, statusResponse{Connected: false})
		return
	}

	_ = jsonwriter.Write(w, statusResponse{
		Connected: true,
		Scopes:    grant.Scopes,
		UpdatedAt: &grant.UpdatedAt,
	})
}

type disconnectRequest struct {
	UserID string `json:"userId"`
}

// DisconnectHandler clears cookies and deletes any persisted grant
func (h *AuthHandlers) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST")
		return
	}

	var req disconnectRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.sessions.Teardown(r.Context(), w, req.UserID); err != nil {
		log.LogErrorWithFields("oauth", "Disconnect failed", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to disconnect")
		return
	}

	_ = jsonwriter.Write(w, callbackResponse{
		Success: true,
		Message: "Google Drive disconnected",
	})
}

func (h *AuthHandlers) redirectToApp(w http.ResponseWriter, r *http.Request, query url.Values) {
	http.Redirect(w, r, h.baseURL+"/ai?"+query.Encode(), http.StatusFound)
}

func (h *AuthHandlers) writeFlowError(w http.ResponseWriter, err error) {
	fe := oauth.AsFlowError(err)
	jsonwriter.WriteError(w, fe.Status, string(fe.Code), fe.Description)
}

// claimVerifier fetches the stashed verifier for a state, once. A miss
// is not terminal here; the callback may carry its own verifier, and
// exchange failures already classify cleanly.
func (h *AuthHandlers) claimVerifier(ctx context.Context, state string) string {
	if state == "" {
		return ""
	}

	verifier, err := h.store.ClaimVerifier(ctx, state)
	if err != nil {
		if !errors.Is(err, storage.ErrVerifierNotFound) {
			log.LogWarnWithFields("oauth", "Code verifier claim failed", map[string]any{
				"error": err.Error(),
			})
		}
		return ""
	}
	return verifier
}
