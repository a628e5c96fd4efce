package oauth

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/drivemind-app/drivemind/internal/config"
	"github.com/drivemind-app/drivemind/internal/crypto"
	"github.com/drivemind-app/drivemind/internal/log"
	"github.com/drivemind-app/drivemind/internal/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ExchangeTimeout bounds the single token-endpoint round trip. On
// timeout the failure classifies as network_error rather than hanging
// the HTTP response.
const ExchangeTimeout = 30 * time.Second

// TokenSet is the result of a successful code exchange
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiryDate   time.Time
	Scopes       []string
}

// BeginResult is returned from Begin. CodeVerifier stays with the
// immediate caller; HTTP responses must never include it.
type BeginResult struct {
	URL           string
	State         string
	CodeChallenge string
	CodeVerifier  string
}

// CallbackParams are the inputs to callback validation, whether they
// arrived as provider-redirect query parameters or a client-forwarded
// JSON body. Both paths converge on the same transition rules.
type CallbackParams struct {
	Code         string
	State        string
	Error        string
	CodeVerifier string
}

// Grant is a validated callback, ready for token exchange
type Grant struct {
	Code           string
	CodeVerifier   string
	UserID         string
	FreshnessKnown bool
}

// Flow implements the authorization-code flow against Google:
// begin -> redirect -> callback -> exchange.
type Flow struct {
	cfg      config.DriveAuthConfig
	states   storage.StateStore
	endpoint oauth2.Endpoint
	timeout  time.Duration
	now      func() time.Time
}

// NewFlow creates the flow. Missing client credentials fail here rather
// than producing an incomplete consent URL later.
func NewFlow(cfg config.DriveAuthConfig, states storage.StateStore) (*Flow, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, NewFlowError(ErrCodeConfigIncomplete, http.StatusInternalServerError,
			"OAuth client credentials are not configured", nil)
	}

	// Custom endpoints for integration tests
	endpoint := google.Endpoint
	if authURL := os.Getenv("DRIVE_OAUTH_AUTH_URL"); authURL != "" {
		endpoint.AuthURL = authURL
	}
	if tokenURL := os.Getenv("DRIVE_OAUTH_TOKEN_URL"); tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}

	return &Flow{
		cfg:      cfg,
		states:   states,
		endpoint: endpoint,
		timeout:  ExchangeTimeout,
		now:      time.Now,
	}, nil
}

func (f *Flow) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: string(f.cfg.ClientSecret),
		RedirectURL:  f.cfg.RedirectURI,
		Scopes:       f.cfg.Scopes,
		Endpoint:     f.endpoint,
	}
}

// Begin generates a PKCE pair and state value and composes the consent
// URL. prompt=consent is deliberate: Google only returns a refresh token
// on first consent unless re-consent is forced.
func (f *Flow) Begin(userID string) (*BeginResult, error) {
	verifier, err := crypto.GenerateCodeVerifier()
	if err != nil {
		return nil, NewFlowError(ErrCodeCallbackFailed, http.StatusInternalServerError,
			"secure random source unavailable", err)
	}
	challenge := crypto.GenerateCodeChallenge(verifier)

	state, err := NewState(userID, f.now())
	if err != nil {
		return nil, NewFlowError(ErrCodeCallbackFailed, http.StatusInternalServerError,
			"secure random source unavailable", err)
	}
	encodedState := state.Encode()

	authURL := f.oauth2Config().AuthCodeURL(encodedState,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", crypto.CodeChallengeMethod),
	)

	log.LogInfoWithFields("oauth", "Authorization flow started", map[string]any{
		"user":      redactUserID(userID),
		"anonymous": userID == "",
	})

	return &BeginResult{
		URL:           authURL,
		State:         encodedState,
		CodeChallenge: challenge,
		CodeVerifier:  verifier,
	}, nil
}

// ValidateCallback runs the callback transition rules in precedence
// order, before any network call:
//
//	provider error > missing code > missing state > malformed > expired > valid
//
// A valid state is then consumed so the same callback cannot be
// processed twice, even within the freshness window.
func (f *Flow) ValidateCallback(ctx context.Context, p CallbackParams) (*Grant, error) {
	if p.Error != "" {
		log.LogWarnWithFields("oauth", "Provider returned error on callback", map[string]any{
			"provider_error": p.Error,
		})
		return nil, ProviderError(p.Error)
	}

	if p.Code == "" {
		return nil, NewFlowError(ErrCodeNoAuthCode, http.StatusBadRequest,
			"callback is missing the authorization code", nil)
	}

	if p.State == "" {
		// Missing state on a callback that carries a code is a possible
		// CSRF attempt; logged at elevated severity.
		log.LogErrorWithFields("oauth", "Callback missing state parameter, possible CSRF", nil)
		return nil, NewFlowError(ErrCodeMissingState, http.StatusBadRequest,
			"callback is missing the state parameter", nil)
	}

	state, err := DecodeState(p.State)
	if err != nil {
		log.LogErrorWithFields("oauth", "Undecodable state parameter, possible CSRF", nil)
		return nil, NewFlowError(ErrCodeInvalidState, http.StatusBadRequest,
			"state parameter is malformed", err)
	}

	if err := state.CheckFreshness(f.cfg.StateTTL, f.now()); err != nil {
		return nil, NewFlowError(ErrCodeExpiredState, http.StatusBadRequest,
			"state parameter has expired", err)
	}

	if !state.FreshnessKnown() {
		log.LogWarnWithFields("oauth", "Legacy state without freshness metadata", map[string]any{
			"user": redactUserID(state.UserID),
		})
	}

	if err := f.states.ConsumeState(ctx, p.State, f.cfg.StateTTL); err != nil {
		if errors.Is(err, storage.ErrStateAlreadyUsed) {
			log.LogErrorWithFields("oauth", "Replayed state parameter rejected", map[string]any{
				"user": redactUserID(state.UserID),
			})
			return nil, NewFlowError(ErrCodeExpiredState, http.StatusBadRequest,
				"state parameter was already used", err)
		}
		return nil, NewFlowError(ErrCodeCallbackFailed, http.StatusInternalServerError,
			"could not validate callback", err)
	}

	return &Grant{
		Code:           p.Code,
		CodeVerifier:   p.CodeVerifier,
		UserID:         state.UserID,
		FreshnessKnown: state.FreshnessKnown(),
	}, nil
}

// Exchange swaps the authorization code for tokens. Single round trip,
// no internal retry; retries are the caller's responsibility.
func (f *Flow) Exchange(ctx context.Context, code, codeVerifier string) (*TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	token, err := f.oauth2Config().Exchange(ctx, code, opts...)
	if err != nil {
		return nil, ClassifyExchangeError(err)
	}

	return &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiryDate:   token.Expiry,
		Scopes:       scopesFromToken(token),
	}, nil
}

func scopesFromToken(token *oauth2.Token) []string {
	scope, ok := token.Extra("scope").(string)
	if !ok || scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

// redactUserID keeps full user ids out of logs
func redactUserID(userID string) string {
	if userID == "" {
		return ""
	}
	if len(userID) <= 8 {
		return userID[:1] + "***"
	}
	return userID[:4] + "***"
}
