package oauth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/drivemind-app/drivemind/internal/crypto"
)

// ErrStateMalformed means the state parameter decoded as neither the
// structured encoding nor a plausible legacy bare user id. Callers treat
// this as a CSRF signal and hard-reject before any token exchange.
var ErrStateMalformed = errors.New("malformed state parameter")

// ErrStateExpired means a structured state's age exceeded the freshness window.
var ErrStateExpired = errors.New("state parameter expired")

// StateKind tags the two encodings that coexist for compatibility.
type StateKind int

const (
	// StateStructured carries {userId?, issuedAt, nonce} as base64 JSON.
	StateStructured StateKind = iota
	// StateLegacy is a bare user id with no freshness metadata. Decoding
	// one means freshness cannot be checked; callers proceed with caution.
	StateLegacy
)

// State is the decoded form of the OAuth state parameter.
type State struct {
	Kind     StateKind
	UserID   string
	IssuedAt time.Time
	Nonce    string
}

// statePayload is the wire form of a structured state. Field names match
// the values historically emitted by the web client, so states issued by
// either side round-trip.
type statePayload struct {
	UserID    string `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// NewState creates a fresh structured state for an authorization attempt.
// An empty userID is allowed; anonymous flows carry only timestamp and nonce.
func NewState(userID string, now time.Time) (State, error) {
	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return State{}, err
	}
	return State{
		Kind:     StateStructured,
		UserID:   userID,
		IssuedAt: now,
		Nonce:    nonce,
	}, nil
}

// Encode produces the opaque state string sent to the provider.
func (s State) Encode() string {
	if s.Kind == StateLegacy {
		return s.UserID
	}
	payload := statePayload{
		UserID:    s.UserID,
		Timestamp: s.IssuedAt.UnixMilli(),
		Nonce:     s.Nonce,
	}
	data, _ := json.Marshal(payload)
	return base64.StdEncoding.EncodeToString(data)
}

// legacyStateCharset is the conservative alphabet accepted for bare
// legacy user ids. Anything outside it cannot be a user id we issued.
func isLegacyState(raw string) bool {
	if raw == "" || len(raw) > 128 {
		return false
	}
	for _, c := range raw {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("-._~", c):
		default:
			return false
		}
	}
	return true
}

// DecodeState attempts the structured decoding first and falls back to
// the legacy bare-user-id form. A string that fits neither returns
// ErrStateMalformed.
func DecodeState(raw string) (State, error) {
	if data, err := base64.StdEncoding.DecodeString(raw); err == nil {
		var payload statePayload
		if jsonErr := json.Unmarshal(data, &payload); jsonErr == nil && payload.Timestamp > 0 && payload.Nonce != "" {
			return State{
				Kind:     StateStructured,
				UserID:   payload.UserID,
				IssuedAt: time.UnixMilli(payload.Timestamp),
				Nonce:    payload.Nonce,
			}, nil
		}
	}

	if isLegacyState(raw) {
		return State{Kind: StateLegacy, UserID: raw}, nil
	}

	return State{}, ErrStateMalformed
}

// FreshnessKnown reports whether the state carries an issue timestamp.
// Legacy states have no metadata to check.
func (s State) FreshnessKnown() bool {
	return s.Kind == StateStructured
}

// CheckFreshness returns ErrStateExpired when a structured state is older
// than the window. Legacy states pass; their freshness is unknown by
// construction and the single-use store is the only replay defense left.
func (s State) CheckFreshness(window time.Duration, now time.Time) error {
	if !s.FreshnessKnown() {
		return nil
	}
	age := now.Sub(s.IssuedAt)
	if age > window || age < -time.Minute {
		return ErrStateExpired
	}
	return nil
}
