package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// ErrorCode is the user-visible error code for a failed flow step.
// Raw provider errors never cross the HTTP boundary; they are converted
// into this taxonomy first.
type ErrorCode string

const (
	ErrCodeConfigIncomplete    ErrorCode = "oauth_config_incomplete"
	ErrCodeNoAuthCode          ErrorCode = "no_auth_code"
	ErrCodeMissingState        ErrorCode = "missing_state"
	ErrCodeExpiredState        ErrorCode = "expired_state"
	ErrCodeInvalidState        ErrorCode = "invalid_state"
	ErrCodeInvalidClient       ErrorCode = "invalid_client_credentials"
	ErrCodeInvalidAuthCode     ErrorCode = "invalid_authorization_code"
	ErrCodeRedirectURIMismatch ErrorCode = "redirect_uri_mismatch"
	ErrCodeNetworkError        ErrorCode = "network_error"
	ErrCodeCallbackFailed      ErrorCode = "oauth_callback_failed"
)

// FlowError carries the user-safe error code, the HTTP status to respond
// with, and the wrapped cause for server-side logging.
type FlowError struct {
	Code        ErrorCode
	Status      int
	Description string
	cause       error
}

func (e *FlowError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return string(e.Code)
}

func (e *FlowError) Unwrap() error {
	return e.cause
}

// NewFlowError creates a FlowError with an optional cause
func NewFlowError(code ErrorCode, status int, description string, cause error) *FlowError {
	return &FlowError{Code: code, Status: status, Description: description, cause: cause}
}

// AsFlowError extracts a *FlowError from an error chain, wrapping
// uncategorized errors as oauth_callback_failed.
func AsFlowError(err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return NewFlowError(ErrCodeCallbackFailed, http.StatusInternalServerError, "authentication failed", err)
}

// ProviderError builds the error for a provider-reported failure on the
// callback (the user declined consent, the provider cancelled, etc.).
// The code is prefixed so callers can distinguish provider-side denials
// from our own validation failures.
func ProviderError(providerCode string) *FlowError {
	return NewFlowError(
		ErrorCode("oauth_"+sanitizeProviderCode(providerCode)),
		http.StatusBadRequest,
		"provider reported an error",
		nil,
	)
}

// sanitizeProviderCode keeps the provider error parameter from smuggling
// arbitrary content into responses and logs.
func sanitizeProviderCode(code string) string {
	var b strings.Builder
	for _, c := range code {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		}
		if b.Len() >= 64 {
			break
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return strings.ToLower(b.String())
}

// ClassifyExchangeError maps a token-endpoint failure to the taxonomy.
// Each class has a distinct user-facing code and HTTP status:
//
//	invalid_client          -> configuration bug, 500
//	invalid_grant           -> code reused or expired, 400
//	redirect_uri_mismatch   -> configuration drift, 500
//	timeouts / dial errors  -> network_error, 502
func ClassifyExchangeError(err error) *FlowError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_client", "unauthorized_client":
			return NewFlowError(ErrCodeInvalidClient, http.StatusInternalServerError, "token endpoint rejected client credentials", err)
		case "invalid_grant":
			return NewFlowError(ErrCodeInvalidAuthCode, http.StatusBadRequest, "authorization code is invalid or expired", err)
		case "redirect_uri_mismatch":
			return NewFlowError(ErrCodeRedirectURIMismatch, http.StatusInternalServerError, "redirect URI does not match registration", err)
		}
	}

	// Some provider responses only surface the RFC 6749 code in the body,
	// which the oauth2 package folds into the error message.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid_client"), strings.Contains(msg, "unauthorized_client"):
		return NewFlowError(ErrCodeInvalidClient, http.StatusInternalServerError, "token endpoint rejected client credentials", err)
	case strings.Contains(msg, "invalid_grant"):
		return NewFlowError(ErrCodeInvalidAuthCode, http.StatusBadRequest, "authorization code is invalid or expired", err)
	case strings.Contains(msg, "redirect_uri_mismatch"):
		return NewFlowError(ErrCodeRedirectURIMismatch, http.StatusInternalServerError, "redirect URI does not match registration", err)
	}

	if isNetworkError(err) {
		return NewFlowError(ErrCodeNetworkError, http.StatusBadGateway, "token endpoint unreachable", err)
	}

	return NewFlowError(ErrCodeCallbackFailed, http.StatusInternalServerError, "token exchange failed", err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
