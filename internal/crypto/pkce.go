package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// unreservedCharset is the RFC 7636 code-verifier alphabet.
const unreservedCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// CodeVerifierLength is the verifier length used for every authorization
// attempt. RFC 7636 allows 43-128; we always generate the maximum.
const CodeVerifierLength = 128

// CodeChallengeMethod is the only challenge method this service issues.
const CodeChallengeMethod = "S256"

// GenerateCodeVerifier returns a fresh high-entropy PKCE code verifier.
// Failure of the system random source is fatal to the request; there is
// no fallback to non-secure randomness.
func GenerateCodeVerifier() (string, error) {
	return randomString(CodeVerifierLength, unreservedCharset)
}

// GenerateCodeChallenge computes the S256 challenge for a verifier:
// base64url(SHA-256(verifier)) with no padding.
func GenerateCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// VerifyPKCE re-derives the challenge from a verifier and compares it
// to the challenge sent to the provider.
func VerifyPKCE(verifier, challenge string) bool {
	computed := GenerateCodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
