package config

import (
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// DriveAuthConfig holds the Google Drive OAuth configuration with resolved values
type DriveAuthConfig struct {
	ClientID      string   `json:"clientId"`
	ClientSecret  Secret   `json:"clientSecret"`
	RedirectURI   string   `json:"redirectUri"`
	Scopes        []string `json:"scopes,omitempty"`
	EncryptionKey Secret   `json:"encryptionKey"`

	// StateTTL is the freshness window for the OAuth state parameter.
	StateTTL time.Duration `json:"stateTtl"`

	// Cookie lifetimes for the issued access and refresh tokens.
	AccessCookieTTL  time.Duration `json:"accessCookieTtl"`
	RefreshCookieTTL time.Duration `json:"refreshCookieTtl"`

	Storage             string `json:"storage"` // "memory" or "firestore"
	GCPProject          string `json:"gcpProject,omitempty"`
	FirestoreDatabase   string `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string `json:"firestoreCollection,omitempty"`
}

// RateLimitConfig bounds requests to the begin endpoint per client IP
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
}

// AdminConfig guards the admin endpoints with a bearer token.
// TokenHash is the bcrypt hash of the token, never the token itself.
type AdminConfig struct {
	Enabled   bool   `json:"enabled"`
	TokenHash Secret `json:"tokenHash"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	BaseURL        string           `json:"baseURL"`
	Addr           string           `json:"addr"`
	AllowedOrigins []string         `json:"allowedOrigins,omitempty"`
	Auth           *DriveAuthConfig `json:"auth"`
	RateLimit      *RateLimitConfig `json:"rateLimit,omitempty"`
	Admin          *AdminConfig     `json:"admin,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Server ServerConfig `json:"server"`
}

// Defaults applied when the config file omits optional durations.
const (
	DefaultStateTTL         = 5 * time.Minute
	DefaultAccessCookieTTL  = time.Hour
	DefaultRefreshCookieTTL = 30 * 24 * time.Hour
	DefaultRequestsPerMin   = 50
)

// DriveScopes are the Drive permissions requested when the config does
// not override them.
var DriveScopes = []string{
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/drive.metadata.readonly",
}
