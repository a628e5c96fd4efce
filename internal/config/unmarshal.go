package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// resolveValue parses a JSON value that is either a plain string or an
// {"$env": "VAR_NAME"} reference. The explicit object syntax keeps secrets
// out of config files and avoids accidental shell expansion of $VAR.
func resolveValue(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or {\"$env\": ...} reference")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference object, expected {\"$env\": ...}")
	}

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	return value, nil
}

// UnmarshalJSON implements custom unmarshaling for DriveAuthConfig,
// resolving env references at load time.
func (a *DriveAuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		ClientID            json.RawMessage `json:"clientId"`
		ClientSecret        json.RawMessage `json:"clientSecret"`
		RedirectURI         string          `json:"redirectUri"`
		Scopes              []string        `json:"scopes,omitempty"`
		EncryptionKey       json.RawMessage `json:"encryptionKey,omitempty"`
		StateTTL            string          `json:"stateTtl,omitempty"`
		AccessCookieTTL     string          `json:"accessCookieTtl,omitempty"`
		RefreshCookieTTL    string          `json:"refreshCookieTtl,omitempty"`
		Storage             string          `json:"storage,omitempty"`
		GCPProject          string          `json:"gcpProject,omitempty"`
		FirestoreDatabase   string          `json:"firestoreDatabase,omitempty"`
		FirestoreCollection string          `json:"firestoreCollection,omitempty"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	clientID, err := resolveValue(raw.ClientID)
	if err != nil {
		return fmt.Errorf("parsing clientId: %w", err)
	}
	clientSecret, err := resolveValue(raw.ClientSecret)
	if err != nil {
		return fmt.Errorf("parsing clientSecret: %w", err)
	}
	encryptionKey, err := resolveValue(raw.EncryptionKey)
	if err != nil {
		return fmt.Errorf("parsing encryptionKey: %w", err)
	}

	a.ClientID = clientID
	a.ClientSecret = Secret(clientSecret)
	a.EncryptionKey = Secret(encryptionKey)
	a.RedirectURI = raw.RedirectURI
	a.Scopes = raw.Scopes
	a.Storage = raw.Storage
	a.GCPProject = raw.GCPProject
	a.FirestoreDatabase = raw.FirestoreDatabase
	a.FirestoreCollection = raw.FirestoreCollection

	a.StateTTL, err = parseDuration(raw.StateTTL, DefaultStateTTL)
	if err != nil {
		return fmt.Errorf("parsing stateTtl: %w", err)
	}
	a.AccessCookieTTL, err = parseDuration(raw.AccessCookieTTL, DefaultAccessCookieTTL)
	if err != nil {
		return fmt.Errorf("parsing accessCookieTtl: %w", err)
	}
	a.RefreshCookieTTL, err = parseDuration(raw.RefreshCookieTTL, DefaultRefreshCookieTTL)
	if err != nil {
		return fmt.Errorf("parsing refreshCookieTtl: %w", err)
	}

	if len(a.Scopes) == 0 {
		a.Scopes = DriveScopes
	}
	if a.Storage == "" {
		a.Storage = "memory"
	}

	return nil
}

// UnmarshalJSON implements custom unmarshaling for AdminConfig
func (c *AdminConfig) UnmarshalJSON(data []byte) error {
	type rawAdmin struct {
		Enabled   bool            `json:"enabled"`
		TokenHash json.RawMessage `json:"tokenHash"`
	}

	var raw rawAdmin
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	hash, err := resolveValue(raw.TokenHash)
	if err != nil {
		return fmt.Errorf("parsing tokenHash: %w", err)
	}

	c.Enabled = raw.Enabled
	c.TokenHash = Secret(hash)
	return nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
