package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// Parse directly into the typed Config struct. The custom UnmarshalJSON
	// methods resolve env references immediately.
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig checks that secret fields use env references before
// environment resolution happens, so plaintext secrets in config files are
// rejected even when the referenced variables are set.
func validateRawConfig(rawConfig map[string]any) error {
	server, ok := rawConfig["server"].(map[string]any)
	if !ok {
		return fmt.Errorf("server section is required")
	}

	auth, ok := server["auth"].(map[string]any)
	if !ok {
		return nil // caught later by ValidateConfig
	}

	for _, field := range []string{"clientSecret", "encryptionKey"} {
		value, exists := auth[field]
		if !exists {
			continue
		}
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s must use environment variable reference for security", field)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", field)
			}
		}
	}

	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if !strings.HasPrefix(config.Server.BaseURL, "http://") && !strings.HasPrefix(config.Server.BaseURL, "https://") {
		return fmt.Errorf("server.baseURL must be an absolute URL")
	}
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	auth := config.Server.Auth
	if auth == nil {
		return fmt.Errorf("server.auth is required")
	}
	if auth.ClientID == "" || auth.ClientSecret == "" {
		return fmt.Errorf("clientId and clientSecret are required")
	}
	if auth.RedirectURI == "" {
		return fmt.Errorf("redirectUri is required")
	}

	switch auth.Storage {
	case "memory":
	case "firestore":
		if auth.GCPProject == "" {
			return fmt.Errorf("gcpProject is required for firestore storage")
		}
		if len(auth.EncryptionKey) == 0 {
			return fmt.Errorf("encryptionKey is required for firestore storage")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", auth.Storage)
	}

	if rl := config.Server.RateLimit; rl != nil && rl.RequestsPerMinute < 0 {
		return fmt.Errorf("rateLimit.requestsPerMinute must not be negative")
	}

	if admin := config.Server.Admin; admin != nil && admin.Enabled && admin.TokenHash == "" {
		return fmt.Errorf("admin.tokenHash is required when admin is enabled")
	}

	return nil
}
