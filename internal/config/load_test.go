package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `{
  "server": {
    "baseURL": "https://drivemind.example.com",
    "addr": ":8080",
    "auth": {
      "clientId": {"$env": "GOOGLE_CLIENT_ID"},
      "clientSecret": {"$env": "GOOGLE_CLIENT_SECRET"},
      "redirectUri": "https://drivemind.example.com/api/auth/drive/callback",
      "storage": "memory"
    }
  }
}`

func TestLoad(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "client-id-123")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret-456")

	cfg, err := Load(writeConfigFile(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://drivemind.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "client-id-123", cfg.Server.Auth.ClientID)
	assert.Equal(t, Secret("client-secret-456"), cfg.Server.Auth.ClientSecret)

	// Defaults
	assert.Equal(t, DefaultStateTTL, cfg.Server.Auth.StateTTL)
	assert.Equal(t, DefaultAccessCookieTTL, cfg.Server.Auth.AccessCookieTTL)
	assert.Equal(t, DefaultRefreshCookieTTL, cfg.Server.Auth.RefreshCookieTTL)
	assert.Equal(t, DriveScopes, cfg.Server.Auth.Scopes)
	assert.Equal(t, "memory", cfg.Server.Auth.Storage)
}

func TestLoadCustomDurations(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")

	path := writeConfigFile(t, `{
	  "server": {
	    "baseURL": "https://drivemind.example.com",
	    "addr": ":8080",
	    "auth": {
	      "clientId": {"$env": "GOOGLE_CLIENT_ID"},
	      "clientSecret": {"$env": "GOOGLE_CLIENT_SECRET"},
	      "redirectUri": "https://drivemind.example.com/api/auth/drive/callback",
	      "stateTtl": "2m",
	      "accessCookieTtl": "30m",
	      "refreshCookieTtl": "168h"
	    }
	  }
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Server.Auth.StateTTL)
	assert.Equal(t, 30*time.Minute, cfg.Server.Auth.AccessCookieTTL)
	assert.Equal(t, 168*time.Hour, cfg.Server.Auth.RefreshCookieTTL)
}

func TestLoadRejectsPlaintextSecret(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "id")

	path := writeConfigFile(t, `{
	  "server": {
	    "baseURL": "https://drivemind.example.com",
	    "addr": ":8080",
	    "auth": {
	      "clientId": {"$env": "GOOGLE_CLIENT_ID"},
	      "clientSecret": "plaintext-secret",
	      "redirectUri": "https://drivemind.example.com/api/auth/drive/callback"
	    }
	  }
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clientSecret must use environment variable reference")
}

func TestLoadMissingEnvVar(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "id")
	// GOOGLE_CLIENT_SECRET deliberately unset
	os.Unsetenv("GOOGLE_CLIENT_SECRET")

	_, err := Load(writeConfigFile(t, validConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_CLIENT_SECRET not set")
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		return &Config{Server: ServerConfig{
			BaseURL: "https://drivemind.example.com",
			Addr:    ":8080",
			Auth: &DriveAuthConfig{
				ClientID:     "id",
				ClientSecret: "secret",
				RedirectURI:  "https://drivemind.example.com/cb",
				Storage:      "memory",
			},
		}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing baseURL",
			mutate:  func(c *Config) { c.Server.BaseURL = "" },
			wantErr: "baseURL is required",
		},
		{
			name:    "relative baseURL",
			mutate:  func(c *Config) { c.Server.BaseURL = "drivemind.example.com" },
			wantErr: "absolute URL",
		},
		{
			name:    "missing credentials",
			mutate:  func(c *Config) { c.Server.Auth.ClientSecret = "" },
			wantErr: "clientId and clientSecret are required",
		},
		{
			name:    "missing redirect URI",
			mutate:  func(c *Config) { c.Server.Auth.RedirectURI = "" },
			wantErr: "redirectUri is required",
		},
		{
			name:    "firestore without project",
			mutate:  func(c *Config) { c.Server.Auth.Storage = "firestore" },
			wantErr: "gcpProject is required",
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Server.Auth.Storage = "redis" },
			wantErr: "unsupported storage backend",
		},
		{
			name: "admin enabled without hash",
			mutate: func(c *Config) {
				c.Server.Admin = &AdminConfig{Enabled: true}
			},
			wantErr: "admin.tokenHash is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
