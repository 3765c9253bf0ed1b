package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Auth methods.
const (
	AuthOAuth2   = "oauth2"   // dropbox: refreshed OAuth2 token persisted in a token file
	AuthToken    = "token"    // dropbox: static access token
	AuthSAS      = "sas"      // azure: container SAS
	AuthIdentity = "identity" // azure: service principal or DefaultAzureCredential
)

// Providers.
const (
	ProviderDropbox = "dropbox"
	ProviderAzure   = "azure"
)

type Config struct {
	Provider    string
	Folder      string // remote sub-path; empty is the account or container root
	HostVersion string
	Auth        AuthConfig

	Dropbox DropboxConfig
	Azure   AzureConfig

	Workers int
}

type AuthConfig struct {
	Method string
}

type DropboxConfig struct {
	AppKey      string
	AppSecret   string
	TokenPath   string
	AccessToken string // only if Auth.Method == token
}

type AzureConfig struct {
	Endpoint  string // optional override, e.g. for Azurite
	Account   string
	Container string
	SASToken  string

	ClientID     string
	ClientSecret string
	TenantID     string
}

// Load reads config from environment variables, applies defaults and validates.
func Load() (Config, error) {
	get := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return def
	}

	parseInt := func(key string, def int) int {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
		return def
	}

	cfg := Config{
		Provider:    strings.ToLower(strings.TrimSpace(get("BACKUP_PROVIDER", ProviderDropbox))),
		Folder:      strings.Trim(strings.TrimSpace(get("BACKUP_FOLDER", "")), "/"),
		HostVersion: strings.TrimSpace(get("HOST_VERSION", "")),
		Auth: AuthConfig{
			Method: strings.ToLower(strings.TrimSpace(get("BACKUP_AUTH_METHOD", ""))),
		},
		Dropbox: DropboxConfig{
			AppKey:      strings.TrimSpace(get("DROPBOX_APP_KEY", "")),
			AppSecret:   strings.TrimSpace(get("DROPBOX_APP_SECRET", "")),
			TokenPath:   strings.TrimSpace(get("DROPBOX_TOKEN_PATH", defaultTokenPath())),
			AccessToken: strings.TrimSpace(get("DROPBOX_ACCESS_TOKEN", "")),
		},
		Azure: AzureConfig{
			Endpoint:     strings.TrimSpace(get("AZURE_BLOB_ENDPOINT", "")),
			Account:      get("AZURE_STORAGE_ACCOUNT", ""),
			Container:    get("AZURE_STORAGE_CONTAINER", ""),
			SASToken:     strings.TrimPrefix(strings.TrimSpace(get("AZURE_STORAGE_SAS", "")), "?"),
			ClientID:     get("AZURE_CLIENT_ID", ""),
			ClientSecret: get("AZURE_CLIENT_SECRET", ""),
			TenantID:     get("AZURE_TENANT_ID", ""),
		},
		Workers: parseInt("EXECUTOR_WORKERS", 4),
	}

	if cfg.Auth.Method == "" {
		cfg.Auth.Method = cfg.defaultAuthMethod()
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// defaultAuthMethod picks the method implied by whichever credentials are set.
func (c *Config) defaultAuthMethod() string {
	switch c.Provider {
	case ProviderDropbox:
		if c.Dropbox.AccessToken != "" {
			return AuthToken
		}
		return AuthOAuth2
	case ProviderAzure:
		if c.Azure.SASToken != "" {
			return AuthSAS
		}
		return AuthIdentity
	}
	return ""
}

// validate checks provider-specific requirements.
func (c *Config) validate() error {
	switch c.Provider {
	case ProviderDropbox:
		switch c.Auth.Method {
		case AuthOAuth2:
			if c.Dropbox.AppKey == "" {
				return errors.New("dropbox: DROPBOX_APP_KEY is required for oauth2 auth")
			}
			if c.Dropbox.TokenPath == "" {
				return errors.New("dropbox: DROPBOX_TOKEN_PATH is required for oauth2 auth")
			}
		case AuthToken:
			if c.Dropbox.AccessToken == "" {
				return errors.New("dropbox: auth method token requires DROPBOX_ACCESS_TOKEN")
			}
		default:
			return errors.New("dropbox: unsupported auth method: " + c.Auth.Method)
		}
	case ProviderAzure:
		if c.Azure.Account == "" || c.Azure.Container == "" {
			return errors.New("azure: AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_CONTAINER are required")
		}
		switch c.Auth.Method {
		case AuthSAS:
			if c.Azure.SASToken == "" {
				return errors.New("azure: auth method sas requires AZURE_STORAGE_SAS")
			}
		case AuthIdentity:
			// Service principal if all three are set, DefaultAzureCredential otherwise.
		default:
			return errors.New("azure: unsupported auth method: " + c.Auth.Method)
		}
	default:
		return errors.New("unsupported provider: " + c.Provider)
	}
	return nil
}

// AzureEndpoint returns the blob service URL with a trailing slash.
func (c Config) AzureEndpoint() string {
	ep := c.Azure.Endpoint
	if ep == "" {
		ep = "https://" + c.Azure.Account + ".blob.core.windows.net/"
	}
	if !strings.HasSuffix(ep, "/") {
		ep += "/"
	}
	return ep
}

func defaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "dropbox-token.json"
	}
	return filepath.Join(dir, "cloud-backup-agent", "dropbox-token.json")
}
