package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "ROOMSTATE"
	defaultHTTPAddress       = "127.0.0.1:8080"
	defaultDatabasePath      = "roomstate.db"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 720
	defaultRemoteBaseURL     = "http://localhost:8081/api/v1"
	defaultRemoteTimeout     = 10
	defaultRemoteRate        = 5.0
	defaultRemoteMaxAttempts = 3
	defaultDocumentsTTL      = 10
)

// AppConfig captures runtime configuration for the state service.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SigningSecret        string
	TokenTTL             time.Duration
	AllowedOrigins       []string
	RemoteBaseURL        string
	RemoteTimeout        time.Duration
	RemoteRequestsPerSec float64
	RemoteMaxAttempts    int
	DocumentsTTL         time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"http://localhost:5173"})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.timeout_seconds", defaultRemoteTimeout)
	configViper.SetDefault("remote.requests_per_second", defaultRemoteRate)
	configViper.SetDefault("remote.max_attempts", defaultRemoteMaxAttempts)
	configViper.SetDefault("documents.ttl_minutes", defaultDocumentsTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedOrigins:       configViper.GetStringSlice("http.allowed_origins"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		TokenTTL:             time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RemoteBaseURL:        configViper.GetString("remote.base_url"),
		RemoteTimeout:        time.Duration(configViper.GetInt("remote.timeout_seconds")) * time.Second,
		RemoteRequestsPerSec: configViper.GetFloat64("remote.requests_per_second"),
		RemoteMaxAttempts:    configViper.GetInt("remote.max_attempts"),
		DocumentsTTL:         time.Duration(configViper.GetInt("documents.ttl_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.RemoteMaxAttempts <= 0 {
		return fmt.Errorf("remote.max_attempts must be positive")
	}
	if c.RemoteRequestsPerSec < 0 {
		return fmt.Errorf("remote.requests_per_second must not be negative")
	}
	return nil
}
