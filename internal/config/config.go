package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "LAUNCHLEAP"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = DriverSQLite
	defaultDatabaseDSN      = "launchleap.db"
	defaultLogLevel         = "info"
	defaultTokenTTL         = 24 * time.Hour
	defaultGoogleJWKSURL    = "https://www.googleapis.com/oauth2/v3/certs"
	defaultStorageRoot      = "storage"
	defaultPublicBaseURL    = "http://localhost:8080"
	defaultToolsListTimeout = 15 * time.Second
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabaseDriver     string
	DatabaseDSN        string
	LogLevel           string
	SigningSecret      string
	TokenTTL           time.Duration
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleJWKSURL      string
	AllowedOrigins     []string
	StorageRoot        string
	PublicBaseURL      string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	ToolsListTimeout   time.Duration
}

// OAuthEnabled reports whether the authorization code flow has everything it needs.
func (c AppConfig) OAuthEnabled() bool {
	return c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	bindEnvironment(configViper)

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("storage.root", defaultStorageRoot)
	configViper.SetDefault("storage.public_base_url", defaultPublicBaseURL)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("tools.list_timeout", defaultToolsListTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        strings.TrimSpace(configViper.GetString("http.address")),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:        strings.TrimSpace(configViper.GetString("database.dsn")),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           configViper.GetDuration("auth.token_ttl"),
		GoogleClientID:     strings.TrimSpace(configViper.GetString("google.client_id")),
		GoogleClientSecret: strings.TrimSpace(configViper.GetString("google.client_secret")),
		GoogleRedirectURL:  strings.TrimSpace(configViper.GetString("google.redirect_url")),
		GoogleJWKSURL:      strings.TrimSpace(configViper.GetString("google.jwks_url")),
		AllowedOrigins:     splitList(configViper.GetStringSlice("site.allowed_origins")),
		StorageRoot:        strings.TrimSpace(configViper.GetString("storage.root")),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(configViper.GetString("storage.public_base_url")), "/"),
		RedisAddress:       strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		ToolsListTimeout:   configViper.GetDuration("tools.list_timeout"),
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
	if c.GoogleClientID == "" {
		return fmt.Errorf("google.client_id is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.ToolsListTimeout <= 0 {
		return fmt.Errorf("tools.list_timeout must be positive")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("storage.root is required")
	}
	if _, err := url.ParseRequestURI(c.PublicBaseURL); err != nil {
		return fmt.Errorf("storage.public_base_url is invalid: %w", err)
	}
	if (c.GoogleClientSecret == "") != (c.GoogleRedirectURL == "") {
		return fmt.Errorf("google.client_secret and google.redirect_url must be set together")
	}
	return nil
}

const (
	defaultAPIURL          = "http://localhost:8080"
	defaultCallbackAddress = "127.0.0.1:8976"
	defaultClientLogLevel  = "warn"
	sessionFileName        = "session.json"
	clientDirectoryName    = "launchleap"
)

// ClientConfig captures runtime configuration for the terminal client.
type ClientConfig struct {
	APIURL          string
	SessionPath     string
	CallbackAddress string
	LogLevel        string
}

// CallbackURL is the loopback address the OAuth redirect lands on.
func (c ClientConfig) CallbackURL() string {
	return "http://" + c.CallbackAddress + "/callback"
}

// ApplyClientDefaults configures client defaults and env bindings on the provided viper instance.
func ApplyClientDefaults(configViper *viper.Viper) {
	bindEnvironment(configViper)

	configViper.SetDefault("api.url", defaultAPIURL)
	configViper.SetDefault("callback.address", defaultCallbackAddress)
	configViper.SetDefault("log.level", defaultClientLogLevel)
}

// LoadClient parses terminal client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		APIURL:          strings.TrimRight(strings.TrimSpace(configViper.GetString("api.url")), "/"),
		SessionPath:     strings.TrimSpace(configViper.GetString("session.path")),
		CallbackAddress: strings.TrimSpace(configViper.GetString("callback.address")),
		LogLevel:        configViper.GetString("log.level"),
	}

	if cfg.SessionPath == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return ClientConfig{}, fmt.Errorf("session.path is required: %w", err)
		}
		cfg.SessionPath = filepath.Join(configDir, clientDirectoryName, sessionFileName)
	}

	parsed, err := url.ParseRequestURI(cfg.APIURL)
	if err != nil || parsed.Host == "" {
		return ClientConfig{}, fmt.Errorf("api.url %q is invalid", cfg.APIURL)
	}
	if cfg.CallbackAddress == "" {
		return ClientConfig{}, fmt.Errorf("callback.address is required")
	}

	return cfg, nil
}

func bindEnvironment(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()
}

// splitList accepts both list values and comma separated env strings.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimRight(strings.TrimSpace(part), "/")
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
