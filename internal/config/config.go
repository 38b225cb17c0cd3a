package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	envPrefix            = "INSANUS"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabase      = "sqlite"
	defaultDatabasePath  = "insanus.db"
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
	defaultAutosaveDelay = 1500
	defaultSearchLimit   = 20
	defaultAuthIssuer    = "insanus"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string `validate:"required"`
	DatabaseDriver    string `validate:"oneof=sqlite postgres"`
	DatabasePath      string `validate:"required_if=DatabaseDriver sqlite"`
	DatabaseDSN       string `validate:"required_if=DatabaseDriver postgres"`
	LogLevel          string `validate:"oneof=debug info warn warning error"`
	LogFormat         string `validate:"oneof=json console"`
	AutosaveDelayMS   int    `validate:"gte=0"`
	SearchLimit       int    `validate:"gte=1,lte=200"`
	AuthSigningSecret string
	AuthIssuer        string `validate:"required_with=AuthSigningSecret"`
	CORSOrigins       []string
}

// AutosaveDelay returns the debounce window as a duration.
func (c AppConfig) AutosaveDelay() time.Duration {
	return time.Duration(c.AutosaveDelayMS) * time.Millisecond
}

// AuthEnabled reports whether bearer tokens are required.
func (c AppConfig) AuthEnabled() bool {
	return strings.TrimSpace(c.AuthSigningSecret) != ""
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
	configViper.SetDefault("http.cors_origins", []string{})
	configViper.SetDefault("database.driver", defaultDatabase)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("autosave.delay_ms", defaultAutosaveDelay)
	configViper.SetDefault("search.limit", defaultSearchLimit)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseDSN:       strings.TrimSpace(configViper.GetString("database.dsn")),
		LogLevel:          strings.ToLower(strings.TrimSpace(configViper.GetString("log.level"))),
		LogFormat:         strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		AutosaveDelayMS:   configViper.GetInt("autosave.delay_ms"),
		SearchLimit:       configViper.GetInt("search.limit"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        strings.TrimSpace(configViper.GetString("auth.issuer")),
		CORSOrigins:       splitOrigins(configViper.GetStringSlice("http.cors_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

var structValidator = validator.New()

func (c AppConfig) validate() error {
	if err := structValidator.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			first := validationErrors[0]
			return fmt.Errorf("invalid configuration: %s failed %q", first.Field(), first.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Env values arrive as one comma separated string.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
