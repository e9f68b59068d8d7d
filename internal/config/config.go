// Package config provides configuration for the API server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. TRIAGE_PORT.
const EnvPrefix = "TRIAGE_"

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `koanf:"port"`
	ServerReadTimeout  time.Duration `koanf:"server_read_timeout"`
	ServerWriteTimeout time.Duration `koanf:"server_write_timeout"`

	// Postgres; empty keeps everything in memory
	DatabaseURL string `koanf:"database_url"`

	// NATS settings; empty URL disables the turn stream and alerts
	NATSURL      string `koanf:"nats_url"`
	NATSCAFile   string `koanf:"nats_ca_file"`
	NATSCertFile string `koanf:"nats_cert_file"`
	NATSKeyFile  string `koanf:"nats_key_file"`
	NATSToken    string `koanf:"nats_token"`

	// Redis places cache; empty address disables it
	RedisAddr      string        `koanf:"redis_addr"`
	RedisPassword  string        `koanf:"redis_password"`
	RedisDB        int           `koanf:"redis_db"`
	PlacesCacheTTL time.Duration `koanf:"places_cache_ttl"`

	// JWT settings
	JWTSecret string `koanf:"jwt_secret"`

	// LLM settings
	LLMProvider     string        `koanf:"llm_provider"`
	AnthropicAPIKey string        `koanf:"anthropic_api_key"`
	OpenAIAPIKey    string        `koanf:"openai_api_key"`
	LLMModel        string        `koanf:"llm_model"`
	LLMTimeout      time.Duration `koanf:"llm_timeout"`

	// External places provider
	GoogleMapsAPIKey string        `koanf:"google_maps_api_key"`
	PlacesRadiusKm   float64       `koanf:"places_radius_km"`
	PlacesTimeout    time.Duration `koanf:"places_timeout"`

	// CORS; comma separated when set from the environment
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Rate limiting
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	// Logging
	LogLevel string `koanf:"log_level"`

	// Tracing
	TracingEndpoint string `koanf:"tracing_endpoint"`
	TracingEnabled  bool   `koanf:"tracing_enabled"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 60 * time.Second,

		PlacesCacheTTL: 10 * time.Minute,

		JWTSecret: "development-secret-change-in-production",

		LLMProvider: "openai",
		LLMTimeout:  30 * time.Second,

		PlacesRadiusKm: 25,
		PlacesTimeout:  8 * time.Second,

		CORSAllowedOrigins: []string{"https://*", "http://*"},

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
	}
}

// wellKnownEnv maps conventional unprefixed variables onto config keys.
var wellKnownEnv = map[string]string{
	"PORT":                "port",
	"DATABASE_URL":        "database_url",
	"NATS_URL":            "nats_url",
	"REDIS_ADDR":          "redis_addr",
	"JWT_SECRET":          "jwt_secret",
	"OPENAI_API_KEY":      "openai_api_key",
	"ANTHROPIC_API_KEY":   "anthropic_api_key",
	"GOOGLE_MAPS_API_KEY": "google_maps_api_key",
	"LOG_LEVEL":           "log_level",
}

// Load builds the configuration from defaults, the optional YAML file at
// path, well-known environment variables and finally TRIAGE_* overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return wellKnownEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}
