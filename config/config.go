// Package config loads configuration for both binaries from defaults,
// an optional yaml file, and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig configures the token issuer binary.
type ServerConfig struct {
	HTTPPort   string `mapstructure:"HTTP_PORT"`
	IssuerName string `mapstructure:"ISSUER_NAME"`

	// SessionTTL bounds how long a login stays valid regardless of token
	// lifetime.
	SessionTTL      time.Duration `mapstructure:"SESSION_TTL"`
	UserTokenTTL    time.Duration `mapstructure:"USER_TOKEN_TTL"`
	ServiceTokenTTL time.Duration `mapstructure:"SERVICE_TOKEN_TTL"`
	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`

	// RegistryBackend selects the session registry: memory, redis, mongo.
	RegistryBackend string `mapstructure:"REGISTRY_BACKEND"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisDB         int    `mapstructure:"REDIS_DB"`
	MongoURI        string `mapstructure:"MONGO_URI"`
	MongoDBName     string `mapstructure:"MONGO_DB_NAME"`

	KeycloakBaseURL      string `mapstructure:"KEYCLOAK_BASE_URL"`
	KeycloakRealm        string `mapstructure:"KEYCLOAK_REALM"`
	KeycloakClientID     string `mapstructure:"KEYCLOAK_CLIENT_ID"`
	KeycloakClientSecret string `mapstructure:"KEYCLOAK_CLIENT_SECRET"`

	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// GatewayConfig configures the gateway binary.
type GatewayConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	PublicURL string `mapstructure:"PUBLIC_URL"`
	IssuerURL string `mapstructure:"ISSUER_URL"`

	// Apps maps the first path segment to a backend base URL.
	Apps map[string]string `mapstructure:"APPS"`

	BrowserSessionTTL time.Duration `mapstructure:"BROWSER_SESSION_TTL"`
	LoginFlowTTL      time.Duration `mapstructure:"LOGIN_FLOW_TTL"`
	SecureCookies     bool          `mapstructure:"SECURE_COOKIES"`

	KeycloakBaseURL      string `mapstructure:"KEYCLOAK_BASE_URL"`
	KeycloakRealm        string `mapstructure:"KEYCLOAK_REALM"`
	KeycloakClientID     string `mapstructure:"KEYCLOAK_CLIENT_ID"`
	KeycloakClientSecret string `mapstructure:"KEYCLOAK_CLIENT_SECRET"`

	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

func newViper(configName string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/hivegate/")
	v.AddConfigPath("$HOME/.hivegate")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func readIn(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// Running from defaults and env alone is fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config file: %w", err)
		}
	}
	return nil
}

// LoadServerConfig loads the issuer configuration.
func LoadServerConfig() (*ServerConfig, error) {
	v := newViper("server")

	v.SetDefault("HTTP_PORT", "8090")
	v.SetDefault("ISSUER_NAME", "hivegate-core")
	v.SetDefault("SESSION_TTL", "8h")
	v.SetDefault("USER_TOKEN_TTL", "1h")
	v.SetDefault("SERVICE_TOKEN_TTL", "5m")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("REGISTRY_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "hivegate")
	v.SetDefault("KEYCLOAK_BASE_URL", "http://localhost:8080")
	v.SetDefault("KEYCLOAK_REALM", "hivegate")
	v.SetDefault("KEYCLOAK_CLIENT_ID", "hivegate-core")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "hivegate-core")

	if err := readIn(v); err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := validBackend(cfg.RegistryBackend); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validBackend(name string) error {
	switch name {
	case "memory", "redis", "mongo":
		return nil
	default:
		return fmt.Errorf("unknown registry backend %q", name)
	}
}

// LoadGatewayConfig loads the gateway configuration.
func LoadGatewayConfig() (*GatewayConfig, error) {
	v := newViper("gateway")

	v.SetDefault("HTTP_PORT", "8000")
	v.SetDefault("PUBLIC_URL", "http://localhost:8000")
	v.SetDefault("ISSUER_URL", "http://localhost:8090")
	v.SetDefault("BROWSER_SESSION_TTL", "8h")
	v.SetDefault("LOGIN_FLOW_TTL", "10m")
	v.SetDefault("SECURE_COOKIES", false)
	v.SetDefault("KEYCLOAK_BASE_URL", "http://localhost:8080")
	v.SetDefault("KEYCLOAK_REALM", "hivegate")
	v.SetDefault("KEYCLOAK_CLIENT_ID", "hivegate-gateway")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "hivegate-gateway")

	if err := readIn(v); err != nil {
		return nil, err
	}

	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}
