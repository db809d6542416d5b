// Package config loads the server and CLI configuration.
//
// Sources, lowest precedence first:
//  1. built-in defaults (Default)
//  2. an optional YAML file (CONFIG_PATH, else ./config.yaml if present)
//  3. environment variables, after .env has been loaded into the process
//
// Environment variables keep flat names (PORT, DB_PATH, SMTP_HOST, ...) and
// are mapped onto the nested keys by envTransformFunc. Unknown variables are
// ignored.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/sakif/community-library/internal/validation"
)

// ConfigPathEnvVar names the variable holding the YAML file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPath is tried when CONFIG_PATH is unset.
const DefaultConfigPath = "config.yaml"

// MinJWTSecretLength matches the check in auth.NewTokenService.
const MinJWTSecretLength = 16

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Auth      AuthConfig      `koanf:"auth"`
	SMTP      SMTPConfig      `koanf:"smtp"`
	Recommend RecommendConfig `koanf:"recommend"`
	Events    EventsConfig    `koanf:"events"`
	Mirror    MirrorConfig    `koanf:"mirror"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port              int           `koanf:"port"                validate:"min=1,max=65535"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite badger mongo"`
	// Path is the sqlite file or the badger directory.
	Path          string `koanf:"path"           validate:"required_unless=Driver mongo"`
	MongoURI      string `koanf:"mongo_uri"      validate:"required_if=Driver mongo"`
	MongoDatabase string `koanf:"mongo_database" validate:"required_if=Driver mongo"`
}

type AuthConfig struct {
	// JWTSecret empty disables authentication.
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// Enabled reports whether requests must carry a token.
func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" }

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"      validate:"min=0,max=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"      validate:"omitempty,email"`
	FromName string `koanf:"from_name"`
	StartTLS bool   `koanf:"starttls"`
}

// Enabled reports whether outbound email is configured.
func (s SMTPConfig) Enabled() bool { return s.Host != "" && s.From != "" }

type RecommendConfig struct {
	URL     string        `koanf:"url"     validate:"omitempty,url"`
	Timeout time.Duration `koanf:"timeout"`
}

type EventsConfig struct {
	RabbitMQURL   string `koanf:"rabbitmq_url"`
	RabbitMQQueue string `koanf:"rabbitmq_queue"`
}

type MirrorConfig struct {
	// RefreshInterval 0 disables periodic refresh.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"min=0"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Default returns the built-in configuration every other layer overrides.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Store: StoreConfig{
			Driver:        "sqlite",
			Path:          "data/library.db",
			MongoDatabase: "library",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		SMTP: SMTPConfig{
			Port:     587,
			FromName: "Community Library",
			StartTLS: true,
		},
		Recommend: RecommendConfig{
			Timeout: 5 * time.Second,
		},
		Events: EventsConfig{
			RabbitMQQueue: "library.events",
		},
		Mirror: MirrorConfig{
			RefreshInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads .env (if present) and then the layered configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}
	return load(findConfigFile())
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	if err := splitCommaList(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

var envMappings = map[string]string{
	"port":                    "server.port",
	"cors_origins":            "server.cors_origins",
	"rate_limit_requests":     "server.rate_limit_requests",
	"rate_limit_window":       "server.rate_limit_window",
	"store_driver":            "store.driver",
	"db_path":                 "store.path",
	"mongo_uri":               "store.mongo_uri",
	"mongo_database":          "store.mongo_database",
	"jwt_secret":              "auth.jwt_secret",
	"jwt_ttl":                 "auth.token_ttl",
	"smtp_host":               "smtp.host",
	"smtp_port":               "smtp.port",
	"smtp_username":           "smtp.username",
	"smtp_password":           "smtp.password",
	"smtp_from":               "smtp.from",
	"smtp_from_name":          "smtp.from_name",
	"smtp_starttls":           "smtp.starttls",
	"recommend_url":           "recommend.url",
	"recommend_timeout":       "recommend.timeout",
	"rabbitmq_url":            "events.rabbitmq_url",
	"rabbitmq_queue":          "events.rabbitmq_queue",
	"mirror_refresh_interval": "mirror.refresh_interval",
	"log_level":               "log.level",
}

// envTransformFunc maps a flat variable name to its config key. Unmapped
// variables return "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// splitCommaList turns a comma separated string (from the environment) into
// a list. Lists from YAML are left alone.
func splitCommaList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if err := k.Set(path, parts); err != nil {
		return fmt.Errorf("config: setting %s: %w", path, err)
	}
	return nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Auth.Enabled() && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("config: JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: token TTL must be positive")
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return errors.New("config: rate limit window must be positive")
	}
	return nil
}

// SlogLevel converts Log.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
