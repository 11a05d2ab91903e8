// Package config loads service configuration from a YAML file with
// environment-variable overrides. Environment keys carry the MDS_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mdscloud.org/identity/internal/identity"
)

// TokenConfig holds the signing-key and claim configuration for the token
// subsystem.
type TokenConfig struct {
	PrivateKeyPath       string `yaml:"private_key_path"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase"`
	PublicKeyPath        string `yaml:"public_key_path"`
	Issuer               string `yaml:"issuer"`
	Audience             string `yaml:"audience"`
	LifespanMinutes      int    `yaml:"lifespan_minutes"`
	FailureDelaySeconds  int    `yaml:"failure_delay_seconds"`
}

// Lifespan returns the configured token lifetime.
func (c TokenConfig) Lifespan() time.Duration {
	return time.Duration(c.LifespanMinutes) * time.Minute
}

// FailureDelay returns the failed-login throttle duration.
func (c TokenConfig) FailureDelay() time.Duration {
	return time.Duration(c.FailureDelaySeconds) * time.Second
}

// RateLimitConfig holds the per-IP request throttle knobs.
type RateLimitConfig struct {
	Burst     int `yaml:"burst"`
	PerSecond int `yaml:"per_second"`
}

// Config holds all service configuration.
type Config struct {
	HTTPAddr    string          `yaml:"http_addr"`
	GRPCAddr    string          `yaml:"grpc_addr"`
	DatabaseURL string          `yaml:"database_url"`
	LogLevel    string          `yaml:"log_level"`
	Token       TokenConfig     `yaml:"token"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// ApplyDefaults fills zero-valued fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = ":8081"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Token.Issuer == "" {
		cfg.Token.Issuer = identity.DefaultIssuer
	}
	if cfg.Token.Audience == "" {
		cfg.Token.Audience = identity.DefaultIssuer
	}
	if cfg.Token.LifespanMinutes <= 0 {
		cfg.Token.LifespanMinutes = int(identity.DefaultTokenLifespan / time.Minute)
	}
	// Zero means unset; a negative value explicitly disables the throttle
	// (test and dev environments).
	if cfg.Token.FailureDelaySeconds == 0 {
		cfg.Token.FailureDelaySeconds = int(identity.DefaultFailureDelay / time.Second)
	} else if cfg.Token.FailureDelaySeconds < 0 {
		cfg.Token.FailureDelaySeconds = 0
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.RateLimit.PerSecond <= 0 {
		cfg.RateLimit.PerSecond = 10
	}
}

// Validate checks settings the service cannot run without.
func (cfg *Config) Validate() error {
	if cfg.Token.PrivateKeyPath == "" {
		return fmt.Errorf("token.private_key_path is required")
	}
	if cfg.Token.PublicKeyPath == "" {
		return fmt.Errorf("token.public_key_path is required")
	}
	return nil
}

// Load reads the YAML file at path (if non-empty), layers environment
// overrides on top and applies defaults. A missing file with a configured
// path is an error; an empty path means env-and-defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	setString(&cfg.HTTPAddr, "MDS_HTTP_ADDR")
	setString(&cfg.GRPCAddr, "MDS_GRPC_ADDR")
	setString(&cfg.DatabaseURL, "MDS_PG_DSN")
	setString(&cfg.LogLevel, "MDS_LOG_LEVEL")
	setString(&cfg.Token.PrivateKeyPath, "MDS_SIGNING_KEY_PATH")
	setString(&cfg.Token.PrivateKeyPassphrase, "MDS_SIGNING_KEY_PASSPHRASE")
	setString(&cfg.Token.PublicKeyPath, "MDS_PUBLIC_KEY_PATH")
	setString(&cfg.Token.Issuer, "MDS_TOKEN_ISSUER")
	setString(&cfg.Token.Audience, "MDS_TOKEN_AUDIENCE")
	setInt(&cfg.Token.LifespanMinutes, "MDS_TOKEN_LIFESPAN_MINUTES")
	setInt(&cfg.Token.FailureDelaySeconds, "MDS_FAILURE_DELAY_SECONDS")
	setInt(&cfg.RateLimit.Burst, "MDS_RATE_LIMIT_BURST")
	setInt(&cfg.RateLimit.PerSecond, "MDS_RATE_LIMIT_PER_SECOND")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// setInt leaves the destination untouched on unparsable input, so a garbage
// lifespan falls back to the default rather than failing startup.
func setInt(dst *int, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}
