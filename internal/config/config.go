// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

// Package config loads and validates the process-wide configuration.
//
// Configuration is assembled once at startup from defaults, an optional
// YAML file, and command-line flags, then parsed into typed values.
// Anything malformed (a non-numeric threshold, an uncompilable email
// pattern) fails fast here instead of surfacing at request time.
package config

import (
	"os"
	"regexp"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Default values applied before any file or flag is read.
const (
	DefaultListenAddr   = "127.0.0.1:8080"
	DefaultMetricsAddr  = "127.0.0.1:9100"
	DefaultLogFormat    = "json"
	DefaultEmailPattern = `^[^@\s]+@[^@\s]+\.[^@\s]+$`

	DefaultPasswordMinLength = 8
	DefaultCodeTTL           = 10 * time.Minute
	DefaultLockoutThreshold  = 5
	DefaultLockoutDuration   = 15 * time.Minute
	DefaultTokenLifetime     = 24 * time.Hour
)

// Config is the immutable process-wide configuration.
type Config struct {
	ListenAddr  string `koanf:"listen_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	DatabaseURL string `koanf:"database_url"`
	LogFormat   string `koanf:"log_format"`

	Auth AuthConfig `koanf:"auth"`
	SMTP SMTPConfig `koanf:"smtp"`

	emailRe *regexp.Regexp
}

// AuthConfig holds the authentication engine's policy knobs.
type AuthConfig struct {
	EmailPattern string `koanf:"email_pattern"`

	PasswordMinLength      int  `koanf:"password_min_length"`
	PasswordRequireDigit   bool `koanf:"password_require_digit"`
	PasswordRequireUpper   bool `koanf:"password_require_upper"`
	PasswordRequireLower   bool `koanf:"password_require_lower"`
	PasswordRequireSpecial bool `koanf:"password_require_special"`

	VerificationRequired bool          `koanf:"verification_required"`
	CodeTTL              time.Duration `koanf:"code_ttl"`

	LockoutThreshold int           `koanf:"lockout_threshold"`
	LockoutDuration  time.Duration `koanf:"lockout_duration"`

	TokenSecret   string        `koanf:"token_secret"`
	TokenLifetime time.Duration `koanf:"token_lifetime"`

	GoogleClientID    string `koanf:"google_client_id"`
	AppleClientID     string `koanf:"apple_client_id"`
	AppleClientSecret string `koanf:"apple_client_secret"`
}

// SMTPConfig holds outbound email delivery settings. An empty Host selects
// the log-only sender.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

func defaults() Config {
	return Config{
		ListenAddr:  DefaultListenAddr,
		MetricsAddr: DefaultMetricsAddr,
		LogFormat:   DefaultLogFormat,
		Auth: AuthConfig{
			EmailPattern:      DefaultEmailPattern,
			PasswordMinLength: DefaultPasswordMinLength,
			CodeTTL:           DefaultCodeTTL,
			LockoutThreshold:  DefaultLockoutThreshold,
			LockoutDuration:   DefaultLockoutDuration,
			TokenLifetime:     DefaultTokenLifetime,
		},
		SMTP: SMTPConfig{Port: 587},
	}
}

// Load assembles the configuration from defaults, an optional YAML file,
// and flags, then validates it. The flag set may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("path", path).
				Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("operation", "load flags").
				Wrap(err)
		}
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").
			With("operation", "unmarshal config").
			Wrap(err)
	}

	// Secrets may come from the environment instead of the file.
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.Auth.TokenSecret == "" {
		cfg.Auth.TokenSecret = os.Getenv("KEYGATE_TOKEN_SECRET")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and compiles the email pattern.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.Auth.TokenSecret == "" {
		return oops.Code("CONFIG_INVALID").Errorf("auth.token_secret (or KEYGATE_TOKEN_SECRET) is required")
	}
	if c.Auth.TokenLifetime <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.token_lifetime must be positive, got %s", c.Auth.TokenLifetime)
	}
	if c.Auth.CodeTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.code_ttl must be positive, got %s", c.Auth.CodeTTL)
	}
	if c.Auth.LockoutThreshold < 1 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.lockout_threshold must be at least 1, got %d", c.Auth.LockoutThreshold)
	}
	if c.Auth.LockoutDuration <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.lockout_duration must be positive, got %s", c.Auth.LockoutDuration)
	}
	if c.Auth.PasswordMinLength < 1 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.password_min_length must be at least 1, got %d", c.Auth.PasswordMinLength)
	}

	re, err := regexp.Compile(c.Auth.EmailPattern)
	if err != nil {
		return oops.Code("CONFIG_INVALID").
			With("pattern", c.Auth.EmailPattern).
			Wrap(err)
	}
	c.emailRe = re
	return nil
}

// EmailRegexp returns the compiled email-format pattern. Valid only after
// Validate has succeeded.
func (c *Config) EmailRegexp() *regexp.Regexp {
	return c.emailRe
}
