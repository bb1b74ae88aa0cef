// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads and validates authcore settings.
//
// Settings are layered from lowest to highest precedence: built-in
// defaults, the YAML config file, environment variables, then flags the
// user set explicitly. The result is validated once; out-of-range values
// fail startup.
package config

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds every authcore setting. Durations keep the unit of their key.
type Config struct {
	RateLimitMax      int      `koanf:"rate_limit_max" env:"RATE_LIMIT_MAX" json:"rate_limit_max,omitempty" jsonschema:"minimum=1,maximum=1000,description=Requests allowed per source per window"`
	RateLimitWindowMs int64    `koanf:"rate_limit_window_ms" env:"RATE_LIMIT_WINDOW_MS" json:"rate_limit_window_ms,omitempty" jsonschema:"minimum=0,maximum=3600000,description=Window length in milliseconds; 0 disables rate limiting"`
	RateLimitBackend  string   `koanf:"rate_limit_backend" env:"RATE_LIMIT_BACKEND" json:"rate_limit_backend,omitempty" jsonschema:"enum=memory,enum=redis"`
	RateLimitExempt   []string `koanf:"rate_limit_exempt" env:"RATE_LIMIT_EXEMPT" envSeparator:"," json:"rate_limit_exempt,omitempty" jsonschema:"description=Source globs that bypass the rate limit"`
	RedisURL          string   `koanf:"redis_url" env:"REDIS_URL" json:"redis_url,omitempty"`

	LockoutThreshold  int   `koanf:"lockout_threshold" env:"LOCKOUT_THRESHOLD" json:"lockout_threshold,omitempty" jsonschema:"minimum=1,maximum=100"`
	LockoutDurationMs int64 `koanf:"lockout_duration_ms" env:"LOCKOUT_DURATION_MS" json:"lockout_duration_ms,omitempty" jsonschema:"minimum=60000,maximum=86400000"`

	AccessTokenMaxAge     int64 `koanf:"access_token_max_age" env:"ACCESS_TOKEN_MAX_AGE" json:"access_token_max_age,omitempty" jsonschema:"minimum=300,maximum=31536000,description=Access token lifetime in seconds"`
	SessionMaxAgeSeconds  int64 `koanf:"session_max_age_seconds" env:"SESSION_MAX_AGE_SECONDS" json:"session_max_age_seconds,omitempty" jsonschema:"minimum=300,maximum=31536000,description=Reset token lifetime in seconds"`
	SessionMaxPerIdentity int   `koanf:"session_max_per_identity" env:"SESSION_MAX_PER_IDENTITY" json:"session_max_per_identity,omitempty" jsonschema:"minimum=0,maximum=1000,description=Sessions kept per identity; 0 is unlimited"`

	PasswordMinLength int    `koanf:"password_min_length" env:"PASSWORD_MIN_LENGTH" json:"password_min_length,omitempty" jsonschema:"minimum=1,maximum=1000"`
	PasswordMaxLength int    `koanf:"password_max_length" env:"PASSWORD_MAX_LENGTH" json:"password_max_length,omitempty" jsonschema:"minimum=1,maximum=1000"`
	HashAlgorithm     string `koanf:"hash_algorithm" env:"HASH_ALGORITHM" json:"hash_algorithm,omitempty" jsonschema:"enum=bcrypt,enum=argon2id"`
	HashCost          int    `koanf:"hash_cost" env:"HASH_COST" json:"hash_cost,omitempty" jsonschema:"minimum=4,maximum=31"`

	OperationTimeoutMs int64 `koanf:"operation_timeout_ms" env:"OPERATION_TIMEOUT_MS" json:"operation_timeout_ms,omitempty" jsonschema:"minimum=100,maximum=60000"`

	StoreBackend string `koanf:"store_backend" env:"STORE_BACKEND" json:"store_backend,omitempty" jsonschema:"enum=postgres,enum=memory"`
	DatabaseURL  string `koanf:"database_url" env:"DATABASE_URL" json:"database_url,omitempty"`

	LogFormat   string `koanf:"log_format" env:"LOG_FORMAT" json:"log_format,omitempty" jsonschema:"enum=json,enum=text"`
	MetricsAddr string `koanf:"metrics_addr" env:"METRICS_ADDR" json:"metrics_addr,omitempty" jsonschema:"description=host:port for metrics and health endpoints; empty disables"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		RateLimitMax:          10,
		RateLimitWindowMs:     60_000,
		RateLimitBackend:      BackendMemory,
		LockoutThreshold:      auth.DefaultLockoutThreshold,
		LockoutDurationMs:     auth.DefaultLockoutDuration.Milliseconds(),
		AccessTokenMaxAge:     86_400,
		SessionMaxAgeSeconds:  2_592_000,
		SessionMaxPerIdentity: 0,
		PasswordMinLength:     8,
		PasswordMaxLength:     72,
		HashAlgorithm:         auth.AlgorithmBcrypt,
		HashCost:              12,
		OperationTimeoutMs:    auth.DefaultOperationTimeout.Milliseconds(),
		StoreBackend:          BackendPostgres,
		LogFormat:             "json",
	}
}

// violation is one invalid setting.
type violation struct {
	key string
	msg string
}

// Validate checks every bound. All violations are reported in one
// CONFIG_INVALID error whose "keys" context lists the offending keys.
func (c Config) Validate() error {
	var vs []violation
	add := func(key, msg string) {
		vs = append(vs, violation{key: key, msg: msg})
	}
	between := func(key string, v, lo, hi int64) {
		if v < lo || v > hi {
			add(key, "must be between "+strconv.FormatInt(lo, 10)+" and "+strconv.FormatInt(hi, 10))
		}
	}

	between("rate_limit_max", int64(c.RateLimitMax), 1, 1000)
	if c.RateLimitWindowMs != 0 {
		between("rate_limit_window_ms", c.RateLimitWindowMs, auth.MinRateLimitWindow.Milliseconds(), auth.MaxRateLimitWindow.Milliseconds())
	}
	if !slices.Contains([]string{BackendMemory, BackendRedis}, c.RateLimitBackend) {
		add("rate_limit_backend", "must be memory or redis")
	}
	if c.RateLimitBackend == BackendRedis && c.RedisURL == "" {
		add("redis_url", "is required when rate_limit_backend is redis")
	}
	if _, err := auth.CompileExempt(c.RateLimitExempt); err != nil {
		add("rate_limit_exempt", "contains an invalid pattern")
	}

	between("lockout_threshold", int64(c.LockoutThreshold), auth.MinLockoutThreshold, auth.MaxLockoutThreshold)
	between("lockout_duration_ms", c.LockoutDurationMs, auth.MinLockoutDuration.Milliseconds(), auth.MaxLockoutDuration.Milliseconds())

	minTTL, maxTTL := int64(auth.MinTokenTTL/time.Second), int64(auth.MaxTokenTTL/time.Second)
	between("access_token_max_age", c.AccessTokenMaxAge, minTTL, maxTTL)
	between("session_max_age_seconds", c.SessionMaxAgeSeconds, minTTL, maxTTL)
	between("session_max_per_identity", int64(c.SessionMaxPerIdentity), 0, 1000)

	between("password_min_length", int64(c.PasswordMinLength), 1, 1000)
	between("password_max_length", int64(c.PasswordMaxLength), 1, 1000)
	if c.PasswordMinLength > c.PasswordMaxLength {
		add("password_min_length", "must not exceed password_max_length")
	}
	switch c.HashAlgorithm {
	case auth.AlgorithmBcrypt:
		if c.PasswordMaxLength > 72 {
			add("password_max_length", "must be at most 72 with bcrypt")
		}
	case auth.AlgorithmArgon2id:
	default:
		add("hash_algorithm", "must be bcrypt or argon2id")
	}
	between("hash_cost", int64(c.HashCost), 4, 31)

	between("operation_timeout_ms", c.OperationTimeoutMs, 100, 60_000)

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			add("database_url", "is required when store_backend is postgres")
		}
	case BackendMemory:
	default:
		add("store_backend", "must be postgres or memory")
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		add("log_format", "must be json or text")
	}

	if len(vs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(vs))
	msgs := make([]string, 0, len(vs))
	for _, v := range vs {
		keys = append(keys, v.key)
		msgs = append(msgs, v.key+" "+v.msg)
	}
	return oops.Code("CONFIG_INVALID").
		With("keys", keys).
		Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// RateLimitPolicy returns the limiter policy.
func (c Config) RateLimitPolicy() auth.RateLimitPolicy {
	return auth.RateLimitPolicy{
		MaxRequests: c.RateLimitMax,
		Window:      time.Duration(c.RateLimitWindowMs) * time.Millisecond,
		Exempt:      c.RateLimitExempt,
	}
}

// LockoutPolicy returns the lockout policy.
func (c Config) LockoutPolicy() auth.LockoutPolicy {
	return auth.LockoutPolicy{
		Threshold: c.LockoutThreshold,
		Duration:  time.Duration(c.LockoutDurationMs) * time.Millisecond,
	}
}

// PasswordPolicy returns the password length policy.
func (c Config) PasswordPolicy() auth.PasswordPolicy {
	return auth.PasswordPolicy{MinLength: c.PasswordMinLength, MaxLength: c.PasswordMaxLength}
}

// AccessTTL is the access token lifetime.
func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenMaxAge) * time.Second
}

// ResetTTL is the reset token lifetime.
func (c Config) ResetTTL() time.Duration {
	return time.Duration(c.SessionMaxAgeSeconds) * time.Second
}

// OperationTimeout bounds each sign-in and validation call.
func (c Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutMs) * time.Millisecond
}

// Redact returns a copy safe to print: credentials in URLs are masked.
func (c Config) Redact() Config {
	c.DatabaseURL = redactURL(c.DatabaseURL)
	c.RedisURL = redactURL(c.RedisURL)
	c.RateLimitExempt = slices.Clone(c.RateLimitExempt)
	return c
}

// redactURL masks the password of a connection URL. Unparseable input is
// masked entirely.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	return u.Redacted()
}
