// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package config loads the router's runtime configuration from the
// environment, following the same convention as cmd/orchestrator/main.go's
// doc-commented env var list and orchestrator/run.go's os.Getenv usage.
//
// Environment variables:
//
//	ENCRYPTION_KEY             - required, 44-char base64 secret or a
//	                              passphrase to stretch via PBKDF2
//	ENCRYPTION_SALT             - salt for PBKDF2 stretching (default:
//	                              "apikeyrouter-salt")
//	MAX_DECISIONS               - in-memory store cap for routing decisions
//	MAX_TRANSITIONS             - in-memory store cap for state transitions
//	DEFAULT_COOLDOWN_SECONDS    - Throttled cooldown when provider omits retry-after
//	HEALTH_CHECK_TTL_SECONDS    - adapter health probe cache TTL
//	MAX_RETRY_ATTEMPTS          - router retry cap per request
//	SHUTDOWN_TIMEOUT_SECONDS    - graceful shutdown deadline
//	BUDGET_ENFORCEMENT_MODE     - default enforcement mode for new budgets (hard|soft)
//	DATABASE_URL                - Postgres DSN for the durable StateStore
//	REDIS_URL                   - optional Redis URL for the quota cache
//	PORT                        - reference HTTP boundary listen port
package config

import (
	"os"
	"strconv"
	"time"

	"apikeyrouter/domain"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	EncryptionKey           string
	EncryptionSalt          string
	MaxDecisions            int
	MaxTransitions          int
	DefaultCooldown         time.Duration
	HealthCheckTTL          time.Duration
	MaxRetryAttempts        int
	ShutdownTimeout         time.Duration
	DefaultEnforcementMode  domain.EnforcementMode
	DatabaseURL             string
	RedisURL                string
	Port                    string
}

// Load reads configuration from the process environment, applying the
// defaults named in spec.md §6.
func Load() *Config {
	return &Config{
		EncryptionKey:          os.Getenv("ENCRYPTION_KEY"),
		EncryptionSalt:         getEnvOr("ENCRYPTION_SALT", "apikeyrouter-salt"),
		MaxDecisions:           getEnvIntOr("MAX_DECISIONS", 10_000),
		MaxTransitions:         getEnvIntOr("MAX_TRANSITIONS", 10_000),
		DefaultCooldown:        time.Duration(getEnvIntOr("DEFAULT_COOLDOWN_SECONDS", 30)) * time.Second,
		HealthCheckTTL:         time.Duration(getEnvIntOr("HEALTH_CHECK_TTL_SECONDS", 60)) * time.Second,
		MaxRetryAttempts:       getEnvIntOr("MAX_RETRY_ATTEMPTS", 3),
		ShutdownTimeout:        time.Duration(getEnvIntOr("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		DefaultEnforcementMode: domain.EnforcementMode(getEnvOr("BUDGET_ENFORCEMENT_MODE", string(domain.EnforcementHard))),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisURL:               os.Getenv("REDIS_URL"),
		Port:                   getEnvOr("PORT", "8080"),
	}
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
