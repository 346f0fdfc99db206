// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config reads the control plane's environment-sourced
// configuration into a typed Config, applying the same defaults-then-
// env-override pattern as pkg/server.parseConfig.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mchmarny/trafficctl/pkg/defaults"
)

// Config holds every environment-sourced setting for the control plane
// binaries (API server, worker, CLI).
type Config struct {
	// Server identity.
	Name    string
	Version string
	Port    int

	// FastStoreURL is the Redis connection string backing the Fast Store
	// and the Message Queue (distinct key namespaces, shared connection).
	FastStoreURL string

	// DurableStoreDSN is the Postgres connection string backing the
	// Durable Store.
	DurableStoreDSN string

	// SecretKey is read from the environment but not used: inbound API keys
	// are matched by their plain SHA-256 hash (pkg/auth). Token
	// algorithm/expiry are likewise read but unused (see Non-goals).
	SecretKey       string
	TokenAlgorithm  string
	TokenExpiryMins int

	// SamplingRate is the Consumer's success-sampling probability; errors
	// are always stored regardless of this value.
	SamplingRate float64

	// AdvisorAPIKey authenticates outbound calls to the Advisor. Empty
	// disables the Tuner's Advisor calls (Advisor failures are caught and
	// logged per spec, so an absent key degrades gracefully).
	AdvisorAPIKey string

	// SMTP settings for the Alert collaborator. Empty Host disables
	// alert delivery (send becomes a no-op).
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// AlertRecipient is the mailbox the Decision API notifies when a
	// verdict trips the circuit breaker. Empty suppresses the send
	// regardless of AlertEnabled.
	AlertRecipient string
}

// Load returns a Config populated with defaults, then overridden by
// environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Name:            "trafficctl",
		Version:         "undefined",
		Port:            8080,
		FastStoreURL:    "redis://localhost:6379/0",
		DurableStoreDSN: "postgres://localhost:5432/trafficctl?sslmode=disable",
		TokenAlgorithm:  "HS256",
		TokenExpiryMins: 60,
		SamplingRate:    1.0,
		SMTPPort:        587,
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = p
	}

	if v := os.Getenv("FAST_STORE_URL"); v != "" {
		cfg.FastStoreURL = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DurableStoreDSN = v
	}

	cfg.SecretKey = os.Getenv("SECRET_KEY")

	if v := os.Getenv("TOKEN_ALGORITHM"); v != "" {
		cfg.TokenAlgorithm = v
	}

	if v := os.Getenv("TOKEN_EXPIRY_MINUTES"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_EXPIRY_MINUTES %q: %w", v, err)
		}
		cfg.TokenExpiryMins = m
	}

	if v := os.Getenv("SAMPLING_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SAMPLING_RATE %q: %w", v, err)
		}
		if r <= 0 || r > 1 {
			return nil, fmt.Errorf("SAMPLING_RATE %v out of (0,1] range", r)
		}
		cfg.SamplingRate = r
	}

	cfg.AdvisorAPIKey = os.Getenv("ADVISOR_API_KEY")

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
		}
		cfg.SMTPPort = p
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = os.Getenv("SMTP_FROM")
	cfg.AlertRecipient = os.Getenv("ALERT_RECIPIENT")

	if v := os.Getenv("SERVICE_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("SERVICE_VERSION"); v != "" {
		cfg.Version = v
	}

	return cfg, nil
}

// AdvisorEnabled reports whether the Tuner should attempt Advisor calls.
func (c *Config) AdvisorEnabled() bool {
	return c.AdvisorAPIKey != ""
}

// AlertEnabled reports whether the Alert collaborator should attempt delivery.
func (c *Config) AlertEnabled() bool {
	return c.SMTPHost != ""
}

// ParseRedisURL breaks a redis://[:password@]host:port/db URL into the
// discrete Addr/Password/DB values pkg/faststore and pkg/queue's
// functional options expect.
func ParseRedisURL(raw string) (addr, password string, db int, err error) {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return "", "", 0, fmt.Errorf("parse redis url: %w", err)
	}
	return opts.Addr, opts.Password, opts.DB, nil
}

// ServerShutdownTimeout mirrors pkg/server's SHUTDOWN_TIMEOUT_SECONDS override,
// kept here so worker binaries can share the same grace period as the API server.
func ServerShutdownTimeout() (v int) {
	v = int(defaults.ServerShutdownTimeout.Seconds())
	if s := os.Getenv("SHUTDOWN_TIMEOUT_SECONDS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			v = n
		}
	}
	return v
}
