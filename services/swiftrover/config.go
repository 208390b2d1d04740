// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package swiftrover

import (
	"fmt"
	"net"
	"reflect"
	"strconv"
	"time"

	"github.com/AleutianAI/SwiftRover/pkg/secrets"
	"github.com/AleutianAI/SwiftRover/services/flights"
	"github.com/AleutianAI/SwiftRover/services/llm"
	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds SwiftRover configuration options.
//
// # Description
//
// Values are read from the environment by LoadConfig. Every field is
// optional: New applies applyConfigDefaults, so a zero Config is a working
// local setup without Azure or flight credentials.
//
// Secrets are sealed into memguard enclaves while the environment is
// parsed and never held as plain strings.
//
// # Examples
//
//	cfg, err := LoadConfig()
//	if err != nil {
//	    return err
//	}
//	cfg.Port = 9000
//	svc, err := New(cfg, nil)
type Config struct {
	// Host is the bind address. Default: 127.0.0.1
	Host string `env:"SWIFTROVER_HOST" envDefault:"127.0.0.1"`

	// Port is the HTTP server port. Default: 8001
	Port int `env:"SWIFTROVER_PORT" envDefault:"8001"`

	// PublicURL prefixes upload and preview URLs handed to the browser.
	// Default: http://{Host}:{Port}
	PublicURL string `env:"SWIFTROVER_PUBLIC_URL"`

	// DBPath is the SQLite file. Default: data/chatkit_demo.db
	DBPath string `env:"SWIFTROVER_DB_PATH" envDefault:"data/chatkit_demo.db"`

	// UploadsDir holds attachment bytes. Default: data/uploads
	UploadsDir string `env:"SWIFTROVER_UPLOADS_DIR" envDefault:"data/uploads"`

	// CORSOrigins is the browser origin allow list.
	CORSOrigins []string `env:"SWIFTROVER_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://127.0.0.1:5173"`

	// AuthTokens is "token=user,..." for bearer auth. Empty means every
	// request is the local demo user.
	AuthTokens string `env:"SWIFTROVER_AUTH_TOKENS"`

	LogLevel string `env:"SWIFTROVER_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"SWIFTROVER_LOG_JSON"`
	LogDir   string `env:"SWIFTROVER_LOG_DIR"`

	// IntentRulesPath is an optional YAML keyword rule override, reloaded
	// when the file changes.
	IntentRulesPath string `env:"SWIFTROVER_INTENT_RULES"`

	AzureEndpoint       string         `env:"AOI_ENDPOINT_SWDN"`
	AzureKey            secrets.Secret `env:"AOI_KEY_SWDN"`
	AzureAPIVersion     string         `env:"AZURE_OPENAI_API_VERSION" envDefault:"2024-06-01"`
	ChatDeployment      string         `env:"SWIFTROVER_CHAT_DEPLOYMENT" envDefault:"gpt-5.1"`
	ReasoningDeployment string         `env:"SWIFTROVER_REASONING_DEPLOYMENT" envDefault:"o3"`

	AviationStackKey     secrets.Secret `env:"AVIATIONSTACK_KEY"`
	AviationStackBaseURL string         `env:"AVIATIONSTACK_BASE_URL" envDefault:"http://api.aviationstack.com/v1"`
	AviationStackRPM     int            `env:"AVIATIONSTACK_RPM" envDefault:"60"`

	// OTelEndpoint is the OTLP gRPC collector, or "stdout" to print spans to
	// stderr. Empty disables tracing.
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// GinMode is "debug", "release" or "test". Default: release
	GinMode string `env:"GIN_MODE" envDefault:"release"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `env:"SWIFTROVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Registry receives the service metrics and backs /metrics. Nil uses
	// the process-wide default registry.
	Registry *prometheus.Registry `env:"-"`
}

// secretParser seals secret environment values as they are read.
var secretParser = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(secrets.Secret{}): func(v string) (any, error) {
		return *secrets.New(v), nil
	},
}

// LoadConfig reads Config from the environment.
//
// # Outputs
//
//   - Config: Parsed configuration, defaults not yet applied.
//   - error: Non-nil if a variable cannot be parsed (e.g. a non-numeric port).
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{FuncMap: secretParser}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// applyConfigDefaults fills in missing configuration values.
//
// # Description
//
// Covers Configs built in code rather than by LoadConfig, so every field
// gets the same default as its environment variable.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8001
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://" + cfg.Addr()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/chatkit_demo.db"
	}
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = "data/uploads"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AzureAPIVersion == "" {
		cfg.AzureAPIVersion = llm.DefaultAPIVersion
	}
	if cfg.ChatDeployment == "" {
		cfg.ChatDeployment = "gpt-5.1"
	}
	if cfg.ReasoningDeployment == "" {
		cfg.ReasoningDeployment = "o3"
	}
	if cfg.AviationStackBaseURL == "" {
		cfg.AviationStackBaseURL = flights.DefaultBaseURL
	}
	if cfg.AviationStackRPM == 0 {
		cfg.AviationStackRPM = 60
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}
