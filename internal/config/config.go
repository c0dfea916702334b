// Package config loads ctxpack configuration from defaults, a YAML file and
// CTXPACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend/local"
	"github.com/fyrsmithlabs/ctxpack/internal/guard"
	"github.com/fyrsmithlabs/ctxpack/internal/history"
	"github.com/fyrsmithlabs/ctxpack/internal/logging"
	"github.com/fyrsmithlabs/ctxpack/internal/scanner"
	"github.com/fyrsmithlabs/ctxpack/internal/secrets"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
	"github.com/fyrsmithlabs/ctxpack/internal/signals"
	"github.com/fyrsmithlabs/ctxpack/internal/telemetry"
	"github.com/fyrsmithlabs/ctxpack/internal/tokens"
	"github.com/fyrsmithlabs/ctxpack/internal/watcher"
)

// Config is the complete ctxpack configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Selection selection.Config `koanf:"selection"`
	Assembly  assembly.Config  `koanf:"assembly"`
	Guard     guard.Config     `koanf:"guard"`
	Backend   local.Config     `koanf:"backend"`
	Scanner   scanner.Config   `koanf:"scanner"`
	Watcher   WatcherConfig    `koanf:"watcher"`
	History   history.Config   `koanf:"history"`
	Tokens    tokens.Config    `koanf:"tokens"`
	Signals   signals.Config   `koanf:"signals"`
	Secrets   secrets.Config   `koanf:"secrets"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
}

// ServerConfig configures `ctxpack serve` and the remote client.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RateLimit is requests per second accepted by the server and issued by
	// the client. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
	// RemoteURL points CLI commands at a running server instead of the
	// local backend.
	RemoteURL string `koanf:"remote_url"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WatcherConfig wraps watcher.Config with an on/off switch.
type WatcherConfig struct {
	Enabled        bool `koanf:"enabled"`
	watcher.Config `koanf:",squash"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8377,
			ShutdownTimeout: Duration(10 * time.Second),
			RateLimit:       50,
			RateBurst:       100,
		},
		Selection: selection.DefaultConfig(),
		Assembly:  assembly.DefaultConfig(),
		Guard:     guard.DefaultConfig(),
		Backend:   local.DefaultConfig(),
		Scanner:   scanner.DefaultConfig(),
		Watcher:   WatcherConfig{Enabled: true, Config: watcher.DefaultConfig()},
		History:   history.DefaultConfig(),
		Tokens:    tokens.DefaultConfig(),
		Signals:   signals.DefaultConfig(),
		Secrets:   secrets.DefaultConfig(),
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Validate checks every section and reports all failures, prefixed with the
// section name.
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	add("server", c.Server.Validate())
	add("selection", c.Selection.Validate())
	add("assembly", c.Assembly.Validate())
	add("guard", c.Guard.Validate())
	add("backend", c.Backend.Validate())
	add("scanner", c.Scanner.Validate())
	add("watcher", c.Watcher.Validate())
	add("history", c.History.Validate())
	add("tokens", c.Tokens.Validate())
	add("signals", c.Signals.Validate())
	add("secrets", c.Secrets.Validate())
	add("logging", c.Logging.Validate())
	add("telemetry", c.Telemetry.Validate())
	return errors.Join(errs...)
}

// Validate checks the server section.
func (s ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535, got %d", s.Port)
	}
	if s.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %v", s.RateLimit)
	}
	if s.RateLimit > 0 && s.RateBurst <= 0 {
		return errors.New("rate_burst must be positive when rate_limit is set")
	}
	if s.RemoteURL != "" {
		u, err := url.Parse(s.RemoteURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote_url must be an http(s) URL, got %q", s.RemoteURL)
		}
	}
	return nil
}

// Validate checks the watcher section.
func (w WatcherConfig) Validate() error {
	if w.Enabled && w.Debounce <= 0 {
		return errors.New("debounce must be positive")
	}
	return nil
}
