package logging

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is one of trace, debug, info, warn, error.
	Level     string            `json:"level" koanf:"level"`
	Format    string            `json:"format" koanf:"format"`
	Output    OutputConfig      `json:"output" koanf:"output"`
	Sampling  SamplingConfig    `json:"sampling" koanf:"sampling"`
	Caller    bool              `json:"caller" koanf:"caller"`
	Fields    map[string]string `json:"fields" koanf:"fields"`
	Redaction RedactionConfig   `json:"redaction" koanf:"redaction"`
}

// OutputConfig selects log sinks.
type OutputConfig struct {
	Stderr bool `json:"stderr" koanf:"stderr"`
	OTEL   bool `json:"otel" koanf:"otel"`
}

// SamplingConfig limits repeated entries below error level. Within each Tick
// the first Initial entries with the same message are kept, then every
// Thereafter-th.
type SamplingConfig struct {
	Enabled    bool          `json:"enabled" koanf:"enabled"`
	Tick       time.Duration `json:"tick" koanf:"tick"`
	Initial    int           `json:"initial" koanf:"initial"`
	Thereafter int           `json:"thereafter" koanf:"thereafter"`
}

// RedactionConfig masks sensitive values.
type RedactionConfig struct {
	Enabled  bool     `json:"enabled" koanf:"enabled"`
	Fields   []string `json:"fields" koanf:"fields"`
	Patterns []string `json:"patterns" koanf:"patterns"`
}

// NewDefaultConfig returns console logging at info level on stderr.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "console",
		Output: OutputConfig{Stderr: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Fields: map[string]string{"service": "ctxpack"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields:  []string{"password", "secret", "token", "api_key", "authorization", "credential", "private_key"},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`nats://[^:/\s]+:[^@\s]+@`,
			},
		},
	}
}

// ZapLevel parses Level.
func (c *Config) ZapLevel() (zapcore.Level, error) {
	return LevelFromString(c.Level)
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if _, err := c.ZapLevel(); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stderr or otel)")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
		}
		if c.Sampling.Initial < 0 || c.Sampling.Thereafter < 0 {
			return fmt.Errorf("sampling initial and thereafter must be >= 0")
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
