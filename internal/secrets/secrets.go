// Package secrets redacts credentials from file content before it is written
// into a built context.
//
// Two engines are available. The gitleaks engine uses the full gitleaks rule
// set and is the default. The rules engine runs a small set of prefix-anchored
// regular expressions and is used when gitleaks cannot initialise or when
// speed matters more than coverage. Both honour a TOML allowlist in the
// gitleaks format.
package secrets

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Engine names.
const (
	EngineGitleaks = "gitleaks"
	EngineRules    = "rules"
)

var (
	ErrInvalidRegex  = errors.New("invalid regex pattern")
	ErrInvalidTOML   = errors.New("invalid TOML format")
	ErrUnknownEngine = errors.New("unknown secrets engine")
)

// Config configures redaction.
type Config struct {
	Enabled bool   `json:"enabled" koanf:"enabled"`
	Engine  string `json:"engine" koanf:"engine"`
	// AllowlistFile is an extra gitleaks-format TOML file merged with the
	// project's .gitleaks.toml.
	AllowlistFile string `json:"allowlist_file" koanf:"allowlist_file"`
}

// DefaultConfig enables the gitleaks engine.
func DefaultConfig() Config {
	return Config{Enabled: true, Engine: EngineGitleaks}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Engine {
	case "", EngineGitleaks, EngineRules:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownEngine, c.Engine)
}

// Finding is one detected secret. The secret value itself is never kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line,omitempty"`
	Length      int    `json:"length"`
}

// Result is the outcome of scrubbing one piece of content.
type Result struct {
	Scrubbed string         `json:"-"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Summary is a one-line description suitable for a build warning.
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets detected"
	}
	rules := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		rules = append(rules, id)
	}
	sort.Strings(rules)
	return fmt.Sprintf("%d secret(s) redacted (%s)", len(r.Findings), strings.Join(rules, ", "))
}

// Scrubber redacts secrets from file content.
type Scrubber interface {
	// Scrub returns content with every secret replaced by a marker. path is
	// used for allowlist path matching and may be empty.
	Scrub(path, content string) *Result
	IsEnabled() bool
}

// New builds the scrubber described by cfg for a project. When the gitleaks
// engine cannot be initialised the rules engine is returned together with
// the initialisation error, so callers can log and carry on.
func New(cfg Config, projectPath string) (Scrubber, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	allow, err := LoadAllowlists(projectPath, cfg.AllowlistFile)
	if err != nil {
		return nil, err
	}

	switch cfg.Engine {
	case "", EngineGitleaks:
		s, gerr := NewGitleaks(allow)
		if gerr != nil {
			return NewRules(DefaultRules(), allow), fmt.Errorf("gitleaks unavailable, using rules engine: %w", gerr)
		}
		return s, nil
	case EngineRules:
		return NewRules(DefaultRules(), allow), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}

// marker is the replacement text for a secret.
func marker(ruleID string) string {
	return "[REDACTED:" + ruleID + "]"
}

// replaceSecrets substitutes every occurrence of each secret, longest first
// so that a secret containing another is replaced whole.
func replaceSecrets(content string, secrets map[string]string) string {
	values := make([]string, 0, len(secrets))
	for v := range secrets {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	for _, v := range values {
		content = strings.ReplaceAll(content, v, marker(secrets[v]))
	}
	return content
}

// Noop leaves content untouched.
type Noop struct{}

func (Noop) Scrub(_, content string) *Result {
	return &Result{Scrubbed: content, ByRule: map[string]int{}}
}

func (Noop) IsEnabled() bool { return false }
