package secrets

import (
	"regexp"
	"strings"
	"time"
)

// Rule is a regex secret pattern for the rules engine. Keywords, when set,
// must appear (case-insensitively) in the content for the rule to run.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	Keywords    []string
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Rules scrubs with a fixed list of regular expressions.
type Rules struct {
	rules []compiledRule
	allow *Allowlist
}

// NewRules compiles rules. Invalid patterns are skipped.
func NewRules(rules []Rule, allow *Allowlist) *Rules {
	r := &Rules{allow: allow}
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			continue
		}
		r.rules = append(r.rules, compiledRule{Rule: rule, re: re})
	}
	return r
}

// Scrub implements Scrubber.
func (r *Rules) Scrub(path, content string) *Result {
	start := time.Now()
	res := &Result{Scrubbed: content, ByRule: map[string]int{}}
	if content == "" || r.allow.AllowsPath(path) {
		res.Duration = time.Since(start)
		return res
	}

	lower := strings.ToLower(content)
	found := map[string]string{}
	for _, rule := range r.rules {
		if !hasKeyword(lower, rule.Keywords) {
			continue
		}
		for _, loc := range rule.re.FindAllStringIndex(content, -1) {
			match := content[loc[0]:loc[1]]
			if r.allow.AllowsMatch(match) {
				continue
			}
			if _, dup := found[match]; dup {
				continue
			}
			res.Findings = append(res.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Line:        strings.Count(content[:loc[0]], "\n") + 1,
				Length:      len(match),
			})
			res.ByRule[rule.ID]++
			found[match] = rule.ID
		}
	}
	if len(found) > 0 {
		res.Scrubbed = replaceSecrets(content, found)
	}
	res.Duration = time.Since(start)
	return res
}

// IsEnabled implements Scrubber.
func (r *Rules) IsEnabled() bool { return true }

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// DefaultRules covers self-identifying token formats.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Description: "AWS Access Key ID", Pattern: `(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`},
		{ID: "private-key", Description: "Private Key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`},
		{ID: "github-token", Description: "GitHub Personal Access Token", Pattern: `gh[pousr]_[A-Za-z0-9]{36}`},
		{ID: "github-fine-grained", Description: "GitHub Fine-grained Token", Pattern: `github_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Description: "GitLab Personal Access Token", Pattern: `glpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Description: "Slack Token", Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Description: "Stripe API Key", Pattern: `(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`},
		{ID: "openai-api-key", Description: "OpenAI API Key", Pattern: `sk-(?:proj-)?[A-Za-z0-9]{40,}`},
		{ID: "anthropic-api-key", Description: "Anthropic API Key", Pattern: `sk-ant-[A-Za-z0-9_\-]{90,}`},
		{ID: "google-api-key", Description: "Google API Key", Pattern: `AIza[A-Za-z0-9_\-]{35}`},
		{ID: "npm-token", Description: "npm Access Token", Pattern: `npm_[A-Za-z0-9]{36}`},
		{ID: "sendgrid-api-key", Description: "SendGrid API Key", Pattern: `SG\.[A-Za-z0-9_\-]{22,}\.[A-Za-z0-9_\-]{43,}`},
		{ID: "jwt", Description: "JSON Web Token", Pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`},
		{
			ID:          "database-url",
			Description: "Database URL with credentials",
			Pattern:     `(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:\s/]+:[^@\s]+@[^\s'"]+`,
			Keywords:    []string{"://"},
		},
	}
}
