package secrets

import (
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Gitleaks scrubs with the gitleaks default rule set.
type Gitleaks struct {
	cfg   gitleaksConfig.Config
	allow *Allowlist
}

// NewGitleaks loads the default gitleaks configuration once and merges the
// allowlist into it.
func NewGitleaks(allow *Allowlist) (*Gitleaks, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	cfg := d.Config
	if allow != nil && len(allow.regexes)+len(allow.paths) > 0 {
		extra := &gitleaksConfig.Allowlist{Description: "ctxpack allowlist"}
		for _, re := range allow.paths {
			extra.Paths = append(extra.Paths, (*gitleaksRegexp.Regexp)(re))
		}
		for _, re := range allow.regexes {
			extra.Regexes = append(extra.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		cfg.Allowlists = append(cfg.Allowlists, extra)
	}
	return &Gitleaks{cfg: cfg, allow: allow}, nil
}

// Scrub implements Scrubber. A detector is created per call; the compiled
// configuration is shared.
func (g *Gitleaks) Scrub(path, content string) *Result {
	start := time.Now()
	res := &Result{Scrubbed: content, ByRule: map[string]int{}}
	if content == "" || g.allow.AllowsPath(path) {
		res.Duration = time.Since(start)
		return res
	}

	found := map[string]string{}
	for _, f := range detect.NewDetector(g.cfg).DetectString(content) {
		if f.Secret == "" || g.allow.AllowsMatch(f.Secret) {
			continue
		}
		res.Findings = append(res.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Length:      len(f.Secret),
		})
		res.ByRule[f.RuleID]++
		found[f.Secret] = f.RuleID
	}
	if len(found) > 0 {
		res.Scrubbed = replaceSecrets(content, found)
	}
	res.Duration = time.Since(start)
	return res
}

// IsEnabled implements Scrubber.
func (g *Gitleaks) IsEnabled() bool { return true }
