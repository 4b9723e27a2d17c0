package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Marker replaces values the caller declared secret.
const Marker = "[REDACTED]"

// Finding is a secret located by the Gitleaks rule set.
type Finding struct {
	RuleID string
	Line   int
	Match  string
}

// Redactor scrubs secrets from text. It is safe for concurrent use.
type Redactor struct {
	base gitleaksConfig.Config
}

// NewRedactor loads the default Gitleaks rules once, extended with the
// allowlist. A nil allowlist adds nothing.
func NewRedactor(allowlist *Allowlist) (*Redactor, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	cfg := d.Config
	if allowlist != nil && (len(allowlist.Regexes) > 0 || len(allowlist.StopWords) > 0) {
		global := &gitleaksConfig.Allowlist{Description: "solvd allowlist"}
		for _, pattern := range allowlist.Regexes {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRegex, pattern, err)
			}
			global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		global.StopWords = append(global.StopWords, allowlist.StopWords...)
		cfg.Allowlists = append(cfg.Allowlists, global)
	}
	return &Redactor{base: cfg}, nil
}

// Detect returns the Gitleaks findings in content.
func (r *Redactor) Detect(content string) []Finding {
	// Detectors accumulate findings internally, so each scan gets its own.
	found := detect.NewDetector(r.base).DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Match: f.Secret})
	}
	return out
}

// Scrub replaces every occurrence of the known values with Marker, then
// replaces each Gitleaks finding with [REDACTED:<rule>].
func (r *Redactor) Scrub(content string, known ...string) string {
	content = ScrubKnown(content, known...)
	if content == "" {
		return content
	}

	findings := r.Detect(content)
	// Longest first so a secret that contains another is replaced whole.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Match) > len(findings[j].Match)
	})
	for _, f := range findings {
		if f.Match == "" {
			continue
		}
		content = strings.ReplaceAll(content, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return content
}

// ScrubKnown replaces exact occurrences of the given values with Marker.
// Empty values are ignored.
func ScrubKnown(content string, known ...string) string {
	for _, v := range known {
		if v == "" {
			continue
		}
		content = strings.ReplaceAll(content, v, Marker)
	}
	return content
}
