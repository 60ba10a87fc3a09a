package detect

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// pattern binds one compiled regex to the finding type it produces.
type pattern struct {
	typ        FindingType
	re         *regexp.Regexp
	confidence float64
}

// RegexScanner is the built-in Scanner. It is deterministic and fully
// local; production deployments may swap in an NER-backed adapter, but
// this one has no external dependencies and never fails transiently.
type RegexScanner struct {
	patterns []pattern
}

// NewRegexScanner builds the default pattern set.
func NewRegexScanner() *RegexScanner {
	return &RegexScanner{
		patterns: []pattern{
			{TypeGovernmentID, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), 0.99},
			{TypeMedicalRecord, regexp.MustCompile(`\b(?i:MRN)[:#\s]*\d{6,10}\b`), 0.95},
			{TypeInsuranceID, regexp.MustCompile(`\b(?i:(?:member|policy|insurance))\s*(?:ID|#|No\.?)[:\s]*[A-Z0-9]{6,12}\b`), 0.85},
			{TypeAccountNumber, regexp.MustCompile(`\b(?i:(?:account|acct))\s*(?:#|No\.?|number)[:\s]*\d{6,14}\b`), 0.85},
			{TypeDateOfBirth, regexp.MustCompile(`\b(?i:DOB|date of birth|born(?: on)?)[:\s]*\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`), 0.90},
			{TypeName, regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`), 0.80},
			{TypeEmail, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), 0.95},
			{TypePhone, regexp.MustCompile(`\b(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`), 0.80},
			{TypeAddress, regexp.MustCompile(`\b\d{1,5}\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln|Court|Ct)\.?\b`), 0.75},
		},
	}
}

// Scan returns positional findings for every pattern match, ordered by
// start index.
func (s *RegexScanner) Scan(ctx context.Context, text string) ([]Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	var findings []Finding
	for _, p := range s.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{
				Type:       p.typ,
				StartIndex: loc[0],
				EndIndex:   loc[1],
				Confidence: p.confidence,
			})
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].StartIndex != findings[j].StartIndex {
			return findings[i].StartIndex < findings[j].StartIndex
		}
		return findings[i].EndIndex < findings[j].EndIndex
	})
	return findings, nil
}

// HasPHI short-circuits on the first match.
func (s *RegexScanner) HasPHI(ctx context.Context, text string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("detect: %w", err)
	}

	for _, p := range s.patterns {
		if p.re.MatchString(text) {
			return true, nil
		}
	}
	return false, nil
}

// Redact replaces every match with a type-tagged placeholder.
func (s *RegexScanner) Redact(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("detect: %w", err)
	}

	out := text
	for _, p := range s.patterns {
		out = p.re.ReplaceAllString(out, "[REDACTED_"+string(p.typ)+"]")
	}
	return out, nil
}

var _ Scanner = (*RegexScanner)(nil)
