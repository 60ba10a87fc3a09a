package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/clinsafe/phigate/pkg/finalscan"
)

// PolicyProfile is a site-specific extension of the scanning policy.
// It can add final-scan rules and set quarantine defaults; it cannot
// change the severity of the built-in table.
type PolicyProfile struct {
	Name       string           `yaml:"name" json:"name"`
	Quarantine QuarantineConfig `yaml:"quarantine" json:"quarantine"`
	Rules      []RuleSpec       `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// QuarantineConfig holds vault defaults per profile.
type QuarantineConfig struct {
	DefaultExpiryHours int `yaml:"default_expiry_hours" json:"default_expiry_hours"`
}

// RuleSpec is one additional final-scan rule in YAML form.
type RuleSpec struct {
	Type           string `yaml:"type" json:"type"`
	Pattern        string `yaml:"pattern" json:"pattern"`
	Severity       string `yaml:"severity" json:"severity"`
	Recommendation string `yaml:"recommendation" json:"recommendation"`
}

// LoadProfile reads and validates a policy profile YAML file.
func LoadProfile(path string) (*PolicyProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var profile PolicyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}

	if _, err := profile.CompileRules(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// CompileRules converts the profile's rule specs into engine rules.
func (p *PolicyProfile) CompileRules() ([]finalscan.Rule, error) {
	rules := make([]finalscan.Rule, 0, len(p.Rules))
	for i, spec := range p.Rules {
		if spec.Type == "" || spec.Pattern == "" {
			return nil, fmt.Errorf("profile %q: rule %d missing type or pattern", p.Name, i)
		}

		severity, err := parseSeverity(spec.Severity)
		if err != nil {
			return nil, fmt.Errorf("profile %q: rule %d: %w", p.Name, i, err)
		}

		matcher, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("profile %q: rule %d pattern: %w", p.Name, i, err)
		}

		rules = append(rules, finalscan.Rule{
			Type:           finalscan.DetectionType(spec.Type),
			Matcher:        matcher,
			Severity:       severity,
			Recommendation: spec.Recommendation,
		})
	}
	return rules, nil
}

func parseSeverity(s string) (finalscan.Severity, error) {
	switch finalscan.Severity(s) {
	case finalscan.SeverityCritical, finalscan.SeverityHigh, finalscan.SeverityMedium:
		return finalscan.Severity(s), nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}
