package knowledge

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// RuleSet holds the fixed rules and the review-only coding conventions.
type RuleSet struct {
	CodingRules map[string][]string `yaml:"coding_rules"`
	Rules       []string            `yaml:"rules"`
}

// DefaultRuleSet returns the embedded rule set.
func DefaultRuleSet() (*RuleSet, error) {
	return ParseRuleSet(defaultRules)
}

// LoadRuleSet reads a rules file, or the embedded default when path is empty.
func LoadRuleSet(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRuleSet()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules %s: %w", path, err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes a rule set. At least one rule is required.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("rules file defines no rules")
	}
	return &rs, nil
}
