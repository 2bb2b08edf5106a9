// Package rules holds the guideline rule registry: the mapping from clinical
// indicators to their expected recurrence interval and grace period.
package rules

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/concordance-score-server/internal/domain"
)

// Registry resolves guideline rules by indicator ID. Lookup is
// case-insensitive; the original indicator spelling is preserved in the
// returned rules. A Registry is immutable after construction and safe for
// concurrent use.
type Registry struct {
	rules map[string]domain.GuidelineRule
}

// NewRegistry builds a registry from explicit rules.
func NewRegistry(rules []domain.GuidelineRule) (*Registry, error) {
	byID := make(map[string]domain.GuidelineRule, len(rules))
	for _, rule := range rules {
		if rule.IndicatorID == "" {
			return nil, domain.NewValidationError("indicator_id", "must not be empty", rule.IndicatorID)
		}
		if rule.ExpectedIntervalDays <= 0 {
			return nil, domain.NewValidationError("expected_interval_days", "must be positive", rule.ExpectedIntervalDays)
		}
		if rule.GraceDays < 0 {
			return nil, domain.NewValidationError("grace_days", "must not be negative", rule.GraceDays)
		}
		key := strings.ToLower(rule.IndicatorID)
		if _, dup := byID[key]; dup {
			return nil, domain.NewValidationError("indicator_id", "duplicate indicator (case-insensitive)", rule.IndicatorID)
		}
		byID[key] = rule
	}
	return &Registry{rules: byID}, nil
}

// ruleFile is the long-form YAML layout.
type ruleFile struct {
	Indicators []domain.GuidelineRule `yaml:"indicators"`
}

// LoadFile reads guideline rules from a YAML file. Two layouts are accepted:
//
// The long form spells out each rule:
//
//	indicators:
//	  - indicator_id: eGFR
//	    expected_interval_days: 365
//	    grace_days: 14
//
// The short form is the validity-periods table the ratio model was published
// with, mapping indicator to validity duration in days; defaultGraceDays
// applies to every entry:
//
//	eGFR: 365
//	HbA1c: 182
func LoadFile(path string, defaultGraceDays int) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	registry, err := Parse(data, defaultGraceDays)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return registry, nil
}

// Parse parses YAML rule definitions from memory. See LoadFile for the
// accepted layouts.
func Parse(data []byte, defaultGraceDays int) (*Registry, error) {
	var long ruleFile
	if err := yaml.Unmarshal(data, &long); err == nil && len(long.Indicators) > 0 {
		return NewRegistry(long.Indicators)
	}

	var short map[string]int
	if err := yaml.Unmarshal(data, &short); err != nil {
		return nil, fmt.Errorf("unrecognized rules layout: %w", err)
	}
	if len(short) == 0 {
		return nil, fmt.Errorf("rules definition is empty")
	}

	ruleList := make([]domain.GuidelineRule, 0, len(short))
	for indicator, validityDays := range short {
		ruleList = append(ruleList, domain.GuidelineRule{
			IndicatorID:          indicator,
			ExpectedIntervalDays: validityDays,
			GraceDays:            defaultGraceDays,
		})
	}
	// Map iteration order is random; keep construction deterministic.
	sort.Slice(ruleList, func(i, j int) bool { return ruleList[i].IndicatorID < ruleList[j].IndicatorID })
	return NewRegistry(ruleList)
}

// Rule returns the rule for an indicator, matching case-insensitively.
func (r *Registry) Rule(indicatorID string) (domain.GuidelineRule, error) {
	rule, ok := r.rules[strings.ToLower(indicatorID)]
	if !ok {
		return domain.GuidelineRule{}, domain.NewInputError(domain.ErrRuleNotFound,
			fmt.Sprintf("no guideline rule for indicator %q", indicatorID), "")
	}
	return rule, nil
}

// Indicators lists the registered indicator IDs in their original spelling,
// sorted for stable output.
func (r *Registry) Indicators() []string {
	out := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule.IndicatorID)
	}
	sort.Strings(out)
	return out
}

// Rules returns all registered rules sorted by indicator ID.
func (r *Registry) Rules() []domain.GuidelineRule {
	out := make([]domain.GuidelineRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IndicatorID < out[j].IndicatorID })
	return out
}
