// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"leadrouting_backend/platform/config"

	"github.com/nyaruka/phonenumbers"
	"gopkg.in/yaml.v3"
)

// PrefixRule rewrites a leading national or international dialing prefix,
// e.g. {Prefix: "0", Replace: "+31"} or {Prefix: "00", Replace: "+"}.
type PrefixRule struct {
	Prefix  string `yaml:"prefix"`
	Replace string `yaml:"replace"`
}

// Rules is the injected normalization configuration.
type Rules struct {
	// DefaultRegion is an ISO 3166 region code used for E.164 formatting. Empty disables it.
	DefaultRegion string       `yaml:"defaultRegion"`
	Prefixes      []PrefixRule `yaml:"prefixes"`
}

// Normalizer turns free-form phone input into a comparable identity key.
type Normalizer struct {
	region   string
	prefixes []PrefixRule
}

// NewNormalizer builds a normalizer from rules. Prefix rules are applied
// longest-prefix first so "0031" wins over "0".
func NewNormalizer(rules Rules) *Normalizer {
	prefixes := make([]PrefixRule, 0, len(rules.Prefixes))
	for _, rule := range rules.Prefixes {
		p := StripFormatting(rule.Prefix)
		if p == "" {
			continue
		}
		prefixes = append(prefixes, PrefixRule{Prefix: p, Replace: StripFormatting(rule.Replace)})
	}
	sort.SliceStable(prefixes, func(i, j int) bool {
		return len(prefixes[i].Prefix) > len(prefixes[j].Prefix)
	})

	return &Normalizer{
		region:   strings.ToUpper(strings.TrimSpace(rules.DefaultRegion)),
		prefixes: prefixes,
	}
}

// Normalize strips formatting, applies the first matching prefix rule and,
// when a default region is configured and the number is valid, formats it as E.164.
// Returns "" when the input carries no digits.
func (n *Normalizer) Normalize(input string) string {
	stripped := StripFormatting(input)
	if strings.TrimPrefix(stripped, "+") == "" {
		return ""
	}

	for _, rule := range n.prefixes {
		if strings.HasPrefix(stripped, rule.Prefix) {
			stripped = rule.Replace + strings.TrimPrefix(stripped, rule.Prefix)
			break
		}
	}

	if n.region == "" {
		return stripped
	}

	number, err := phonenumbers.Parse(stripped, n.region)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return stripped
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

// StripFormatting removes every character except digits and a single leading '+'.
func StripFormatting(input string) string {
	trimmed := strings.TrimSpace(input)
	var b strings.Builder
	b.Grow(len(trimmed))
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParsePrefixRules parses the inline form "0=+31,0031=+31".
func ParsePrefixRules(raw string) ([]PrefixRule, error) {
	var rules []PrefixRule
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, replace, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(prefix) == "" {
			return nil, fmt.Errorf("invalid phone prefix rule %q", part)
		}
		rules = append(rules, PrefixRule{Prefix: strings.TrimSpace(prefix), Replace: strings.TrimSpace(replace)})
	}
	return rules, nil
}

// LoadRulesFile reads rules from a YAML file:
//
//	defaultRegion: NL
//	prefixes:
//	  - prefix: "0031"
//	    replace: "+31"
func LoadRulesFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, err
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse phone rules %s: %w", path, err)
	}
	return rules, nil
}

// RulesFromConfig resolves the configured rules. A rules file takes precedence;
// inline prefix rules and the default region are used otherwise.
func RulesFromConfig(cfg config.PhoneConfig) (Rules, error) {
	if path := strings.TrimSpace(cfg.GetPhoneRulesFile()); path != "" {
		return LoadRulesFile(path)
	}
	prefixes, err := ParsePrefixRules(cfg.GetPhonePrefixRules())
	if err != nil {
		return Rules{}, err
	}
	return Rules{DefaultRegion: cfg.GetPhoneDefaultRegion(), Prefixes: prefixes}, nil
}
