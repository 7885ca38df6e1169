package phone

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStripFormattingKeepsOnlyLeadingPlus(t *testing.T) {
	cases := map[string]string{
		"+31 (6) 12-34 56 78": "+31612345678",
		"06-1234 5678":        "0612345678",
		"  +1 555+123 ":       "+1555123",
		"tel: 555":            "555",
		"abc":                 "",
	}
	for in, want := range cases {
		if got := StripFormatting(in); got != want {
			t.Fatalf("StripFormatting(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeAppliesLongestPrefixRuleFirst(t *testing.T) {
	n := NewNormalizer(Rules{Prefixes: []PrefixRule{
		{Prefix: "0", Replace: "+31"},
		{Prefix: "0031", Replace: "+31"},
	}})

	if got := n.Normalize("0031 6 1234 5678"); got != "+31612345678" {
		t.Fatalf("expected +31612345678, got %q", got)
	}
	if got := n.Normalize("06 1234 5678"); got != "+31612345678" {
		t.Fatalf("expected +31612345678, got %q", got)
	}
	if got := n.Normalize("+44 20 7946 0958"); got != "+442079460958" {
		t.Fatalf("expected international number untouched, got %q", got)
	}
}

func TestNormalizeWithoutRulesOnlyStrips(t *testing.T) {
	n := NewNormalizer(Rules{})

	if got := n.Normalize("06-12 34"); got != "061234" {
		t.Fatalf("expected 061234, got %q", got)
	}
	if got := n.Normalize("+"); got != "" {
		t.Fatalf("expected empty identity for bare plus, got %q", got)
	}
}

func TestNormalizeFormatsE164WithRegion(t *testing.T) {
	n := NewNormalizer(Rules{DefaultRegion: "nl"})

	if got := n.Normalize("06 12345678"); got != "+31612345678" {
		t.Fatalf("expected +31612345678, got %q", got)
	}
}

func TestParsePrefixRules(t *testing.T) {
	rules, err := ParsePrefixRules("0=+31, 00=+")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 2 || rules[1].Prefix != "00" || rules[1].Replace != "+" {
		t.Fatalf("unexpected rules: %+v", rules)
	}

	if _, err := ParsePrefixRules("=+31"); err == nil {
		t.Fatalf("expected error for empty prefix")
	}
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phone.yaml")
	content := "defaultRegion: BE\nprefixes:\n  - prefix: \"0032\"\n    replace: \"+32\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRulesFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules.DefaultRegion != "BE" || len(rules.Prefixes) != 1 || rules.Prefixes[0].Replace != "+32" {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}
