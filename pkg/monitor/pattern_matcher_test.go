package monitor

import (
	"regexp"
	"testing"

	"github.com/Veraticus/ctlproc/pkg/config"
)

// compile sets the compiled regex on every enabled rule
func compile(t *testing.T, rules []config.Rule) []config.Rule {
	t.Helper()
	for i := range rules {
		if rules[i].Enabled && rules[i].Regex != "" {
			re, err := regexp.Compile(rules[i].Regex)
			if err != nil {
				t.Fatalf("failed to compile rule %s: %v", rules[i].Name, err)
			}
			rules[i].SetCompiledRegex(re)
		}
	}
	return rules
}

func TestPatternMatcher_Match(t *testing.T) {
	rules := compile(t, []config.Rule{
		{Name: "numbers", Regex: `\d+`, Enabled: true},
		{Name: "disabled", Regex: `disabled`, Enabled: false},
		{Name: "error", Regex: `(?i)(error|failed)`, Enabled: true},
	})

	pm := NewPatternMatcher(rules)

	type match struct {
		pattern  string
		text     string
		position int
	}
	tests := []struct {
		name     string
		text     string
		expected []match
	}{
		{
			name:     "single number match",
			text:     "Found 123 items",
			expected: []match{{"numbers", "123", 6}},
		},
		{
			name: "multiple number matches",
			text: "Numbers: 123, 456, and 789",
			expected: []match{
				{"numbers", "123", 9},
				{"numbers", "456", 14},
				{"numbers", "789", 23},
			},
		},
		{
			name: "error pattern match",
			text: "ERROR: Operation failed",
			expected: []match{
				{"error", "ERROR", 0},
				{"error", "failed", 17},
			},
		},
		{
			name:     "no matches",
			text:     "This is just plain text",
			expected: nil,
		},
		{
			name:     "disabled rule not matched",
			text:     "This text contains disabled word",
			expected: nil,
		},
		{
			name: "grouped by rule order",
			text: "ERROR 404: Page not found",
			expected: []match{
				{"numbers", "404", 6},
				{"error", "ERROR", 0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := pm.Match(tt.text)

			if len(results) != len(tt.expected) {
				t.Fatalf("expected %d matches but got %d", len(tt.expected), len(results))
			}

			for i, expected := range tt.expected {
				result := results[i]
				if result.PatternName != expected.pattern {
					t.Errorf("result %d: expected pattern %s but got %s", i, expected.pattern, result.PatternName)
				}
				if result.Text != expected.text {
					t.Errorf("result %d: expected text %q but got %q", i, expected.text, result.Text)
				}
				if result.Position != expected.position {
					t.Errorf("result %d: expected position %d but got %d", i, expected.position, result.Position)
				}
			}
		})
	}
}

func TestPatternMatcher_NewPatternMatcher(t *testing.T) {
	rules := compile(t, []config.Rule{
		{Name: "enabled1", Regex: `test`, Enabled: true},
		{Name: "disabled", Regex: `test`, Enabled: false},
		{Name: "enabled2", Regex: `test`, Enabled: true},
		{Name: "no_regex", Enabled: true},
	})

	pm := NewPatternMatcher(rules)

	active := pm.GetRules()
	if len(active) != 2 {
		t.Errorf("expected 2 active rules but got %d", len(active))
	}

	for _, r := range active {
		if !r.Enabled {
			t.Errorf("found disabled rule %s", r.Name)
		}
		if r.CompiledRegex() == nil {
			t.Errorf("found rule %s without compiled regex", r.Name)
		}
	}
}

func TestPatternMatcher_EmptyRules(t *testing.T) {
	pm := NewPatternMatcher(nil)

	if results := pm.Match("test text with numbers 123"); len(results) != 0 {
		t.Errorf("expected no results but got %d", len(results))
	}
}
