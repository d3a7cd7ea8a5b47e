package monitor

import (
	"github.com/Veraticus/ctlproc/pkg/config"
	"github.com/Veraticus/ctlproc/pkg/interfaces"
)

// RuleMatcher matches the regexes of responder rules against text
type RuleMatcher struct {
	rules []config.Rule
}

// Ensure RuleMatcher implements interfaces.PatternMatcher
var _ interfaces.PatternMatcher = (*RuleMatcher)(nil)

// NewPatternMatcher creates a matcher over the enabled, compiled rules
func NewPatternMatcher(rules []config.Rule) *RuleMatcher {
	enabled := make([]config.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled && r.CompiledRegex() != nil {
			enabled = append(enabled, r)
		}
	}

	return &RuleMatcher{
		rules: enabled,
	}
}

// Match finds all rule matches in the given text, grouped by rule in
// configuration order
func (pm *RuleMatcher) Match(text string) []interfaces.MatchResult {
	var results []interfaces.MatchResult

	for i := range pm.rules {
		regex := pm.rules[i].CompiledRegex()
		if regex == nil {
			continue
		}

		for _, match := range regex.FindAllStringIndex(text, -1) {
			results = append(results, interfaces.MatchResult{
				PatternName: pm.rules[i].Name,
				Text:        text[match[0]:match[1]],
				Position:    match[0],
			})
		}
	}

	return results
}

// GetRules returns the active rules
func (pm *RuleMatcher) GetRules() []config.Rule {
	return pm.rules
}
