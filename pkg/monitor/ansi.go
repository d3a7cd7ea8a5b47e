package monitor

import (
	"regexp"
	"strings"
)

// escapeSequence matches CSI sequences, OSC sequences ended by BEL or ST, and
// two-byte escapes such as a terminal reset.
var escapeSequence = regexp.MustCompile(`\x1b(?:\[[0-?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[@-~])`)

// StripEscapes removes terminal escape sequences and carriage returns, so
// rules match what a user would see rather than the raw terminal stream.
func StripEscapes(s string) string {
	if !strings.ContainsAny(s, "\x1b\r") {
		return s
	}
	s = escapeSequence.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\r", "")
}
