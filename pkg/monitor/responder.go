// Package monitor watches a supervised child's output and answers it.
package monitor

import (
	"log/slog"
	"sync"

	"github.com/Veraticus/ctlproc/pkg/config"
	"github.com/Veraticus/ctlproc/pkg/interfaces"
	"github.com/Veraticus/ctlproc/pkg/stream"
)

// Responder writes a rule's reply to the child whenever the rule matches its
// output. Line rules match each completed line. Prompt rules match the
// unterminated line as each character arrives, for prompts that never end
// with a newline; they fire at most once per line.
type Responder struct {
	sink    interfaces.InputSink
	logger  *slog.Logger
	limiter interfaces.RateLimiter

	rules   map[string]config.Rule
	lines   map[stream.Role]interfaces.PatternMatcher
	prompts map[stream.Role]interfaces.PatternMatcher

	mu        sync.Mutex
	onceFired map[string]bool
	lineFired map[stream.Role]map[string]bool
	replies   int
	dropped   int
}

// Ensure Responder implements the handler interfaces
var (
	_ interfaces.CharHandler = (*Responder)(nil)
	_ interfaces.LineHandler = (*Responder)(nil)
)

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithResponderLogger sets the logger used when a rule fires.
func WithResponderLogger(logger *slog.Logger) ResponderOption {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRateLimiter bounds how often replies are sent. Replies the limiter
// refuses are dropped.
func WithRateLimiter(l interfaces.RateLimiter) ResponderOption {
	return func(r *Responder) {
		r.limiter = l
	}
}

// NewResponder creates a responder for the enabled, compiled rules, replying
// through sink.
func NewResponder(rules []config.Rule, sink interfaces.InputSink, opts ...ResponderOption) *Responder {
	r := &Responder{
		sink:      sink,
		logger:    slog.Default(),
		rules:     make(map[string]config.Rule),
		lines:     make(map[stream.Role]interfaces.PatternMatcher),
		prompts:   make(map[stream.Role]interfaces.PatternMatcher),
		onceFired: make(map[string]bool),
		lineFired: make(map[stream.Role]map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	active := NewPatternMatcher(rules).GetRules()
	for _, role := range []stream.Role{stream.RoleStdout, stream.RoleStderr} {
		var lineRules, promptRules []config.Rule
		for _, rule := range active {
			if !rule.AppliesTo(role) {
				continue
			}
			r.rules[rule.Name] = rule
			if rule.Prompt {
				promptRules = append(promptRules, rule)
			} else {
				lineRules = append(lineRules, rule)
			}
		}
		r.lines[role] = NewPatternMatcher(lineRules)
		r.prompts[role] = NewPatternMatcher(promptRules)
		r.lineFired[role] = make(map[string]bool)
	}

	return r
}

// Attach subscribes the responder to src and returns a function that
// detaches it.
func (r *Responder) Attach(src interfaces.EventSource) func() {
	unsubs := []func(){
		src.OnOutputChar(r.HandleChar),
		src.OnErrorChar(r.HandleChar),
		src.OnOutputLine(r.HandleLine),
		src.OnErrorLine(r.HandleLine),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// HandleChar implements interfaces.CharHandler
func (r *Responder) HandleChar(e stream.CharEvent) {
	if e.Char == '\n' {
		return
	}
	matcher, ok := r.prompts[e.Role]
	if !ok {
		return
	}

	text := StripEscapes(e.Line + string(e.Char))
	r.respond(e.Role, text, matcher.Match(text))
}

// HandleLine implements interfaces.LineHandler
func (r *Responder) HandleLine(e stream.LineEvent) {
	matcher, ok := r.lines[e.Role]
	if !ok {
		return
	}

	text := StripEscapes(e.Line)
	r.respond(e.Role, text, matcher.Match(text))

	// A new line starts; prompt rules may fire again.
	r.mu.Lock()
	r.lineFired[e.Role] = make(map[string]bool)
	r.mu.Unlock()
}

// respond sends the reply of every rule in matches, once per rule.
func (r *Responder) respond(role stream.Role, text string, matches []interfaces.MatchResult) {
	if len(matches) == 0 {
		return
	}

	var replies []config.Rule
	r.mu.Lock()
	for _, m := range matches {
		rule, ok := r.rules[m.PatternName]
		if !ok || r.lineFired[role][rule.Name] {
			continue
		}
		if rule.Once && r.onceFired[rule.Name] {
			continue
		}

		r.lineFired[role][rule.Name] = true
		if r.limiter != nil && !r.limiter.Allow() {
			r.dropped++
			r.logger.Warn("reply suppressed by rate limit", "rule", rule.Name, "role", role.String())
			continue
		}
		if rule.Once {
			r.onceFired[rule.Name] = true
		}
		r.replies++
		replies = append(replies, rule)
	}
	r.mu.Unlock()

	for _, rule := range replies {
		r.logger.Debug("rule matched, replying", "rule", rule.Name, "role", role.String(), "text", text)
		r.sink.SetInput(rule.Reply)
	}
}

// Replies returns how many replies have been sent
func (r *Responder) Replies() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replies
}

// Dropped returns how many replies the rate limiter suppressed
func (r *Responder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
