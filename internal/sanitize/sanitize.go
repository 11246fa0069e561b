// Package sanitize cleans model output before it is appended to a history.
package sanitize

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const matchTimeout = 250 * time.Millisecond

type rule struct {
	name string
	re   *regexp2.Regexp
	repl string
}

func mustRule(name, pattern, repl string, opts regexp2.RegexOptions) rule {
	re := regexp2.MustCompile(pattern, opts)
	re.MatchTimeout = matchTimeout
	return rule{name: name, re: re, repl: repl}
}

var (
	ansiRule = mustRule("ansi", `\x1b(?:\[[0-9;?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\))`, "", regexp2.None)

	thinkingRule = mustRule("thinking", `<(thinking|reasoning)>.*?</\1>\s*`, "", regexp2.Singleline|regexp2.IgnoreCase)

	// Only strip the speaker label when real content follows it.
	prefixRule = mustRule("prefix", `\A\s*(?:assistant|ai)\s*:[ \t]*(?=\S)`, "", regexp2.IgnoreCase)

	roleTagRule = mustRule("role-tag", `<\|(?:im_start|im_end|im_sep|endoftext|eot_id|start_header_id|end_header_id)\|>(?:(?:system|user|assistant)(?=\s|<|$))?`, "", regexp2.None)

	newlineRule = mustRule("newlines", `\n{3,}`, "\n\n", regexp2.None)
)

// Sanitizer strips terminal escapes, hidden reasoning, speaker labels and
// chat-template tokens from model text. The zero value is not usable; use New.
type Sanitizer struct {
	rules []rule
}

func New() *Sanitizer {
	return &Sanitizer{rules: []rule{ansiRule, thinkingRule, prefixRule, roleTagRule}}
}

// WithPattern returns a copy of s that also replaces matches of pattern with
// repl. Extra patterns run after the builtin ones, before whitespace cleanup.
func (s *Sanitizer) WithPattern(pattern, repl string) (*Sanitizer, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("sanitize: compile %q: %w", pattern, err)
	}
	re.MatchTimeout = matchTimeout
	rules := append(append([]rule{}, s.rules...), rule{name: pattern, re: re, repl: repl})
	return &Sanitizer{rules: rules}, nil
}

// Clean applies every rule in order, collapses runs of blank lines and trims
// the result. A rule that times out is skipped.
func (s *Sanitizer) Clean(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, r := range s.rules {
		text = r.apply(text)
	}
	text = newlineRule.apply(text)
	return strings.TrimSpace(text)
}

func (r rule) apply(text string) string {
	out, err := r.re.Replace(text, r.repl, -1, -1)
	if err != nil {
		return text
	}
	return out
}
