package turns

import (
	"errors"
	"fmt"
	"slices"
)

// ViolationKind classifies a grammar violation.
type ViolationKind string

const (
	KindStartRole            ViolationKind = "start_role"
	KindAlternation          ViolationKind = "alternation"
	KindConsecutiveAssistant ViolationKind = "consecutive_assistant"
	KindOrphanedTool         ViolationKind = "orphaned_tool"
	KindNoToolCalls          ViolationKind = "no_tool_calls"
	KindCallIDMismatch       ViolationKind = "call_id_mismatch"
	KindUnknownRole          ViolationKind = "unknown_role"
)

// Violation is a single grammar violation at a message index.
type Violation struct {
	Index   int           `json:"index"`
	Kind    ViolationKind `json:"kind"`
	Message string        `json:"message"`
}

// ValidationResult reports every violation found in a history. IsValid is
// true iff Errors is empty; Errors[i] is Violations[i].Message.
type ValidationResult struct {
	IsValid    bool        `json:"is_valid"`
	Errors     []string    `json:"errors"`
	Violations []Violation `json:"violations,omitempty"`
}

// Err returns nil for a valid result, otherwise all errors joined.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = errors.New(e)
	}
	return errors.Join(errs...)
}

// Has reports whether any violation of the given kind was recorded.
func (r ValidationResult) Has(kind ViolationKind) bool {
	return slices.ContainsFunc(r.Violations, func(v Violation) bool { return v.Kind == kind })
}

type collector struct {
	violations []Violation
}

func (c *collector) add(index int, kind ViolationKind, format string, args ...any) {
	msg := fmt.Sprintf("message %d: ", index) + fmt.Sprintf(format, args...)
	c.violations = append(c.violations, Violation{Index: index, Kind: kind, Message: msg})
}

func (c *collector) result() ValidationResult {
	res := ValidationResult{Errors: []string{}, Violations: c.violations}
	for _, v := range c.violations {
		res.Errors = append(res.Errors, v.Message)
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

// Validate checks h against the turn grammar and returns every violation,
// ordered by pass (start role, alternation, tool correlation, unknown roles)
// and then by position. It never fails; an empty history is valid.
func Validate(h History) ValidationResult {
	var c collector
	if len(h) == 0 {
		return c.result()
	}

	if first := h[0].Role; first != RoleSystem && first != RoleUser {
		c.add(0, KindStartRole, "history must start with a system or user message, got %q", first)
	}

	for i := 1; i < len(h); i++ {
		prev, curr := h[i-1], h[i]
		if prev.Role == RoleTool || curr.Role == RoleTool {
			continue
		}
		switch {
		case prev.Role == RoleUser && curr.Role != RoleAssistant:
			c.add(i, KindAlternation, "user message must be followed by an assistant message, got %q", curr.Role)
		case prev.Role == RoleAssistant && curr.Role == RoleAssistant:
			if !prev.HasToolCalls() || !toolSinceUser(h, i-1) {
				c.add(i, KindConsecutiveAssistant, "consecutive assistant messages without an intervening tool result")
			}
		}
	}

	for i, m := range h {
		if m.Role != RoleTool {
			continue
		}
		j := precedingNonTool(h, i)
		switch {
		case j < 0 || h[j].Role != RoleAssistant:
			c.add(i, KindOrphanedTool, "tool message without a preceding assistant message")
		case !h[j].HasToolCalls():
			c.add(i, KindNoToolCalls, "tool message follows an assistant message that didn't call any tools")
		case m.ToolCallID != "" && !slices.Contains(h[j].ToolCallIDs(), m.ToolCallID):
			c.add(i, KindCallIDMismatch, "tool_call_id %q does not match any tool call on the preceding assistant message", m.ToolCallID)
		}
	}

	for i, m := range h {
		if !m.Role.Valid() {
			c.add(i, KindUnknownRole, "unknown role %q", m.Role)
		}
	}

	return c.result()
}

// toolSinceUser scans backward from index from (inclusive) until a user
// message or the start of history and reports whether a tool message was seen.
func toolSinceUser(h History, from int) bool {
	for j := from; j >= 0 && h[j].Role != RoleUser; j-- {
		if h[j].Role == RoleTool {
			return true
		}
	}
	return false
}

// precedingNonTool returns the index of the nearest message before i whose
// role is not tool, or -1.
func precedingNonTool(h History, i int) int {
	for j := i - 1; j >= 0; j-- {
		if h[j].Role != RoleTool {
			return j
		}
	}
	return -1
}
