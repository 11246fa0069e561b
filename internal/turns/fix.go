package turns

// Placeholder content inserted by Fix.
const (
	PlaceholderSystem    = "You are a helpful assistant"
	PlaceholderAssistant = "I understand."
	PlaceholderUser      = "Continue."
)

// Fix returns a copy of h repaired by inserting placeholder turns: a system
// message when h does not open with system or user, an assistant message
// between two user messages, and a user message between two assistant
// messages, even when tool replies sit between them. Tool messages are
// copied through untouched, so orphaned or mismatched tool results are left
// for the caller to handle. No original message is removed or reordered and
// h is never modified. Use Prepare to leave valid histories alone.
func Fix(h History) History {
	if len(h) == 0 {
		return h
	}

	out := make(History, 0, len(h)+1)
	if first := h[0].Role; first != RoleSystem && first != RoleUser {
		out = append(out, System(PlaceholderSystem))
	}

	var last Role
	for _, m := range h.Clone() {
		if m.Role == RoleTool {
			out = append(out, m)
			continue
		}
		switch {
		case last == RoleUser && m.Role == RoleUser:
			out = append(out, Assistant(PlaceholderAssistant))
		case last == RoleAssistant && m.Role == RoleAssistant:
			// Tool replies in between do not count as a user turn.
			out = append(out, User(PlaceholderUser))
		}
		out = append(out, m)
		last = m.Role
	}
	return out
}

// Prepare validates h and, when it is invalid, returns Fix(h) along with the
// validation of the repaired history. The first result is the validation of
// the input.
func Prepare(h History) (History, ValidationResult, ValidationResult) {
	before := Validate(h)
	if before.IsValid {
		return h, before, before
	}
	fixed := Fix(h)
	return fixed, before, Validate(fixed)
}
