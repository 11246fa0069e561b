package turns

import (
	"reflect"
	"testing"
)

func calc(id string) ToolCallRef {
	return ToolCallRef{ID: id, Name: "calc", Arguments: "{}"}
}

func TestValidate_Empty(t *testing.T) {
	for _, h := range []History{nil, {}} {
		res := Validate(h)
		if !res.IsValid {
			t.Fatalf("empty history should be valid, got %v", res.Errors)
		}
		if res.Errors == nil || len(res.Errors) != 0 {
			t.Fatalf("expected empty non-nil errors, got %#v", res.Errors)
		}
		if res.Err() != nil {
			t.Fatalf("expected nil Err, got %v", res.Err())
		}
	}
}

func TestValidate_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		h      History
		errors []string
		kinds  []ViolationKind
	}{
		{
			name: "single user message",
			h:    History{User("hi")},
		},
		{
			name:   "two user messages",
			h:      History{User("a"), User("b")},
			errors: []string{`message 1: user message must be followed by an assistant message, got "user"`},
			kinds:  []ViolationKind{KindAlternation},
		},
		{
			name:   "assistant tool call without leading system or user",
			h:      History{AssistantWithTools("x", calc("1")), ToolResult("1", "4")},
			errors: []string{`message 0: history must start with a system or user message, got "assistant"`},
			kinds:  []ViolationKind{KindStartRole},
		},
		{
			name:   "tool calls but no tool reply between assistants",
			h:      History{User("go"), AssistantWithTools("ok", calc("9")), Assistant("done")},
			errors: []string{"message 2: consecutive assistant messages without an intervening tool result"},
			kinds:  []ViolationKind{KindConsecutiveAssistant},
		},
		{
			name:   "tool with no preceding assistant",
			h:      History{User("go"), ToolResult("9", "result")},
			errors: []string{"message 1: tool message without a preceding assistant message"},
			kinds:  []ViolationKind{KindOrphanedTool},
		},
		{
			name: "complete tool burst",
			h: History{
				System("be brief"),
				User("what is 2+2 and 3+3"),
				AssistantWithTools("", calc("a"), calc("b")),
				ToolResult("b", "6"),
				ToolResult("a", "4"),
				Assistant("4 and 6"),
				User("thanks"),
				Assistant("any time"),
			},
		},
		{
			name: "tool answering assistant without calls",
			h:    History{User("go"), Assistant("sure"), ToolResult("", "x")},
			errors: []string{
				"message 2: tool message follows an assistant message that didn't call any tools",
			},
			kinds: []ViolationKind{KindNoToolCalls},
		},
		{
			name: "mismatched call id",
			h:    History{User("go"), AssistantWithTools("", calc("1")), ToolResult("2", "x")},
			errors: []string{
				`message 2: tool_call_id "2" does not match any tool call on the preceding assistant message`,
			},
			kinds: []ViolationKind{KindCallIDMismatch},
		},
		{
			name: "tool without call id is not correlated",
			h:    History{User("go"), AssistantWithTools("", calc("1")), ToolResult("", "x")},
		},
		{
			name: "extra tool replies are not flagged",
			h: History{
				User("go"),
				AssistantWithTools("", calc("1")),
				ToolResult("1", "x"),
				ToolResult("1", "y"),
				Assistant("done"),
			},
		},
		{
			name:   "user followed by system",
			h:      History{User("go"), System("late")},
			errors: []string{`message 1: user message must be followed by an assistant message, got "system"`},
			kinds:  []ViolationKind{KindAlternation},
		},
		{
			name: "single tool message",
			h:    History{ToolResult("1", "x")},
			errors: []string{
				`message 0: history must start with a system or user message, got "tool"`,
				"message 0: tool message without a preceding assistant message",
			},
			kinds: []ViolationKind{KindStartRole, KindOrphanedTool},
		},
		{
			name: "all assistant",
			h:    History{Assistant("a"), Assistant("b"), Assistant("c")},
			errors: []string{
				`message 0: history must start with a system or user message, got "assistant"`,
				"message 1: consecutive assistant messages without an intervening tool result",
				"message 2: consecutive assistant messages without an intervening tool result",
			},
			kinds: []ViolationKind{KindStartRole, KindConsecutiveAssistant, KindConsecutiveAssistant},
		},
		{
			name: "tool after system only",
			h:    History{System("s"), ToolResult("1", "x")},
			errors: []string{
				"message 1: tool message without a preceding assistant message",
			},
			kinds: []ViolationKind{KindOrphanedTool},
		},
		{
			name: "unknown role",
			h:    History{User("go"), {Role: "developer", Content: "x"}},
			errors: []string{
				`message 1: user message must be followed by an assistant message, got "developer"`,
				`message 1: unknown role "developer"`,
			},
			kinds: []ViolationKind{KindAlternation, KindUnknownRole},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.h)
			want := tt.errors
			if want == nil {
				want = []string{}
			}
			if !reflect.DeepEqual(res.Errors, want) {
				t.Fatalf("errors:\n got  %q\n want %q", res.Errors, want)
			}
			if res.IsValid != (len(want) == 0) {
				t.Errorf("IsValid = %v with %d errors", res.IsValid, len(res.Errors))
			}
			if len(res.Violations) != len(tt.kinds) {
				t.Fatalf("expected %d violations, got %d", len(tt.kinds), len(res.Violations))
			}
			for i, k := range tt.kinds {
				if res.Violations[i].Kind != k {
					t.Errorf("violation %d: kind = %s, want %s", i, res.Violations[i].Kind, k)
				}
				if res.Violations[i].Message != res.Errors[i] {
					t.Errorf("violation %d message %q != error %q", i, res.Violations[i].Message, res.Errors[i])
				}
			}
		})
	}
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	h := History{Assistant("a"), Assistant("b"), ToolResult("z", "x")}
	before := h.Clone()
	Validate(h)
	if !reflect.DeepEqual(h, before) {
		t.Fatalf("Validate mutated its input: %+v", h)
	}
}

func TestValidationResult_Err(t *testing.T) {
	res := Validate(History{User("a"), User("b")})
	err := res.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != res.Errors[0] {
		t.Errorf("Err() = %q, want %q", err.Error(), res.Errors[0])
	}
	if !res.Has(KindAlternation) || res.Has(KindOrphanedTool) {
		t.Errorf("Has reported wrong kinds: %+v", res.Violations)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"user", RoleUser, false},
		{"Assistant", RoleAssistant, false},
		{" TOOL ", RoleTool, false},
		{"system", RoleSystem, false},
		{"model", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
