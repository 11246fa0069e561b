// Package turns models a chat conversation as an ordered sequence of role-tagged
// messages and enforces the turn-taking grammar vendor chat APIs require.
package turns

import (
	"fmt"
	"slices"
	"strings"
)

// Role tags a single message. The set is closed.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ParseRole converts a role name (case-insensitive) into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// ToolCallRef identifies one tool invocation requested by an assistant message.
type ToolCallRef struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// Message is one turn fragment. ToolCalls is only meaningful on assistant
// messages and ToolCallID only on tool messages.
type Message struct {
	Role       Role          `json:"role" yaml:"role"`
	Content    string        `json:"content" yaml:"content"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// AssistantWithTools builds an assistant message that requests tool calls.
func AssistantWithTools(content string, calls ...ToolCallRef) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResult builds a tool message answering the call with the given id.
func ToolResult(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// HasToolCalls reports whether the message issued at least one tool call.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToolCallIDs returns the ids of every tool call on the message, in order.
func (m Message) ToolCallIDs() []string {
	ids := make([]string, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		ids[i] = tc.ID
	}
	return ids
}

// History is the conversation in the order it is sent to the vendor.
type History []Message

// Clone returns a deep copy, including every ToolCalls slice.
func (h History) Clone() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	for i, m := range h {
		out[i] = m
		out[i].ToolCalls = slices.Clone(m.ToolCalls)
	}
	return out
}

// Last returns the final message and true, or false if h is empty.
func (h History) Last() (Message, bool) {
	if len(h) == 0 {
		return Message{}, false
	}
	return h[len(h)-1], true
}
