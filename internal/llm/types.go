package llm

import (
	"encoding/json"
	"strings"

	"github.com/HexSleeves/parley/internal/turns"
)

// Stop reasons, normalized across vendors.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ToolDef defines a tool the LLM can call.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	Cache       bool                   `json:"cache,omitempty"` // Anthropic prompt caching
}

// Usage is the token accounting reported by a vendor for one call.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:         u.InputTokens + o.InputTokens,
		OutputTokens:        u.OutputTokens + o.OutputTokens,
		CacheCreationTokens: u.CacheCreationTokens + o.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens + o.CacheReadTokens,
	}
}

// Total is input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the LLM's reply: one assistant message, possibly carrying
// tool calls.
type Response struct {
	Message    turns.Message `json:"message"`
	StopReason string        `json:"stop_reason"` // "end_turn", "tool_use", "max_tokens"
	Usage      Usage         `json:"usage"`
	Model      string        `json:"model,omitempty"`
}

// Text returns the assistant's text content.
func (r *Response) Text() string {
	return r.Message.Content
}

// ToolCalls returns the tool calls requested in the response.
func (r *Response) ToolCalls() []turns.ToolCallRef {
	return r.Message.ToolCalls
}

// splitSystem separates system messages from the rest of the history. System
// content is appended to systemPrompt, in order, separated by blank lines.
func splitSystem(systemPrompt string, history turns.History) (string, turns.History) {
	parts := []string{}
	if systemPrompt != "" {
		parts = append(parts, systemPrompt)
	}
	rest := make(turns.History, 0, len(history))
	for _, m := range history {
		if m.Role == turns.RoleSystem {
			if m.Content != "" {
				parts = append(parts, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}

// argumentsJSON returns a tool call's arguments as a JSON object, falling back
// to {} when the payload is empty or not valid JSON.
func argumentsJSON(args string) json.RawMessage {
	if args == "" || !json.Valid([]byte(args)) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(args)
}

// argumentsMap decodes a tool call's arguments into a map.
func argumentsMap(args string) map[string]interface{} {
	out := map[string]interface{}{}
	_ = json.Unmarshal(argumentsJSON(args), &out)
	return out
}
