// Package llm provides a provider-agnostic interface for LLM calls.
//
// Every client speaks in terms of turns.History. Mapping a history onto a
// vendor's wire format (role names, tool-call and tool-result shapes) is done
// here; checking that the history obeys the turn grammar is not.
package llm

import (
	"context"

	"github.com/HexSleeves/parley/internal/turns"
)

// Client is the minimal chat surface every provider supports.
// Implementations exist for Anthropic, OpenAI, Gemini, and CLI adapters.
type Client interface {
	Chat(ctx context.Context, systemPrompt, userMessage string) (string, error)
	ChatWithHistory(ctx context.Context, systemPrompt string, history turns.History) (string, error)
}

// ToolClient extends Client with tool-use capability.
// Providers that support structured tool calls implement this.
type ToolClient interface {
	Client
	ChatWithTools(ctx context.Context, systemPrompt string,
		history turns.History, tools []ToolDef) (*Response, error)
}
