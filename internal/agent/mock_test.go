package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/HexSleeves/parley/internal/llm"
	"github.com/HexSleeves/parley/internal/turns"
)

// scriptedClient replays canned responses and records every history it is
// sent.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	calls     []turns.History
	systems   []string
	tools     [][]llm.ToolDef
}

func (c *scriptedClient) next() (*llm.Response, error) {
	i := len(c.calls) - 1
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i >= len(c.responses) {
		return nil, fmt.Errorf("script exhausted at call %d", i)
	}
	return c.responses[i], nil
}

func (c *scriptedClient) ChatWithTools(ctx context.Context, system string, h turns.History, defs []llm.ToolDef) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, h.Clone())
	c.systems = append(c.systems, system)
	c.tools = append(c.tools, defs)
	return c.next()
}

func (c *scriptedClient) Chat(ctx context.Context, system, user string) (string, error) {
	return c.ChatWithHistory(ctx, system, turns.History{turns.User(user)})
}

func (c *scriptedClient) ChatWithHistory(ctx context.Context, system string, h turns.History) (string, error) {
	resp, err := c.ChatWithTools(ctx, system, h, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// plainClient only implements llm.Client.
type plainClient struct {
	reply string
	got   turns.History
}

func (c *plainClient) Chat(ctx context.Context, system, user string) (string, error) {
	return c.reply, nil
}

func (c *plainClient) ChatWithHistory(ctx context.Context, system string, h turns.History) (string, error) {
	c.got = h
	return c.reply, nil
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Message:    turns.Assistant(text),
		StopReason: llm.StopEndTurn,
		Usage:      llm.Usage{InputTokens: 1000, OutputTokens: 100},
		Model:      "claude-sonnet-4-20250514",
	}
}

func toolResponse(calls ...turns.ToolCallRef) *llm.Response {
	return &llm.Response{
		Message:    turns.AssistantWithTools("", calls...),
		StopReason: llm.StopToolUse,
		Usage:      llm.Usage{InputTokens: 1000, OutputTokens: 50},
		Model:      "claude-sonnet-4-20250514",
	}
}
