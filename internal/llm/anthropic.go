package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/HexSleeves/parley/internal/turns"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicClient wraps the Anthropic SDK.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient creates a client for the Anthropic Messages API. An empty
// apiKey lets the SDK read ANTHROPIC_API_KEY. baseURL is optional. The SDK's
// own retries are disabled; callers retry with RetryLLMCall.
func NewAnthropicClient(apiKey, model, baseURL string) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	c := anthropic.NewClient(opts...)
	return &AnthropicClient{
		client:    &c,
		model:     model,
		maxTokens: 8192,
	}
}

// WithMaxTokens overrides the response token limit.
func (c *AnthropicClient) WithMaxTokens(n int) *AnthropicClient {
	if n > 0 {
		c.maxTokens = int64(n)
	}
	return c
}

func (c *AnthropicClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.ChatWithHistory(ctx, systemPrompt, turns.History{turns.User(userMessage)})
}

func (c *AnthropicClient) ChatWithHistory(ctx context.Context, systemPrompt string, history turns.History) (string, error) {
	resp, err := c.ChatWithTools(ctx, systemPrompt, history, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// toAnthropicMessages maps a history onto Anthropic message params. System
// messages are expected to have been split out already. Runs of tool
// messages become a single user message of tool_result blocks.
func toAnthropicMessages(history turns.History) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range history {
		switch m.Role {
		case turns.RoleTool:
			if m.ToolCallID == "" {
				results = append(results, anthropic.NewTextBlock("Tool result: "+m.Content))
				continue
			}
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))

		case turns.RoleAssistant:
			flush()
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, argumentsJSON(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}

		default:
			flush()
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	flush()
	return out
}

func toAnthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	apiTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, td := range tools {
		props, _ := td.InputSchema["properties"].(map[string]interface{})
		schema := anthropic.ToolInputSchemaParam{
			Properties: props,
		}
		switch req := td.InputSchema["required"].(type) {
		case []string:
			schema.Required = req
		case []interface{}:
			reqStrings := make([]string, len(req))
			for j, r := range req {
				reqStrings[j], _ = r.(string)
			}
			schema.Required = reqStrings
		}
		t := anthropic.ToolUnionParamOfTool(schema, td.Name)
		if td.Description != "" {
			t.OfTool.Description = param.NewOpt(td.Description)
		}
		if td.Cache {
			t.OfTool.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		apiTools[i] = t
	}
	return apiTools
}

// ChatWithTools sends the history with tool definitions and returns the
// response, which may include tool-use requests.
func (c *AnthropicClient) ChatWithTools(ctx context.Context, systemPrompt string,
	history turns.History, tools []ToolDef) (*Response, error) {

	system, rest := splitSystem(systemPrompt, history)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  toAnthropicMessages(rest),
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}
	if system != "" {
		sysBlocks := []anthropic.TextBlockParam{{Text: system}}
		sysBlocks[len(sysBlocks)-1].CacheControl = anthropic.NewCacheControlEphemeralParam()
		params.System = sysBlocks
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	result := &Response{
		StopReason: normalizeAnthropicStop(string(resp.StopReason)),
		Model:      string(resp.Model),
		Usage: Usage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		},
		Message: turns.Message{Role: turns.RoleAssistant},
	}

	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			result.Message.ToolCalls = append(result.Message.ToolCalls, turns.ToolCallRef{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: string(toolUse.Input),
			})
		}
	}
	result.Message.Content = strings.Join(text, "")

	return result, nil
}

func normalizeAnthropicStop(reason string) string {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}
