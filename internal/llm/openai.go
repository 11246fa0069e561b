package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/HexSleeves/parley/internal/turns"
)

// OpenAIClient implements Client and ToolClient for OpenAI-compatible APIs.
// Works with OpenAI, Codex, Azure OpenAI, and any compatible endpoint.
type OpenAIClient struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
}

// OpenAI API request/response types

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Tools               []openaiTool    `json:"tools,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"` // string or []openaiContentPart
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"` // "function"
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"` // "function"
	Function openaiCallFunction `json:"function"`
}

type openaiCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Error   *openaiError   `json:"error,omitempty"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
	Model   string         `json:"model,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"` // "stop", "tool_calls", "length"
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIClient creates a client for OpenAI-compatible APIs.
// If apiKey is empty, it reads OPENAI_API_KEY from the environment.
// If baseURL is empty, it defaults to https://api.openai.com/v1.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if model == "" {
		model = "gpt-4o"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	// Trim trailing slash
	baseURL = strings.TrimRight(baseURL, "/")

	return &OpenAIClient{
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		maxTokens: 8192,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

// WithMaxTokens overrides the completion token limit.
func (c *OpenAIClient) WithMaxTokens(n int) *OpenAIClient {
	if n > 0 {
		c.maxTokens = n
	}
	return c
}

// WithHTTPClient replaces the HTTP client (for timeouts or tests).
func (c *OpenAIClient) WithHTTPClient(hc *http.Client) *OpenAIClient {
	if hc != nil {
		c.client = hc
	}
	return c
}

func (c *OpenAIClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.ChatWithHistory(ctx, systemPrompt, turns.History{turns.User(userMessage)})
}

func (c *OpenAIClient) ChatWithHistory(ctx context.Context, systemPrompt string, history turns.History) (string, error) {
	resp, err := c.ChatWithTools(ctx, systemPrompt, history, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// toOpenAIMessages maps a history onto chat-completion messages. OpenAI
// keeps system and tool roles as-is, one message per tool result.
func toOpenAIMessages(systemPrompt string, history turns.History) []openaiMessage {
	var apiMessages []openaiMessage
	if systemPrompt != "" {
		apiMessages = append(apiMessages, openaiMessage{Role: "system", Content: systemPrompt})
	}

	for _, m := range history {
		switch m.Role {
		case turns.RoleAssistant:
			amsg := openaiMessage{Role: "assistant"}
			if m.Content != "" {
				amsg.Content = m.Content
			}
			for _, tc := range m.ToolCalls {
				amsg.ToolCalls = append(amsg.ToolCalls, openaiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openaiCallFunction{
						Name:      tc.Name,
						Arguments: string(argumentsJSON(tc.Arguments)),
					},
				})
			}
			apiMessages = append(apiMessages, amsg)

		case turns.RoleTool:
			apiMessages = append(apiMessages, openaiMessage{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})

		default:
			apiMessages = append(apiMessages, openaiMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	return apiMessages
}

func (c *OpenAIClient) ChatWithTools(ctx context.Context, systemPrompt string,
	history turns.History, tools []ToolDef) (*Response, error) {

	var apiTools []openaiTool
	for _, td := range tools {
		apiTools = append(apiTools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.InputSchema,
			},
		})
	}

	reqBody := openaiRequest{
		Model:               c.model,
		Messages:            toOpenAIMessages(systemPrompt, history),
		Tools:               apiTools,
		MaxCompletionTokens: c.maxTokens,
	}

	resp, err := c.doRequest(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	choice := resp.Choices[0]

	// Map finish_reason to our StopReason
	stopReason := StopEndTurn
	switch choice.FinishReason {
	case "tool_calls":
		stopReason = StopToolUse
	case "length":
		stopReason = StopMaxTokens
	}

	result := &Response{
		StopReason: stopReason,
		Model:      resp.Model,
		Message:    turns.Message{Role: turns.RoleAssistant},
	}
	if resp.Usage != nil {
		result.Usage = Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	switch v := choice.Message.Content.(type) {
	case string:
		result.Message.Content = v
	case nil:
	default:
		raw, _ := json.Marshal(v)
		result.Message.Content = string(raw)
	}

	for _, tc := range choice.Message.ToolCalls {
		result.Message.ToolCalls = append(result.Message.ToolCalls, turns.ToolCallRef{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	// Some compatible servers report "stop" even when tools were called.
	if len(result.Message.ToolCalls) > 0 {
		result.StopReason = StopToolUse
	}

	return result, nil
}

func (c *OpenAIClient) doRequest(ctx context.Context, body openaiRequest) (*openaiResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "openai", StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("openai: unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("openai: %s: %s", resp.Error.Type, resp.Error.Message)
	}

	return &resp, nil
}
