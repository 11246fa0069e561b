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

// GeminiClient implements Client and ToolClient for Google's Gemini API.
type GeminiClient struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
}

// Gemini API types

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	Tools             []geminiTool     `json:"tools,omitempty"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type geminiFunctionResp struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFuncDecl `json:"functionDeclarations"`
}

type geminiFuncDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type geminiGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	Error         *geminiError      `json:"error,omitempty"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"` // "STOP", "MAX_TOKENS", "SAFETY", etc.
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// NewGeminiClient creates a client for Google's Gemini API.
// If apiKey is empty, it reads GEMINI_API_KEY (or GOOGLE_API_KEY) from the environment.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &GeminiClient{
		apiKey:    apiKey,
		model:     model,
		baseURL:   "https://generativelanguage.googleapis.com/v1beta",
		maxTokens: 8192,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint (for proxies or tests).
func (c *GeminiClient) WithBaseURL(baseURL string) *GeminiClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// WithMaxTokens overrides the output token limit.
func (c *GeminiClient) WithMaxTokens(n int) *GeminiClient {
	if n > 0 {
		c.maxTokens = n
	}
	return c
}

func (c *GeminiClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.ChatWithHistory(ctx, systemPrompt, turns.History{turns.User(userMessage)})
}

func (c *GeminiClient) ChatWithHistory(ctx context.Context, systemPrompt string, history turns.History) (string, error) {
	resp, err := c.ChatWithTools(ctx, systemPrompt, history, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// toGeminiContents maps a history onto Gemini contents. Assistant turns use
// the "model" role; consecutive tool results are grouped into one user turn
// of functionResponse parts, named after the call they answer.
func toGeminiContents(history turns.History) []geminiContent {
	var contents []geminiContent
	var responses []geminiPart

	flush := func() {
		if len(responses) > 0 {
			contents = append(contents, geminiContent{Role: "user", Parts: responses})
			responses = nil
		}
	}

	for i, m := range history {
		switch m.Role {
		case turns.RoleTool:
			responses = append(responses, geminiPart{
				FunctionResponse: &geminiFunctionResp{
					Name:     findFunctionName(history[:i], m.ToolCallID),
					Response: map[string]interface{}{"result": m.Content},
				},
			})

		case turns.RoleAssistant:
			flush()
			var parts []geminiPart
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: tc.Name,
						Args: argumentsMap(tc.Arguments),
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, geminiContent{Role: "model", Parts: parts})
			}

		default:
			flush()
			if m.Content != "" {
				contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
			}
		}
	}
	flush()
	return contents
}

func (c *GeminiClient) ChatWithTools(ctx context.Context, systemPrompt string,
	history turns.History, tools []ToolDef) (*Response, error) {

	system, rest := splitSystem(systemPrompt, history)

	req := geminiRequest{
		Contents:         toGeminiContents(rest),
		GenerationConfig: &geminiGenConfig{MaxOutputTokens: c.maxTokens},
	}

	if system != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: system}},
		}
	}

	if len(tools) > 0 {
		var decls []geminiFuncDecl
		for _, td := range tools {
			params := map[string]interface{}{}
			for k, v := range td.InputSchema {
				params[k] = v
			}
			// Ensure top-level type is set
			if _, ok := params["type"]; !ok {
				params["type"] = "object"
			}
			decls = append(decls, geminiFuncDecl{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  params,
			})
		}
		req.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: no candidates in response")
	}

	candidate := resp.Candidates[0]

	result := &Response{
		StopReason: StopEndTurn,
		Model:      resp.ModelVersion,
		Message:    turns.Message{Role: turns.RoleAssistant},
	}
	if candidate.FinishReason == "MAX_TOKENS" {
		result.StopReason = StopMaxTokens
	}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}

	// Gemini doesn't return call IDs, so stable ones are generated per response.
	var text strings.Builder
	for _, p := range candidate.Content.Parts {
		if p.Text != "" {
			text.WriteString(p.Text)
		}
		if p.FunctionCall != nil {
			argsJSON, _ := json.Marshal(p.FunctionCall.Args)
			result.Message.ToolCalls = append(result.Message.ToolCalls, turns.ToolCallRef{
				ID:        fmt.Sprintf("gemini-call-%d", len(result.Message.ToolCalls)),
				Name:      p.FunctionCall.Name,
				Arguments: string(argsJSON),
			})
		}
	}
	result.Message.Content = text.String()
	if len(result.Message.ToolCalls) > 0 {
		result.StopReason = StopToolUse
	}

	return result, nil
}

// findFunctionName looks back through the history for the tool call with the
// given id and returns its name.
func findFunctionName(history turns.History, toolCallID string) string {
	for i := len(history) - 1; i >= 0; i-- {
		for _, tc := range history[i].ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return "unknown"
}

func (c *GeminiClient) doRequest(ctx context.Context, body geminiRequest) (*geminiResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "gemini", StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var resp geminiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("gemini: unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("gemini: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}

	return &resp, nil
}
