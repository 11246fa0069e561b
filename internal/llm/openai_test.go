package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HexSleeves/parley/internal/turns"
)

func TestOpenAIClient_ChatWithHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var req openaiRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %s", req.Model)
		}
		// system + user + assistant + user
		if len(req.Messages) != 4 {
			t.Fatalf("expected 4 messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" {
			t.Errorf("expected system role first, got %s", req.Messages[0].Role)
		}

		resp := openaiResponse{
			Choices: []openaiChoice{{
				Message:      openaiMessage{Role: "assistant", Content: "Hello there!"},
				FinishReason: "stop",
			}},
			Usage: &openaiUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key", "test-model", server.URL)
	result, err := client.ChatWithHistory(context.Background(), "You are helpful.", turns.History{
		turns.User("Hi"),
		turns.Assistant("Hello"),
		turns.User("How are you?"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Hello there!" {
		t.Errorf("expected 'Hello there!', got %q", result)
	}
}

func TestOpenAIClient_ChatWithTools(t *testing.T) {
	var captured openaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		resp := openaiResponse{
			Model: "gpt-test-0613",
			Choices: []openaiChoice{{
				Message: openaiMessage{
					Role: "assistant",
					ToolCalls: []openaiToolCall{{
						ID:       "call_9",
						Type:     "function",
						Function: openaiCallFunction{Name: "read_file", Arguments: `{"path":"go.mod"}`},
					}},
				},
				// some compatible servers report stop even with tool calls
				FinishReason: "stop",
			}},
			Usage: &openaiUsage{PromptTokens: 42, CompletionTokens: 7},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	history := turns.History{
		turns.System("be terse"),
		turns.User("what is 2+2?"),
		turns.AssistantWithTools("", turns.ToolCallRef{ID: "call_1", Name: "calc", Arguments: `{"expr":"2+2"}`}),
		turns.ToolResult("call_1", "4"),
		turns.Assistant("4"),
		turns.User("now read go.mod"),
	}
	tools := []ToolDef{{
		Name:        "read_file",
		Description: "Read a file",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}}},
	}}

	client := NewOpenAIClient("k", "gpt-test", server.URL).WithMaxTokens(256)
	resp, err := client.ChatWithTools(context.Background(), "", history, tools)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.MaxCompletionTokens != 256 {
		t.Errorf("max tokens = %d, want 256", captured.MaxCompletionTokens)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "read_file" {
		t.Errorf("tools not forwarded: %+v", captured.Tools)
	}
	if len(captured.Messages) != len(history) {
		t.Fatalf("expected %d messages, got %d", len(history), len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" {
		t.Errorf("system message should keep its role, got %s", captured.Messages[0].Role)
	}
	call := captured.Messages[2]
	if len(call.ToolCalls) != 1 || call.ToolCalls[0].ID != "call_1" || call.ToolCalls[0].Function.Arguments != `{"expr":"2+2"}` {
		t.Errorf("assistant tool call not mapped: %+v", call)
	}
	if captured.Messages[3].Role != "tool" || captured.Messages[3].ToolCallID != "call_1" {
		t.Errorf("tool result not mapped: %+v", captured.Messages[3])
	}

	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason = %q, want tool_use", resp.StopReason)
	}
	if resp.Model != "gpt-test-0613" {
		t.Errorf("model = %q", resp.Model)
	}
	if resp.Usage.InputTokens != 42 || resp.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	calls := resp.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_9" || calls[0].Name != "read_file" {
		t.Errorf("tool calls = %+v", calls)
	}
	if resp.Message.Role != turns.RoleAssistant {
		t.Errorf("response role = %q", resp.Message.Role)
	}
}

func TestOpenAIClient_FinishReasons(t *testing.T) {
	tests := []struct {
		finish string
		want   string
	}{
		{"stop", StopEndTurn},
		{"length", StopMaxTokens},
		{"tool_calls", StopToolUse},
		{"content_filter", StopEndTurn},
	}
	for _, tt := range tests {
		t.Run(tt.finish, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(openaiResponse{Choices: []openaiChoice{{
					Message:      openaiMessage{Role: "assistant", Content: "x"},
					FinishReason: tt.finish,
				}}})
			}))
			defer server.Close()

			resp, err := NewOpenAIClient("k", "m", server.URL).ChatWithTools(context.Background(), "", turns.History{turns.User("hi")}, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StopReason != tt.want {
				t.Errorf("stop reason = %q, want %q", resp.StopReason, tt.want)
			}
		})
	}
}

func TestOpenAIClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer server.Close()

	_, err := NewOpenAIClient("k", "m", server.URL).Chat(context.Background(), "", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 429 || apiErr.Provider != "openai" {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
	if !IsRetryableError(err) {
		t.Error("429 should be retryable")
	}
}

func TestOpenAIClient_ErrorInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := NewOpenAIClient("k", "m", server.URL).Chat(context.Background(), "", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryableError(err) {
		t.Errorf("invalid request should not be retried: %v", err)
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	if _, err := NewOpenAIClient("k", "m", server.URL).Chat(context.Background(), "", "hi"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestNewOpenAIClient_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	c := NewOpenAIClient("", "", "https://example.test/v1/")
	if c.apiKey != "from-env" {
		t.Errorf("apiKey = %q, want from-env", c.apiKey)
	}
	if c.model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", c.model)
	}
	if c.baseURL != "https://example.test/v1" {
		t.Errorf("baseURL = %q, trailing slash should be trimmed", c.baseURL)
	}
}
