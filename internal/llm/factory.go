package llm

import (
	"fmt"
	"net/http"
	"time"
)

// ProviderConfig holds what's needed to construct an LLM client.
type ProviderConfig struct {
	Provider  string // "anthropic", "openai", "codex", "gemini-api", "kimi", "claude-cli", etc.
	Model     string
	APIKey    string
	BaseURL   string // optional: override API base URL (for OpenAI-compatible endpoints)
	WorkDir   string // for CLI-based providers
	MaxTokens int
	Timeout   time.Duration
}

// NewFromConfig creates the appropriate Client based on provider name.
// API-based providers (anthropic, openai, codex, gemini-api) support tool use (ToolClient).
// CLI-based providers (kimi, claude-cli, gemini, opencode) only support basic chat (Client).
func NewFromConfig(cfg ProviderConfig) (Client, error) {
	httpClient := &http.Client{Timeout: 120 * time.Second}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	switch cfg.Provider {

	// === API-based providers (support tool use) ===

	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL).WithMaxTokens(cfg.MaxTokens), nil

	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL).
			WithMaxTokens(cfg.MaxTokens).
			WithHTTPClient(httpClient), nil

	case "codex":
		// Codex uses the OpenAI API
		model := cfg.Model
		if model == "" {
			model = "codex-mini-latest"
		}
		return NewOpenAIClient(cfg.APIKey, model, cfg.BaseURL).
			WithMaxTokens(cfg.MaxTokens).
			WithHTTPClient(httpClient), nil

	case "gemini-api", "google":
		c := NewGeminiClient(cfg.APIKey, cfg.Model).WithBaseURL(cfg.BaseURL).WithMaxTokens(cfg.MaxTokens)
		c.client = httpClient
		return c, nil

	// === CLI-based providers (basic chat only) ===

	case "kimi":
		return NewCLIClient("kimi", []string{"--print", "--final-message-only", "-p"}, cfg.WorkDir, false), nil

	case "claude-cli", "claude-code":
		return NewCLIClient("claude", []string{"-p"}, cfg.WorkDir, false), nil

	case "gemini":
		// CLI-based gemini (piped). For API-based, use "gemini-api".
		return NewCLIClient("gemini", nil, cfg.WorkDir, true), nil

	case "opencode":
		return NewCLIClient("opencode", []string{"run"}, cfg.WorkDir, false), nil

	case "":
		return nil, fmt.Errorf("no LLM provider configured (set provider.name in parley.json)")

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: anthropic, openai, codex, gemini-api, gemini, kimi, claude-cli, opencode)", cfg.Provider)
	}
}
