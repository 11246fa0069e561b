package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/HexSleeves/parley/internal/pricing"
)

// FileName is the default config file looked up in the working directory.
const FileName = "parley.json"

type Config struct {
	// Directory holding the session database
	StateDir string `json:"state_dir"`

	Provider ProviderConfig `json:"provider"`
	Agent    AgentConfig    `json:"agent"`
	Tools    ToolsConfig    `json:"tools"`

	// MCP servers: name -> transport spec ("stdio://cmd args", "https://...", "sse://...")
	MCPServers map[string]string `json:"mcp_servers,omitempty"`

	// Per-model price overrides, merged over the builtin table
	Pricing map[string]pricing.Price `json:"pricing,omitempty"`

	Output OutputConfig `json:"output"`
}

type ProviderConfig struct {
	Name      string        `json:"name"`
	Model     string        `json:"model"`
	APIKey    string        `json:"api_key,omitempty"`
	BaseURL   string        `json:"base_url,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Timeout   time.Duration `json:"timeout"`
}

type AgentConfig struct {
	MaxTurns      int    `json:"max_turns"`
	MaxRetries    int    `json:"max_retries"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
	CompactAfter  int    `json:"compact_after"`
	RepairHistory bool   `json:"repair_history"`
	Strict        bool   `json:"strict"`

	// Regexes whose matches are replaced with "[redacted]" in model output
	Redact []string `json:"redact,omitempty"`
}

type ToolsConfig struct {
	AllowedPaths    []string `json:"allowed_paths"`
	BlockedCommands []string `json:"blocked_commands"`
	ReadOnly        bool     `json:"read_only"`
	MaxFileSize     int64    `json:"max_file_size"`
	EnableShell     bool     `json:"enable_shell"`
}

type OutputConfig struct {
	Quiet bool `json:"quiet,omitempty"`
	JSON  bool `json:"json,omitempty"`
	Plain bool `json:"plain,omitempty"`
	// MaxContent truncates message content in JSON events; 0 keeps the default.
	MaxContent int `json:"max_content,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		StateDir: ".parley",
		Provider: ProviderConfig{
			Name:      "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
			Timeout:   2 * time.Minute,
		},
		Agent: AgentConfig{
			MaxTurns:      25,
			MaxRetries:    3,
			CompactAfter:  100,
			RepairHistory: true,
		},
		Tools: ToolsConfig{
			AllowedPaths:    []string{"."},
			BlockedCommands: []string{"rm -rf /", "sudo", "mkfs", "dd", "shutdown", "reboot"},
			MaxFileSize:     1024 * 1024,
		},
	}
}

// Load reads a config file. A missing file yields the defaults; comments and
// trailing commas are allowed.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports settings the agent cannot run with.
func (c *Config) Validate() error {
	if c.Provider.Name == "" {
		return fmt.Errorf("provider.name is required")
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be positive, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent.max_retries must not be negative, got %d", c.Agent.MaxRetries)
	}
	if c.Agent.CompactAfter < 0 {
		return fmt.Errorf("agent.compact_after must not be negative, got %d", c.Agent.CompactAfter)
	}
	for name, spec := range c.MCPServers {
		if spec == "" {
			return fmt.Errorf("mcp_servers.%s: empty transport spec", name)
		}
	}
	return nil
}

// PriceTable is the builtin pricing table with the file's overrides applied.
func (c *Config) PriceTable() pricing.Table {
	return pricing.DefaultTable().Merge(c.Pricing)
}

func (c *Config) StatePath(parts ...string) string {
	return filepath.Join(append([]string{c.StateDir}, parts...)...)
}

func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func (c *Config) IsQuiet() bool { return c.Output.Quiet }
func (c *Config) IsJSON() bool  { return c.Output.JSON }
func (c *Config) IsPlain() bool { return c.Output.Plain }
