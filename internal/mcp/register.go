package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/HexSleeves/parley/internal/tools"
)

// Tool names sent to vendors must match ^[a-zA-Z0-9_-]{1,64}$.
var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

const maxToolName = 64

// remoteTool adapts a server tool to tools.Tool.
type remoteTool struct {
	client *Client
	name   string // registered name
	remote RemoteTool
}

func (t *remoteTool) Name() string           { return t.name }
func (t *remoteTool) Description() string    { return t.remote.Description }
func (t *remoteTool) Schema() map[string]any { return t.remote.Schema }

func (t *remoteTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return t.client.CallTool(ctx, t.remote.Name, input)
}

// ToolName builds the registry name for a remote tool: prefix__tool with
// characters vendors reject replaced by underscores.
func ToolName(prefix, tool string) string {
	name := tool
	if prefix != "" {
		name = prefix + "__" + tool
	}
	name = invalidNameChars.ReplaceAllString(name, "_")
	if len(name) > maxToolName {
		name = name[:maxToolName]
	}
	return name
}

// RegisterTools lists the client's tools and registers each under
// ToolName(prefix, name). It returns the registered names.
func RegisterTools(ctx context.Context, c *Client, reg *tools.Registry, prefix string) ([]string, error) {
	remote, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(remote))
	for _, rt := range remote {
		name := ToolName(prefix, rt.Name)
		desc := strings.TrimSpace(rt.Description)
		if desc == "" {
			desc = fmt.Sprintf("%s tool from the %s MCP server", rt.Name, c.Name())
		}
		rt.Description = desc
		if err := reg.Register(&remoteTool{client: c, name: name, remote: rt}); err != nil {
			return names, fmt.Errorf("mcp %s: %w", c.Name(), err)
		}
		names = append(names, name)
	}
	return names, nil
}
