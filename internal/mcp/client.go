// Package mcp connects to Model Context Protocol servers and exposes their
// tools through a tools.Registry.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// transportBuilder is swapped out in tests.
var transportBuilder = buildTransport

// RemoteTool describes a tool advertised by a server.
type RemoteTool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Client is a lazily connected session with one MCP server.
type Client struct {
	name    string
	spec    string
	impl    *mcpsdk.Client
	session *mcpsdk.ClientSession

	once       sync.Once
	connectErr error
	mu         sync.Mutex
}

// NewClient prepares a client for the server at spec. Nothing is started
// until the first call.
func NewClient(name, spec string) *Client {
	impl := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "parley", Version: "dev"}, nil)
	return &Client{name: name, spec: spec, impl: impl}
}

func (c *Client) Name() string { return c.name }

func (c *Client) connect(ctx context.Context) error {
	c.once.Do(func() {
		transport, err := transportBuilder(ctx, c.spec)
		if err != nil {
			c.connectErr = fmt.Errorf("mcp %s: build transport: %w", c.name, err)
			return
		}
		session, err := c.impl.Connect(ctx, transport, nil)
		if err != nil {
			c.connectErr = fmt.Errorf("mcp %s: connect: %w", c.name, err)
			return
		}
		c.mu.Lock()
		c.session = session
		c.mu.Unlock()
	})
	return c.connectErr
}

func (c *Client) current() (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("mcp %s: session closed", c.name)
	}
	return c.session, nil
}

// ListTools returns every tool the server advertises.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	session, err := c.current()
	if err != nil {
		return nil, err
	}

	var out []RemoteTool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp %s: list tools: %w", c.name, err)
		}
		out = append(out, RemoteTool{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      schemaMap(tool.InputSchema),
		})
	}
	return out, nil
}

// CallTool invokes a tool and flattens its content into text. A result the
// server flags as an error is returned as an error carrying that text.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if err := c.connect(ctx); err != nil {
		return "", err
	}
	session, err := c.current()
	if err != nil {
		return "", err
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("mcp %s: arguments for %s: %w", c.name, name, err)
		}
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", fmt.Errorf("mcp %s: call %s: %w", c.name, name, err)
	}
	text := contentText(res)
	if res.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

// Close ends the session. Safe to call more than once.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

func contentText(res *mcpsdk.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, content := range res.Content {
		switch v := content.(type) {
		case *mcpsdk.TextContent:
			parts = append(parts, v.Text)
		case *mcpsdk.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", v.MIMEType, len(v.Data)))
		default:
			raw, err := json.Marshal(v)
			if err == nil {
				parts = append(parts, string(raw))
			}
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		raw, _ := json.Marshal(res.StructuredContent)
		return string(raw)
	}
	return strings.Join(parts, "\n")
}

func schemaMap(schema any) map[string]any {
	out := map[string]any{}
	if schema != nil {
		raw, err := json.Marshal(schema)
		if err == nil {
			_ = json.Unmarshal(raw, &out)
		}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

const (
	stdioPrefix = "stdio://"
	ssePrefix   = "sse://"
)

// buildTransport turns a spec into a transport:
//
//	stdio://cmd args     subprocess speaking over stdin/stdout
//	cmd args             same, without the prefix
//	http(s)://host/path  streamable HTTP
//	sse://host/path      server-sent events (https assumed)
//	http+sse://host/path server-sent events over http
func buildTransport(_ context.Context, spec string) (mcpsdk.Transport, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("transport spec is empty")
	}
	lowered := strings.ToLower(spec)

	switch {
	case strings.HasPrefix(lowered, stdioPrefix):
		return stdioTransport(spec[len(stdioPrefix):])
	case strings.HasPrefix(lowered, ssePrefix):
		endpoint, err := normalizeURL("https://" + strings.TrimSpace(spec[len(ssePrefix):]))
		if err != nil {
			return nil, fmt.Errorf("invalid SSE endpoint: %w", err)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	case strings.HasPrefix(lowered, "http+sse://"), strings.HasPrefix(lowered, "https+sse://"):
		base, rest, _ := strings.Cut(spec, "+")
		_, rest, _ = strings.Cut(rest, "://")
		endpoint, err := normalizeURL(base + "://" + rest)
		if err != nil {
			return nil, fmt.Errorf("invalid SSE endpoint: %w", err)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	case strings.HasPrefix(lowered, "http://"), strings.HasPrefix(lowered, "https://"):
		endpoint, err := normalizeURL(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP endpoint: %w", err)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil
	case strings.Contains(lowered, "://"):
		scheme, _, _ := strings.Cut(spec, "://")
		return nil, fmt.Errorf("unsupported transport scheme %q", scheme)
	}
	return stdioTransport(spec)
}

// The subprocess lives until Close, not until the first caller's context ends.
func stdioTransport(cmdline string) (mcpsdk.Transport, error) {
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return nil, fmt.Errorf("stdio command is empty")
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	u.Scheme = scheme
	return u.String(), nil
}
