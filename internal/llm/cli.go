package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	perrors "github.com/HexSleeves/parley/internal/errors"
	"github.com/HexSleeves/parley/internal/turns"
)

// CLIClient shells out to a local agent CLI (claude -p, kimi, opencode, ...)
// with the conversation flattened into a single prompt. It has no tool
// support.
type CLIClient struct {
	command string
	args    []string
	workDir string
	pipe    bool // write the prompt to stdin instead of passing it as an argument
}

func NewCLIClient(command string, args []string, workDir string, pipe bool) *CLIClient {
	return &CLIClient{
		command: command,
		args:    args,
		workDir: workDir,
		pipe:    pipe,
	}
}

func (c *CLIClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.ChatWithHistory(ctx, systemPrompt, turns.History{turns.User(userMessage)})
}

func (c *CLIClient) ChatWithHistory(ctx context.Context, systemPrompt string, history turns.History) (string, error) {
	prompt := flattenHistory(systemPrompt, history)

	args := append([]string{}, c.args...)
	if !c.pipe {
		args = append(args, prompt)
	}
	cmd := exec.CommandContext(ctx, c.command, args...)
	if c.workDir != "" {
		cmd.Dir = c.workDir
	}
	if c.pipe {
		cmd.Stdin = strings.NewReader(prompt)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		wrapped := fmt.Errorf("%s: %w: %s", c.command, err, strings.TrimSpace(stderr.String()))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) &&
			perrors.ClassifyErrorWithExitCode(wrapped, exitErr.ExitCode()) == perrors.ErrorTypePermanent {
			return "", perrors.NewPermanentError(wrapped, "cli")
		}
		return "", wrapped
	}
	return strings.TrimSpace(stdout.String()), nil
}

// flattenHistory renders a history as a plain-text transcript.
func flattenHistory(systemPrompt string, history turns.History) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}
	if len(history) == 1 && history[0].Role == turns.RoleUser {
		b.WriteString(history[0].Content)
		return b.String()
	}
	for _, m := range history {
		switch m.Role {
		case turns.RoleTool:
			fmt.Fprintf(&b, "[tool result %s]\n%s\n\n", m.ToolCallID, m.Content)
		default:
			fmt.Fprintf(&b, "[%s]\n%s\n", m.Role, m.Content)
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "(called %s %s)\n", tc.Name, tc.Arguments)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
