package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	perrors "github.com/HexSleeves/parley/internal/errors"
	"github.com/HexSleeves/parley/internal/safety"
)

const (
	maxListEntries   = 500
	maxCommandOutput = 64 * 1024
	defaultCmdTime   = 60 * time.Second
)

type readFileInput struct {
	Path      string `json:"path" jsonschema:"required,description=File path relative to the project root"`
	LineStart int    `json:"line_start,omitempty" jsonschema:"description=First line to return (1-based)"`
	LineEnd   int    `json:"line_end,omitempty" jsonschema:"description=Last line to return (inclusive)"`
}

type listFilesInput struct {
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to list (default: project root)"`
	Pattern string `json:"pattern,omitempty" jsonschema:"description=Glob matched against file names; searches recursively when set"`
}

type runCommandInput struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to run from the project root"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds (default 60)"`
}

// RegisterBuiltins adds read_file and list_files, and run_command when the
// guard allows shell access.
func RegisterBuiltins(r *Registry, g *safety.Guard) error {
	builtins := []Tool{
		NewFunc("read_file", "Read a file from the project. Optionally restrict to a line range.",
			func(ctx context.Context, in readFileInput) (string, error) { return readFile(g, in) }),
		NewFunc("list_files", "List a directory, or find files whose names match a glob pattern.",
			func(ctx context.Context, in listFilesInput) (string, error) { return listFiles(g, in) }),
	}
	if g.ShellEnabled() {
		builtins = append(builtins, NewFunc("run_command", "Run a shell command in the project root and return its combined output.",
			func(ctx context.Context, in runCommandInput) (string, error) { return runCommand(ctx, g, in) }))
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func readFile(g *safety.Guard, in readFileInput) (string, error) {
	if in.Path == "" {
		return "", perrors.NewPermanentError(errors.New("path is required"), "tool")
	}
	fullPath, err := g.Resolve(in.Path)
	if err != nil {
		return "", perrors.NewPermanentError(err, "tool")
	}
	if err := g.CheckFileSize(fullPath); err != nil {
		return "", perrors.NewPermanentError(err, "tool")
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", perrors.NewPermanentError(fmt.Errorf("%s appears to be binary", in.Path), "tool")
	}

	if in.LineStart <= 0 && in.LineEnd <= 0 {
		return string(data), nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if in.LineStart > 0 && lineNum < in.LineStart {
			continue
		}
		if in.LineEnd > 0 && lineNum > in.LineEnd {
			break
		}
		lines = append(lines, fmt.Sprintf("%4d | %s", lineNum, scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

func listFiles(g *safety.Guard, in listFilesInput) (string, error) {
	dir := in.Path
	if dir == "" {
		dir = "."
	}
	fullDir, err := g.Resolve(dir)
	if err != nil {
		return "", perrors.NewPermanentError(err, "tool")
	}

	var files []string
	if in.Pattern != "" {
		if _, err := filepath.Match(in.Pattern, ""); err != nil {
			return "", perrors.NewPermanentError(fmt.Errorf("bad pattern %q: %w", in.Pattern, err), "tool")
		}
		err = filepath.WalkDir(fullDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip unreadable entries
			}
			if d.IsDir() && d.Name() == ".git" {
				return filepath.SkipDir
			}
			if len(files) >= maxListEntries {
				return filepath.SkipAll
			}
			if matched, _ := filepath.Match(in.Pattern, d.Name()); matched {
				rel, _ := filepath.Rel(g.Root(), path)
				if d.IsDir() {
					rel += "/"
				}
				files = append(files, rel)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("walk directory: %w", err)
		}
	} else {
		entries, err := os.ReadDir(fullDir)
		if err != nil {
			return "", fmt.Errorf("read directory: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			files = append(files, name)
		}
	}

	if len(files) == 0 {
		return "No files found.", nil
	}
	out := strings.Join(files, "\n")
	if len(files) >= maxListEntries {
		out += fmt.Sprintf("\n... (truncated at %d entries)", maxListEntries)
	}
	return out, nil
}

func runCommand(ctx context.Context, g *safety.Guard, in runCommandInput) (string, error) {
	if strings.TrimSpace(in.Command) == "" {
		return "", perrors.NewPermanentError(errors.New("command is required"), "tool")
	}
	if err := g.CheckCommand(in.Command); err != nil {
		return "", perrors.NewPermanentError(err, "tool")
	}

	timeout := defaultCmdTime
	if in.Timeout > 0 {
		timeout = time.Duration(in.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", in.Command)
	cmd.Dir = g.Root()
	cmd.WaitDelay = 2 * time.Second
	output, err := cmd.CombinedOutput()
	if len(output) > maxCommandOutput {
		output = append(output[:maxCommandOutput], []byte("\n... (output truncated)")...)
	}
	out := string(output)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out, fmt.Errorf("command timed out after %v", timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			wrapped := fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), strings.TrimSpace(out))
			if perrors.ClassifyErrorWithExitCode(wrapped, exitErr.ExitCode()) == perrors.ErrorTypePermanent {
				return out, perrors.NewPermanentError(wrapped, "tool")
			}
			return out, wrapped
		}
		return out, fmt.Errorf("run command: %w", err)
	}
	return out, nil
}
