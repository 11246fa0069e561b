// Package safety decides which paths and shell commands tools may touch.
package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/HexSleeves/parley/internal/config"
)

// Guard enforces the tools section of the config.
type Guard struct {
	cfg           config.ToolsConfig
	root          string
	resolvedPaths []string
}

func NewGuard(cfg config.ToolsConfig, root string) (*Guard, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	resolved := make([]string, 0, len(cfg.AllowedPaths))
	for _, p := range cfg.AllowedPaths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(absRoot, p)
		}
		resolved = append(resolved, filepath.Clean(p))
	}
	if len(resolved) == 0 {
		resolved = []string{absRoot}
	}

	return &Guard{
		cfg:           cfg,
		root:          absRoot,
		resolvedPaths: resolved,
	}, nil
}

// Resolve makes path absolute relative to the root and checks it.
func (g *Guard) Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.root, path)
	}
	abs := filepath.Clean(path)
	for _, allowed := range g.resolvedPaths {
		if abs == allowed || strings.HasPrefix(abs, allowed+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path %q outside allowed directories", path)
}

// CheckPath verifies a file path is within allowed boundaries
func (g *Guard) CheckPath(path string) error {
	_, err := g.Resolve(path)
	return err
}

// CheckPaths checks every path, stopping at the first failure.
func (g *Guard) CheckPaths(paths []string) error {
	for _, p := range paths {
		if err := g.CheckPath(p); err != nil {
			return err
		}
	}
	return nil
}

// CheckCommand parses cmd as a shell program and rejects it when any simple
// command (including those inside pipelines, subshells, substitutions and
// "sh -c" strings) is a blocked word, or when a blocked phrase appears in the
// text. Blocked entries without spaces are command names; entries with
// spaces are phrases.
func (g *Guard) CheckCommand(cmd string) error {
	if !g.ShellEnabled() {
		return fmt.Errorf("shell commands are disabled")
	}
	return g.checkCommand(cmd, 0)
}

func (g *Guard) checkCommand(cmd string, depth int) error {
	if depth > 3 {
		return fmt.Errorf("command nests shells too deeply")
	}

	lower := strings.ToLower(strings.Join(strings.Fields(cmd), " "))
	words := map[string]bool{}
	for _, blocked := range g.cfg.BlockedCommands {
		b := strings.ToLower(strings.TrimSpace(blocked))
		if b == "" {
			continue
		}
		if strings.Contains(b, " ") {
			if strings.Contains(lower, b) {
				return fmt.Errorf("command contains blocked pattern: %q", blocked)
			}
			continue
		}
		words[b] = true
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(cmd), "")
	if err != nil {
		return fmt.Errorf("unparsable command: %w", err)
	}

	var found error
	syntax.Walk(file, func(node syntax.Node) bool {
		if found != nil {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		args := make([]string, len(call.Args))
		for i, w := range call.Args {
			args[i] = wordValue(w)
		}
		name := strings.ToLower(filepath.Base(args[0]))
		if words[name] {
			found = fmt.Errorf("command %q is blocked", name)
			return false
		}
		// Wrappers run their argument as a command.
		switch name {
		case "env", "nohup", "xargs", "time", "nice", "exec", "command":
			for _, a := range args[1:] {
				if strings.HasPrefix(a, "-") || strings.Contains(a, "=") {
					continue
				}
				if words[strings.ToLower(filepath.Base(a))] {
					found = fmt.Errorf("command %q is blocked", a)
					return false
				}
				break
			}
		case "sh", "bash", "zsh", "dash":
			for i := 1; i < len(args)-1; i++ {
				if args[i] == "-c" {
					if err := g.checkCommand(args[i+1], depth+1); err != nil {
						found = err
						return false
					}
				}
			}
		}
		return true
	})
	return found
}

// wordValue returns the literal text of a word with quotes removed.
// Expansions are kept as their source form.
func wordValue(w *syntax.Word) string {
	var b strings.Builder
	var parts func(ps []syntax.WordPart)
	parts = func(ps []syntax.WordPart) {
		for _, p := range ps {
			switch p := p.(type) {
			case *syntax.Lit:
				b.WriteString(p.Value)
			case *syntax.SglQuoted:
				b.WriteString(p.Value)
			case *syntax.DblQuoted:
				parts(p.Parts)
			default:
				var sb strings.Builder
				syntax.NewPrinter().Print(&sb, p)
				b.WriteString(sb.String())
			}
		}
	}
	parts(w.Parts)
	return b.String()
}

// CheckFileSize verifies a file doesn't exceed the maximum size
func (g *Guard) CheckFileSize(path string) error {
	if g.cfg.MaxFileSize <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil // missing files are reported by the reader
	}
	if info.Size() > g.cfg.MaxFileSize {
		return fmt.Errorf("file %q (%d bytes) exceeds max size (%d bytes)", path, info.Size(), g.cfg.MaxFileSize)
	}
	return nil
}

// IsReadOnly returns whether tools may only read
func (g *Guard) IsReadOnly() bool {
	return g.cfg.ReadOnly
}

// ShellEnabled reports whether run_command should be offered at all.
func (g *Guard) ShellEnabled() bool {
	return g.cfg.EnableShell && !g.cfg.ReadOnly
}

// Root returns the resolved root directory
func (g *Guard) Root() string {
	return g.root
}
