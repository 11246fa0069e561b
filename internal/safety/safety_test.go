package safety

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HexSleeves/parley/internal/config"
)

func newGuard(t *testing.T, cfg config.ToolsConfig) (*Guard, string) {
	t.Helper()
	root := t.TempDir()
	g, err := NewGuard(cfg, root)
	if err != nil {
		t.Fatalf("NewGuard() unexpected error: %v", err)
	}
	return g, root
}

func TestNewGuard_RelativeAllowedPaths(t *testing.T) {
	g, _ := newGuard(t, config.ToolsConfig{AllowedPaths: []string{"subdir"}})
	for _, p := range g.resolvedPaths {
		if !filepath.IsAbs(p) {
			t.Errorf("resolved path %q is not absolute", p)
		}
	}
	if !strings.HasSuffix(g.resolvedPaths[0], "subdir") {
		t.Errorf("expected resolved path to end with 'subdir', got %q", g.resolvedPaths[0])
	}
}

func TestNewGuard_EmptyAllowedPaths(t *testing.T) {
	g, root := newGuard(t, config.ToolsConfig{})
	abs, _ := filepath.Abs(root)
	if len(g.resolvedPaths) != 1 || g.resolvedPaths[0] != abs {
		t.Errorf("expected resolvedPaths=[%q], got %v", abs, g.resolvedPaths)
	}
	if g.Root() != abs {
		t.Errorf("Root() = %q, want %q", g.Root(), abs)
	}
}

func TestCheckPath(t *testing.T) {
	g, root := newGuard(t, config.ToolsConfig{AllowedPaths: []string{"."}})

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"relative inside", "src/main.go", true},
		{"root itself", ".", true},
		{"absolute inside", filepath.Join(root, "a.txt"), true},
		{"parent escape", "../outside.txt", false},
		{"sneaky escape", "src/../../outside.txt", false},
		{"sibling with shared prefix", root + "-other/file", false},
		{"absolute elsewhere", "/etc/passwd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckPath(tt.path)
			if tt.ok && err != nil {
				t.Errorf("CheckPath(%q) = %v, want nil", tt.path, err)
			}
			if !tt.ok && err == nil {
				t.Errorf("CheckPath(%q) = nil, want error", tt.path)
			}
		})
	}

	abs, err := g.Resolve("src/x.go")
	if err != nil || abs != filepath.Join(root, "src", "x.go") {
		t.Errorf("Resolve = %q, %v", abs, err)
	}
}

func TestCheckPaths(t *testing.T) {
	g, _ := newGuard(t, config.ToolsConfig{})
	if err := g.CheckPaths(nil); err != nil {
		t.Errorf("empty slice: %v", err)
	}
	if err := g.CheckPaths([]string{"a", "b/c"}); err != nil {
		t.Errorf("valid paths: %v", err)
	}
	if err := g.CheckPaths([]string{"a", "../b"}); err == nil {
		t.Error("expected error for escaping path")
	}
}

func TestCheckCommand(t *testing.T) {
	g, _ := newGuard(t, config.ToolsConfig{
		EnableShell:     true,
		BlockedCommands: []string{"rm -rf /", "sudo", "dd", "mkfs"},
	})

	tests := []struct {
		name    string
		cmd     string
		blocked bool
	}{
		{"plain", "ls -la", false},
		{"pipeline", "cat go.mod | grep module", false},
		{"word only matches commands", "git add . && echo added", false},
		{"blocked phrase", "rm -rf /", true},
		{"blocked phrase extra spaces", "rm   -rf    /tmp", true},
		{"case insensitive phrase", "RM -RF /", true},
		{"blocked word", "sudo apt install x", true},
		{"blocked word by path", "/usr/bin/sudo ls", true},
		{"blocked in pipeline", "echo hi | sudo tee /etc/x", true},
		{"blocked after &&", "make && dd if=/dev/zero of=x", true},
		{"blocked in subshell", "(cd /tmp; sudo ls)", true},
		{"similar name allowed", "(cd /tmp; mkfs.ext4 x)", false},
		{"blocked in substitution", "echo $(sudo whoami)", true},
		{"blocked via env", "env FOO=1 sudo ls", true},
		{"blocked via sh -c", `bash -c "sudo reboot"`, true},
		{"sh -c clean", `sh -c 'echo ok'`, false},
		{"quoted name", `'sudo' ls`, true},
		{"unparsable", "echo 'unterminated", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckCommand(tt.cmd)
			if tt.blocked && err == nil {
				t.Errorf("CheckCommand(%q) = nil, want error", tt.cmd)
			}
			if !tt.blocked && err != nil {
				t.Errorf("CheckCommand(%q) = %v, want nil", tt.cmd, err)
			}
		})
	}
}

func TestCheckCommand_ShellDisabled(t *testing.T) {
	g, _ := newGuard(t, config.ToolsConfig{})
	if err := g.CheckCommand("ls"); err == nil {
		t.Error("expected error when shell is disabled")
	}

	ro, _ := newGuard(t, config.ToolsConfig{EnableShell: true, ReadOnly: true})
	if ro.ShellEnabled() {
		t.Error("read-only mode should disable the shell")
	}
	if err := ro.CheckCommand("ls"); err == nil {
		t.Error("expected error in read-only mode")
	}
	if !ro.IsReadOnly() {
		t.Error("IsReadOnly() should be true")
	}
}

func TestCheckFileSize(t *testing.T) {
	g, root := newGuard(t, config.ToolsConfig{MaxFileSize: 10})
	small := filepath.Join(root, "small.txt")
	large := filepath.Join(root, "large.txt")
	os.WriteFile(small, []byte("hello"), 0o644)
	os.WriteFile(large, []byte("this is more than ten bytes"), 0o644)

	if err := g.CheckFileSize(small); err != nil {
		t.Errorf("small file: %v", err)
	}
	if err := g.CheckFileSize(large); err == nil {
		t.Error("large file should be rejected")
	}
	if err := g.CheckFileSize(filepath.Join(root, "missing")); err != nil {
		t.Errorf("missing file: %v", err)
	}

	unlimited, _ := newGuard(t, config.ToolsConfig{})
	if err := unlimited.CheckFileSize(large); err != nil {
		t.Errorf("no limit configured: %v", err)
	}
}
