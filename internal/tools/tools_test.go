package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/HexSleeves/parley/internal/config"
	perrors "github.com/HexSleeves/parley/internal/errors"
	"github.com/HexSleeves/parley/internal/safety"
	"github.com/HexSleeves/parley/internal/turns"
)

type echoInput struct {
	Text  string `json:"text" jsonschema:"required,description=Text to echo"`
	Times int    `json:"times,omitempty"`
}

func echoTool() Tool {
	return NewFunc("echo", "Echo text", func(ctx context.Context, in echoInput) (string, error) {
		n := in.Times
		if n == 0 {
			n = 1
		}
		return strings.Repeat(in.Text, n), nil
	})
}

func TestSchemaFor(t *testing.T) {
	s := SchemaFor[echoInput]()
	if s["type"] != "object" {
		t.Errorf("type = %v", s["type"])
	}
	if _, ok := s["$schema"]; ok {
		t.Error("$schema should be stripped")
	}
	props, ok := s["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties = %T", s["properties"])
	}
	text, _ := props["text"].(map[string]any)
	if text["type"] != "string" || text["description"] != "Text to echo" {
		t.Errorf("text property = %v", text)
	}
	req, _ := s["required"].([]any)
	if len(req) != 1 || req[0] != "text" {
		t.Errorf("required = %v", s["required"])
	}

	empty := SchemaFor[struct{}]()
	if _, ok := empty["properties"].(map[string]any); !ok {
		t.Errorf("empty struct should still carry properties: %v", empty)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(echoTool()); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := r.Register(NewFunc("", "", func(context.Context, struct{}) (string, error) { return "", nil })); err == nil {
		t.Error("empty name should fail")
	}
	r.Register(NewFunc("add", "Add", func(context.Context, struct{}) (string, error) { return "", nil }))

	if got := r.Names(); len(got) != 2 || got[0] != "add" || got[1] != "echo" {
		t.Errorf("Names = %v", got)
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d", r.Len())
	}

	defs := r.Defs()
	if len(defs) != 2 || defs[0].Name != "add" || defs[1].Name != "echo" {
		t.Fatalf("Defs = %+v", defs)
	}
	if defs[0].Cache || !defs[1].Cache {
		t.Error("only the last definition should be cacheable")
	}
	if defs[1].Description != "Echo text" || defs[1].InputSchema["type"] != "object" {
		t.Errorf("echo def = %+v", defs[1])
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())
	r.Register(NewFunc("explode", "Panics", func(context.Context, struct{}) (string, error) { panic("kaboom") }))

	ctx := context.Background()
	tests := []struct {
		name    string
		call    turns.ToolCallRef
		want    string
		wantErr string
	}{
		{"ok", turns.ToolCallRef{ID: "1", Name: "echo", Arguments: `{"text":"hi","times":2}`}, "hihi", ""},
		{"empty arguments", turns.ToolCallRef{ID: "2", Name: "echo", Arguments: "  "}, "", ""},
		{"bad json", turns.ToolCallRef{ID: "3", Name: "echo", Arguments: `{"text":`}, "", "invalid input"},
		{"unknown with suggestion", turns.ToolCallRef{ID: "4", Name: "ech", Arguments: `{}`}, "", `did you mean "echo"`},
		{"typo suggestion", turns.ToolCallRef{ID: "5", Name: "ecko", Arguments: `{}`}, "", `did you mean "echo"`},
		{"panic recovered", turns.ToolCallRef{ID: "6", Name: "explode"}, "", "kaboom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Execute(ctx, tt.call)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Execute error = %v, want containing %q", err, tt.wantErr)
				}
				if !perrors.IsPermanent(err) {
					t.Errorf("tool failures should be permanent: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Execute = %q, want %q", got, tt.want)
			}
		})
	}

	_, err := r.Execute(ctx, turns.ToolCallRef{Name: "completely_different"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("far-off names should get no suggestion: %v", err)
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Execute(context.Background(), turns.ToolCallRef{Name: "echo", Arguments: `{"text":"x"}`})
			r.Defs()
		}()
	}
	wg.Wait()
}

func newBuiltins(t *testing.T, cfg config.ToolsConfig) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	g, err := safety.NewGuard(cfg, root)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry()
	if err := RegisterBuiltins(r, g); err != nil {
		t.Fatal(err)
	}
	return r, root
}

func call(name string, args any) turns.ToolCallRef {
	raw, _ := json.Marshal(args)
	return turns.ToolCallRef{ID: "t", Name: name, Arguments: string(raw)}
}

func TestBuiltins_ShellGate(t *testing.T) {
	r, _ := newBuiltins(t, config.ToolsConfig{})
	if _, ok := r.Get("run_command"); ok {
		t.Error("run_command should not be registered when the shell is disabled")
	}
	r, _ = newBuiltins(t, config.ToolsConfig{EnableShell: true})
	if got := r.Names(); len(got) != 3 {
		t.Errorf("Names = %v", got)
	}
}

func TestReadFile(t *testing.T) {
	r, root := newBuiltins(t, config.ToolsConfig{MaxFileSize: 1024})
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\ntwo\nthree\nfour\n"), 0o644)
	os.WriteFile(filepath.Join(root, "bin.dat"), []byte{'a', 0, 'b'}, 0o644)
	os.WriteFile(filepath.Join(root, "big.txt"), []byte(strings.Repeat("x", 2048)), 0o644)
	ctx := context.Background()

	out, err := r.Execute(ctx, call("read_file", map[string]any{"path": "a.txt"}))
	if err != nil || out != "one\ntwo\nthree\nfour\n" {
		t.Errorf("full read = %q, %v", out, err)
	}

	out, err = r.Execute(ctx, call("read_file", map[string]any{"path": "a.txt", "line_start": 2, "line_end": 3}))
	if err != nil || out != "   2 | two\n   3 | three" {
		t.Errorf("range read = %q, %v", out, err)
	}

	for _, bad := range []map[string]any{
		{"path": ""},
		{"path": "../escape.txt"},
		{"path": "bin.dat"},
		{"path": "big.txt"},
		{"path": "missing.txt"},
	} {
		if _, err := r.Execute(ctx, call("read_file", bad)); err == nil {
			t.Errorf("read_file(%v) should fail", bad)
		}
	}
}

func TestListFiles(t *testing.T) {
	r, root := newBuiltins(t, config.ToolsConfig{})
	os.MkdirAll(filepath.Join(root, "pkg", "sub"), 0o755)
	os.MkdirAll(filepath.Join(root, ".git"), 0o755)
	os.WriteFile(filepath.Join(root, "main.go"), nil, 0o644)
	os.WriteFile(filepath.Join(root, "pkg", "sub", "x.go"), nil, 0o644)
	os.WriteFile(filepath.Join(root, ".git", "hooks.go"), nil, 0o644)
	ctx := context.Background()

	out, err := r.Execute(ctx, call("list_files", map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"main.go", "pkg/"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}

	out, err = r.Execute(ctx, call("list_files", map[string]any{"pattern": "*.go"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, filepath.Join("pkg", "sub", "x.go")) || strings.Contains(out, "hooks.go") {
		t.Errorf("pattern listing = %q", out)
	}

	out, _ = r.Execute(ctx, call("list_files", map[string]any{"pattern": "*.rs"}))
	if out != "No files found." {
		t.Errorf("empty match = %q", out)
	}
	if _, err := r.Execute(ctx, call("list_files", map[string]any{"pattern": "["})); err == nil {
		t.Error("malformed pattern should fail")
	}
	if _, err := r.Execute(ctx, call("list_files", map[string]any{"path": "/"})); err == nil {
		t.Error("listing outside the root should fail")
	}
}

func TestRunCommand(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not available")
	}
	r, root := newBuiltins(t, config.ToolsConfig{EnableShell: true, BlockedCommands: []string{"sudo"}})
	os.WriteFile(filepath.Join(root, "f.txt"), []byte("hello"), 0o644)
	ctx := context.Background()

	out, err := r.Execute(ctx, call("run_command", map[string]any{"command": "cat f.txt"}))
	if err != nil || out != "hello" {
		t.Errorf("cat = %q, %v", out, err)
	}

	_, err = r.Execute(ctx, call("run_command", map[string]any{"command": "sudo ls"}))
	if err == nil || !perrors.IsPermanent(err) {
		t.Errorf("blocked command should fail permanently: %v", err)
	}

	out, err = r.Execute(ctx, call("run_command", map[string]any{"command": "echo oops; exit 3"}))
	if err == nil || !strings.Contains(err.Error(), "exit status 3") || !strings.Contains(out, "oops") {
		t.Errorf("failing command = %q, %v", out, err)
	}

	_, err = r.Execute(ctx, call("run_command", map[string]any{"command": "definitely-missing-binary-xyz"}))
	if err == nil || !perrors.IsPermanent(err) {
		t.Errorf("exit 127 should be permanent: %v", err)
	}

	_, err = r.Execute(ctx, call("run_command", map[string]any{"command": "sleep 5", "timeout": 1}))
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout, got %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := r.Execute(cctx, call("run_command", map[string]any{"command": "echo hi"})); err == nil {
		t.Error("cancelled context should fail")
	} else if errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cancel is not a timeout: %v", err)
	}
}
