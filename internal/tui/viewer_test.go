package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/HexSleeves/parley/internal/turns"
)

func sized(t *testing.T, v Viewer, w, h int) Viewer {
	t.Helper()
	m, _ := v.Update(tea.WindowSizeMsg{Width: w, Height: h})
	return m.(Viewer)
}

func key(t *testing.T, v Viewer, k string) (Viewer, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	m, cmd := v.Update(msg)
	return m.(Viewer), cmd
}

func longHistory() turns.History {
	h := turns.History{turns.System("be brief")}
	for i := 0; i < 20; i++ {
		h = append(h, turns.User(strings.Repeat("question ", 20)), turns.Assistant("answer"))
	}
	// two violations far apart
	h = append(h, turns.Assistant("again"))
	h[3] = turns.ToolResult("x", "orphan")
	return h
}

func TestViewerBeforeSize(t *testing.T) {
	v := NewViewer(turns.History{turns.User("hi")}, turns.Validate(nil))
	if v.View() != "loading…" {
		t.Errorf("View before size = %q", v.View())
	}
	if v.Init() != nil {
		t.Error("Init should not start commands")
	}
}

func TestViewerRendersMessages(t *testing.T) {
	h := turns.History{
		turns.User("list the files"),
		turns.AssistantWithTools("", turns.ToolCallRef{ID: "c1", Name: "list_files", Arguments: `{}`}),
		turns.ToolResult("c1", "main.go"),
		turns.Assistant("one file"),
	}
	v := sized(t, NewViewer(h, turns.Validate(h)).WithTitle("chat.json"), 100, 40)
	out := v.View()
	for _, want := range []string{"chat.json", "4 messages", "valid", "USER", "list_files", "main.go", "one file"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(out, "next/prev violation") {
		t.Error("valid history should not advertise violation jumps")
	}
}

func TestViewerMarksViolations(t *testing.T) {
	h := turns.History{turns.User("a"), turns.User("b")}
	res := turns.Validate(h)
	v := sized(t, NewViewer(h, res), 100, 20)
	out := v.View()
	if !strings.Contains(out, "1 violation(s)") {
		t.Errorf("header missing count:\n%s", out)
	}
	if !strings.Contains(out, res.Errors[0]) {
		t.Errorf("violation text missing:\n%s", out)
	}
}

func TestViewerJumpsToViolations(t *testing.T) {
	h := longHistory()
	res := turns.Validate(h)
	if len(res.Violations) < 2 {
		t.Fatalf("fixture needs 2 violations, got %v", res.Errors)
	}
	v := sized(t, NewViewer(h, res), 80, 10)
	if v.viewport.YOffset != 0 {
		t.Fatalf("initial offset = %d", v.viewport.YOffset)
	}

	v, _ = key(t, v, "n")
	first := v.viewport.YOffset
	if first != v.offsets[v.flagged[0]] {
		t.Errorf("first jump offset = %d, want %d", first, v.offsets[v.flagged[0]])
	}
	v, _ = key(t, v, "n")
	if v.viewport.YOffset <= first {
		t.Errorf("second jump should move down: %d -> %d", first, v.viewport.YOffset)
	}
	v, _ = key(t, v, "N")
	if v.viewport.YOffset != first {
		t.Errorf("N should go back to %d, got %d", first, v.viewport.YOffset)
	}

	v, _ = key(t, v, "g")
	if v.viewport.YOffset != 0 {
		t.Errorf("g should go to top, got %d", v.viewport.YOffset)
	}
}

func TestViewerQuit(t *testing.T) {
	v := sized(t, NewViewer(nil, turns.Validate(nil)), 80, 10)
	for _, k := range []string{"q", "esc"} {
		_, cmd := key(t, v, k)
		if cmd == nil {
			t.Fatalf("%s: no command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: expected quit", k)
		}
	}
	if !strings.Contains(v.View(), "empty history") {
		t.Error("empty history not shown")
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"fits", "hello", 10, []string{"hello"}},
		{"empty", "", 10, []string{""}},
		{"word break", "hello there world", 11, []string{"hello", "there world"}},
		{"cjk", "日本語日本語", 6, []string{"日本語", "日本語"}},
		{"hard break", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapText(tt.text, tt.width)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("a long piece of text", 8); got != "a long …" {
		t.Errorf("truncate = %q", got)
	}
}
