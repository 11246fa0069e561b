// Package tui is a scrollable terminal viewer for a conversation and its
// validation result.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/HexSleeves/parley/internal/turns"
)

const (
	headerHeight = 1
	footerHeight = 1
	maxArgsWidth = 120
)

// Viewer is the Bubble Tea model for the transcript view.
type Viewer struct {
	title    string
	history  turns.History
	result   turns.ValidationResult
	byIndex  map[int][]turns.Violation
	flagged  []int // indexes of messages with violations, ascending
	cur      int   // position in flagged of the last jump, -1 before any
	offsets  []int // first content line of each message
	viewport viewport.Model
	ready    bool
	width    int
}

// NewViewer builds a viewer for h. Violations in result are drawn beside the
// messages they point at.
func NewViewer(h turns.History, result turns.ValidationResult) Viewer {
	byIndex := map[int][]turns.Violation{}
	for _, v := range result.Violations {
		byIndex[v.Index] = append(byIndex[v.Index], v)
	}
	flagged := make([]int, 0, len(byIndex))
	for i := range byIndex {
		flagged = append(flagged, i)
	}
	sort.Ints(flagged)

	return Viewer{
		title:   "parley",
		history: h,
		result:  result,
		byIndex: byIndex,
		flagged: flagged,
		cur:     -1,
	}
}

// WithTitle sets the header text, usually the file name.
func (v Viewer) WithTitle(title string) Viewer {
	v.title = title
	return v
}

// Run shows the viewer full screen until the user quits.
func Run(v Viewer) error {
	_, err := tea.NewProgram(v, tea.WithAltScreen()).Run()
	return err
}

func (v Viewer) Init() tea.Cmd {
	return nil
}

func (v Viewer) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.width = msg.Width
		h := msg.Height - headerHeight - footerHeight
		if h < 1 {
			h = 1
		}
		if !v.ready {
			v.viewport = viewport.New(msg.Width, h)
			v.ready = true
		} else {
			v.viewport.Width = msg.Width
			v.viewport.Height = h
		}
		content, offsets := v.render(msg.Width)
		v.offsets = offsets
		v.viewport.SetContent(content)
		return v, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return v, tea.Quit
		case "n":
			v.jump(1)
			return v, nil
		case "N", "p":
			v.jump(-1)
			return v, nil
		case "g", "home":
			v.viewport.GotoTop()
			return v, nil
		case "G", "end":
			v.viewport.GotoBottom()
			return v, nil
		}
	}

	var cmd tea.Cmd
	v.viewport, cmd = v.viewport.Update(msg)
	return v, cmd
}

// jump scrolls to the next (dir > 0) or previous flagged message, wrapping
// around.
func (v *Viewer) jump(dir int) {
	if len(v.flagged) == 0 || !v.ready {
		return
	}
	n := len(v.flagged)
	switch {
	case dir < 0 && v.cur < 0:
		v.cur = n - 1
	case dir < 0:
		v.cur = (v.cur - 1 + n) % n
	default:
		v.cur = (v.cur + 1) % n
	}
	idx := v.flagged[v.cur]
	if idx < len(v.offsets) {
		v.viewport.SetYOffset(v.offsets[idx])
	}
}

func (v Viewer) View() string {
	if !v.ready {
		return "loading…"
	}
	return lipgloss.JoinVertical(lipgloss.Left, v.header(), v.viewport.View(), v.footer())
}

func (v Viewer) header() string {
	status := successStyle.Render("✓ valid")
	if !v.result.IsValid {
		status = errorStyle.Render(fmt.Sprintf("✗ %d violation(s)", len(v.result.Errors)))
	}
	left := truncate(v.title, max(v.width/2, 10))
	line := fmt.Sprintf("%s  %s  %s", left, subtleStyle.Render(fmt.Sprintf("%d messages", len(v.history))), status)
	return headerBar.Render(line)
}

func (v Viewer) footer() string {
	hint := "j/k scroll · g/G top/bottom · q quit"
	if len(v.flagged) > 0 {
		hint = "n/N next/prev violation · " + hint
	}
	return footerBar.Render(fmt.Sprintf("%s  %3.0f%%", hint, v.viewport.ScrollPercent()*100))
}

// render draws every message and returns the content together with the line
// each message starts on.
func (v Viewer) render(width int) (string, []int) {
	inner := width - 4 // border + padding + margin
	if inner < 20 {
		inner = 20
	}

	var b strings.Builder
	offsets := make([]int, len(v.history))
	line := 0
	for i, m := range v.history {
		offsets[i] = line
		block := v.renderMessage(i, m, inner)
		b.WriteString(block)
		b.WriteString("\n\n")
		line += strings.Count(block, "\n") + 2
	}
	if len(v.history) == 0 {
		b.WriteString(subtleStyle.Render("(empty history)"))
	}
	return strings.TrimRight(b.String(), "\n"), offsets
}

func (v Viewer) renderMessage(i int, m turns.Message, width int) string {
	violations := v.byIndex[i]

	head := dimStyle.Render(fmt.Sprintf("#%d ", i)) + roleLabel(m.Role).Render(strings.ToUpper(string(m.Role)))
	if m.ToolCallID != "" {
		head += subtleStyle.Render(" ← " + m.ToolCallID)
	}
	if len(violations) > 0 {
		head += "  " + errorStyle.Render("✖")
	}

	lines := []string{head}
	if content := strings.TrimSpace(m.Content); content != "" {
		for _, l := range wrapLines(content, width) {
			lines = append(lines, textStyle.Render(l))
		}
	}
	for _, c := range m.ToolCalls {
		call := fmt.Sprintf("→ %s(%s) %s", c.Name, truncate(c.Arguments, maxArgsWidth), c.ID)
		for _, l := range wrapText(call, width) {
			lines = append(lines, toolCallStyle.Render(l))
		}
	}
	for _, viol := range violations {
		for _, l := range wrapText("✖ "+viol.Message, width) {
			lines = append(lines, errorStyle.Render(l))
		}
	}
	return messageBlock(m.Role, len(violations) > 0).Render(strings.Join(lines, "\n"))
}
