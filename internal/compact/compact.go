// Package compact shrinks long conversations by folding the oldest turn
// groups into a summary while keeping the turn grammar intact.
package compact

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/HexSleeves/parley/internal/turns"
)

// SummaryAck is the assistant reply that follows a summary message so the
// next kept user turn still alternates correctly.
const SummaryAck = "Understood. Continuing from the summary."

const previewLen = 200

// Summarizer turns the messages being dropped into summary text.
type Summarizer func(dropped turns.History) (string, error)

// group is a half-open range [start, end) of message indexes. A group starts
// at a user message and runs until the next one, so an assistant tool-call
// burst always stays with its tool replies.
type group struct{ start, end int }

func groupsOf(h turns.History, from int) []group {
	var gs []group
	start := from
	for i := from + 1; i < len(h); i++ {
		if h[i].Role == turns.RoleUser {
			gs = append(gs, group{start, i})
			start = i
		}
	}
	if start < len(h) {
		gs = append(gs, group{start, len(h)})
	}
	return gs
}

// Compact keeps the leading system messages, the first turn group and the
// last keepLast groups, replacing everything in between with a user summary
// message and an assistant acknowledgement. It returns the new history and
// how many messages it shrank by. A history too short to compact is returned
// as is.
func Compact(h turns.History, keepLast int) (turns.History, int) {
	out, removed, _ := CompactWith(h, keepLast, DefaultSummarizer)
	return out, removed
}

// CompactWith is Compact with a caller-supplied summarizer.
func CompactWith(h turns.History, keepLast int, summarize Summarizer) (turns.History, int, error) {
	if keepLast < 1 {
		keepLast = 1
	}
	head := 0
	for head < len(h) && h[head].Role == turns.RoleSystem {
		head++
	}
	gs := groupsOf(h, head)
	// first group + summary pair + kept groups must beat the original
	if len(gs) < keepLast+2 {
		return h, 0, nil
	}

	dropFrom := gs[1].start
	dropTo := gs[len(gs)-keepLast].start
	if dropTo-dropFrom <= 2 {
		return h, 0, nil
	}

	summary, err := summarize(h[dropFrom:dropTo])
	if err != nil {
		return h, 0, fmt.Errorf("summarize: %w", err)
	}

	out := make(turns.History, 0, len(h)-(dropTo-dropFrom)+2)
	out = append(out, h[:dropFrom]...)
	out = append(out, turns.User(summary), turns.Assistant(SummaryAck))
	out = append(out, h[dropTo:]...)
	return out, len(h) - len(out), nil
}

// DefaultSummarizer builds an extractive summary without calling a model.
func DefaultSummarizer(dropped turns.History) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "[Summary of %d earlier messages]\n", len(dropped))
	for _, m := range dropped {
		preview := truncate(strings.TrimSpace(m.Content), previewLen)
		switch {
		case m.HasToolCalls():
			names := make([]string, len(m.ToolCalls))
			for i, c := range m.ToolCalls {
				names[i] = c.Name
			}
			fmt.Fprintf(&b, "- [%s] called %s", m.Role, strings.Join(names, ", "))
			if preview != "" {
				fmt.Fprintf(&b, ": %s", preview)
			}
			b.WriteByte('\n')
		case m.Role == turns.RoleTool:
			fmt.Fprintf(&b, "- [tool %s] %s\n", m.ToolCallID, preview)
		default:
			fmt.Fprintf(&b, "- [%s] %s\n", m.Role, preview)
		}
	}
	return b.String(), nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// EstimateTokens gives a rough token count (~4 chars per token).
func EstimateTokens(s string) int {
	return len(s) / 4
}

// HistoryTokens estimates the tokens of every message, tool arguments included.
func HistoryTokens(h turns.History) int {
	n := 0
	for _, m := range h {
		n += EstimateTokens(m.Content)
		for _, c := range m.ToolCalls {
			n += EstimateTokens(c.Name) + EstimateTokens(c.Arguments)
		}
	}
	return n
}
