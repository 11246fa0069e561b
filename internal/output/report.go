package output

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/HexSleeves/parley/internal/pricing"
	"github.com/HexSleeves/parley/internal/state"
	"github.com/HexSleeves/parley/internal/turns"
)

const contentPreview = 2000

// RoleColor styles a role label.
func RoleColor(r turns.Role) pterm.Color {
	switch r {
	case turns.RoleSystem:
		return pterm.FgMagenta
	case turns.RoleUser:
		return pterm.FgCyan
	case turns.RoleAssistant:
		return pterm.FgGreen
	case turns.RoleTool:
		return pterm.FgYellow
	}
	return pterm.FgRed
}

// PrintValidation reports whether h is valid and lists every violation.
func (p *Printer) PrintValidation(name string, h turns.History, res turns.ValidationResult) {
	if !p.active() {
		return
	}
	if res.IsValid {
		p.Success("%s: %d messages, valid", name, len(h))
		return
	}
	p.Error("%s: %d messages, %d violation(s)", name, len(h), len(res.Errors))
	items := make([]BulletItem, 0, len(res.Violations))
	for _, v := range res.Violations {
		items = append(items, BulletItem{
			Icon:  pterm.Red("✖"),
			Text:  fmt.Sprintf("%s %s", pterm.Gray("["+string(v.Kind)+"]"), v.Message),
			Level: 0,
		})
	}
	p.BulletList(items)
}

// PrintRepair summarizes a Fix pass: the placeholders inserted and what is
// left unrepaired.
func (p *Printer) PrintRepair(before, after turns.ValidationResult, inserted int) {
	if !p.active() {
		return
	}
	switch {
	case before.IsValid:
		p.Success("history already valid, nothing to repair")
	case after.IsValid:
		p.Success("repaired: inserted %d placeholder message(s)", inserted)
	default:
		p.Warning("inserted %d placeholder message(s); %d violation(s) cannot be repaired", inserted, len(after.Errors))
		for _, e := range after.Errors {
			p.Printf("  %s %s\n", pterm.Red("✖"), e)
		}
	}
}

// PrintHistory prints every message with its index and role. Violations are
// shown under the message they point at.
func (p *Printer) PrintHistory(h turns.History, violations []turns.Violation) {
	if !p.active() {
		return
	}
	byIndex := map[int][]turns.Violation{}
	for _, v := range violations {
		byIndex[v.Index] = append(byIndex[v.Index], v)
	}

	for i, m := range h {
		p.PrintMessage(i, m)
		for _, v := range byIndex[i] {
			p.Printf("    %s %s\n", pterm.Red("✖"), pterm.Red(v.Message))
		}
	}
	if len(h) == 0 {
		p.Println(pterm.Gray("(empty history)"))
	}
}

// PrintMessage prints one message. A negative index omits the index column.
func (p *Printer) PrintMessage(i int, m turns.Message) {
	if !p.active() {
		return
	}
	label := pterm.NewStyle(RoleColor(m.Role), pterm.Bold).Sprint(strings.ToUpper(string(m.Role)))
	if m.Role == turns.RoleTool && m.ToolCallID != "" {
		label += pterm.Gray(" " + m.ToolCallID)
	}
	if i >= 0 {
		label = pterm.Gray(fmt.Sprintf("%3d ", i)) + label
	}
	p.Println(label)

	content := strings.TrimSpace(m.Content)
	if len(content) > contentPreview {
		content = content[:contentPreview] + pterm.Gray("... [truncated]")
	}
	if content != "" {
		for _, line := range strings.Split(content, "\n") {
			p.Println("    " + line)
		}
	}
	for _, c := range m.ToolCalls {
		p.Printf("    %s %s%s %s\n", pterm.Yellow("→"), c.Name, pterm.Gray("("+c.Arguments+")"), pterm.Gray(c.ID))
	}
}

// PrintCosts prints a per-model cost table and the total.
func (p *Printer) PrintCosts(rows []pricing.ModelCost) {
	if !p.active() || len(rows) == 0 {
		return
	}
	data := make([][]string, 0, len(rows))
	var total float64
	for _, r := range rows {
		cost := pricing.FormatUSD(r.CostUSD)
		if !r.Priced {
			cost = pterm.Gray("unpriced")
		}
		data = append(data, []string{
			r.Model,
			fmt.Sprint(r.Calls),
			fmt.Sprint(r.Usage.InputTokens),
			fmt.Sprint(r.Usage.OutputTokens),
			cost,
		})
		total += r.CostUSD
	}
	p.Table([]string{"Model", "Calls", "Input", "Output", "Cost"}, data)
	p.KeyValue([][]string{{"Total", pricing.FormatUSD(total)}})
}

// PrintSessions lists stored sessions.
func (p *Printer) PrintSessions(sessions []state.Session) {
	if !p.active() {
		return
	}
	if len(sessions) == 0 {
		p.Info("no sessions")
		return
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			StatusIcon(s.Status) + " " + s.ID,
			s.Title,
			s.Model,
			fmt.Sprint(s.Messages),
			s.UpdatedAt,
		})
	}
	p.Table([]string{"Session", "Title", "Model", "Messages", "Updated"}, rows)
}

// PrintPricing prints the price table, one row per model, in $/MTok.
func (p *Printer) PrintPricing(t pricing.Table) {
	if !p.active() {
		return
	}
	rows := make([][]string, 0, len(t))
	for _, model := range t.Models() {
		pr := t[model]
		rows = append(rows, []string{
			model,
			fmt.Sprintf("%.2f", pr.InputPerMTok),
			fmt.Sprintf("%.2f", pr.OutputPerMTok),
			fmt.Sprintf("%.2f", pr.CacheWritePerMTok),
			fmt.Sprintf("%.2f", pr.CacheReadPerMTok),
		})
	}
	p.Table([]string{"Model", "Input $/MTok", "Output $/MTok", "Cache write", "Cache read"}, rows)
}
