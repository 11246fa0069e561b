// Package pricing converts vendor token usage into US dollars.
package pricing

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/HexSleeves/parley/internal/llm"
)

// Price is the list price of a model in USD per million tokens.
type Price struct {
	InputPerMTok      float64 `json:"input"`
	OutputPerMTok     float64 `json:"output"`
	CacheWritePerMTok float64 `json:"cache_write,omitempty"`
	CacheReadPerMTok  float64 `json:"cache_read,omitempty"`
}

// Table maps a model name (or name prefix) to its price.
type Table map[string]Price

// DefaultTable returns the builtin prices for the models the llm package
// talks to. Dated model names resolve through prefix matching.
func DefaultTable() Table {
	return Table{
		"claude-opus-4":     {InputPerMTok: 15, OutputPerMTok: 75, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50},
		"claude-sonnet-4":   {InputPerMTok: 3, OutputPerMTok: 15, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
		"claude-3-7-sonnet": {InputPerMTok: 3, OutputPerMTok: 15, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
		"claude-haiku-4":    {InputPerMTok: 1, OutputPerMTok: 5, CacheWritePerMTok: 1.25, CacheReadPerMTok: 0.10},
		"claude-3-5-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4, CacheWritePerMTok: 1, CacheReadPerMTok: 0.08},
		"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10, CacheReadPerMTok: 1.25},
		"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60, CacheReadPerMTok: 0.075},
		"gpt-4.1":           {InputPerMTok: 2, OutputPerMTok: 8, CacheReadPerMTok: 0.50},
		"gpt-4.1-mini":      {InputPerMTok: 0.40, OutputPerMTok: 1.60, CacheReadPerMTok: 0.10},
		"o3":                {InputPerMTok: 2, OutputPerMTok: 8, CacheReadPerMTok: 0.50},
		"codex-mini-latest": {InputPerMTok: 1.50, OutputPerMTok: 6, CacheReadPerMTok: 0.375},
		"gemini-2.5-pro":    {InputPerMTok: 1.25, OutputPerMTok: 10, CacheReadPerMTok: 0.31},
		"gemini-2.5-flash":  {InputPerMTok: 0.30, OutputPerMTok: 2.50, CacheReadPerMTok: 0.075},
	}
}

// Merge returns a copy of t with overrides applied on top.
func (t Table) Merge(overrides map[string]Price) Table {
	out := make(Table, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Lookup finds the price for model: an exact match first, otherwise the
// longest key that model starts with.
func (t Table) Lookup(model string) (Price, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return Price{}, false
	}
	if p, ok := t[model]; ok {
		return p, true
	}

	best := ""
	for k := range t {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return Price{}, false
	}
	return t[best], true
}

// Cost returns the USD cost of usage on model. The bool is false when the
// model has no known price.
func (t Table) Cost(model string, u llm.Usage) (float64, bool) {
	p, ok := t.Lookup(model)
	if !ok {
		return 0, false
	}
	return p.cost(u), true
}

func (p Price) cost(u llm.Usage) float64 {
	return (float64(u.InputTokens)*p.InputPerMTok +
		float64(u.OutputTokens)*p.OutputPerMTok +
		float64(u.CacheCreationTokens)*p.CacheWritePerMTok +
		float64(u.CacheReadTokens)*p.CacheReadPerMTok) / 1_000_000
}

// Models returns the table's keys, sorted.
func (t Table) Models() []string {
	keys := lo.Keys(map[string]Price(t))
	slices.Sort(keys)
	return keys
}

// ModelCost is the accumulated spend for one model.
type ModelCost struct {
	Model   string    `json:"model"`
	Calls   int       `json:"calls"`
	Usage   llm.Usage `json:"usage"`
	CostUSD float64   `json:"cost_usd"`
	Priced  bool      `json:"priced"`
}

// Tracker accumulates usage and cost per model. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	table  Table
	models map[string]*ModelCost
}

func NewTracker(table Table) *Tracker {
	if table == nil {
		table = DefaultTable()
	}
	return &Tracker{table: table, models: make(map[string]*ModelCost)}
}

// Add records one call and returns its cost.
func (t *Tracker) Add(model string, u llm.Usage) float64 {
	cost, priced := t.table.Cost(model, u)

	t.mu.Lock()
	defer t.mu.Unlock()
	mc, ok := t.models[model]
	if !ok {
		mc = &ModelCost{Model: model, Priced: true}
		t.models[model] = mc
	}
	mc.Calls++
	mc.Usage = mc.Usage.Add(u)
	mc.CostUSD += cost
	mc.Priced = mc.Priced && priced
	return cost
}

// Total returns the summed usage and cost across all models.
func (t *Tracker) Total() (llm.Usage, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var u llm.Usage
	var cost float64
	for _, mc := range t.models {
		u = u.Add(mc.Usage)
		cost += mc.CostUSD
	}
	return u, cost
}

// Breakdown returns a per-model copy sorted by model name.
func (t *Tracker) Breakdown() []ModelCost {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := lo.MapToSlice(t.models, func(_ string, mc *ModelCost) ModelCost { return *mc })
	slices.SortFunc(out, func(a, b ModelCost) int { return strings.Compare(a.Model, b.Model) })
	return out
}

// FormatUSD renders a dollar amount with enough precision for single calls.
func FormatUSD(v float64) string {
	if v != 0 && v < 0.01 {
		return fmt.Sprintf("$%.4f", v)
	}
	return fmt.Sprintf("$%.2f", v)
}
