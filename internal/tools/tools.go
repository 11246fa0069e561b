// Package tools holds the functions an agent can call and dispatches model
// tool calls to them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"

	perrors "github.com/HexSleeves/parley/internal/errors"
	"github.com/HexSleeves/parley/internal/llm"
	"github.com/HexSleeves/parley/internal/turns"
)

// Tool is a callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// funcTool adapts a typed function into a Tool. The input schema is
// reflected from T.
type funcTool[T any] struct {
	name   string
	desc   string
	schema map[string]any
	fn     func(ctx context.Context, in T) (string, error)
}

// NewFunc builds a Tool from a function taking a JSON-decodable struct.
func NewFunc[T any](name, description string, fn func(ctx context.Context, in T) (string, error)) Tool {
	return &funcTool[T]{name: name, desc: description, schema: SchemaFor[T](), fn: fn}
}

func (t *funcTool[T]) Name() string           { return t.name }
func (t *funcTool[T]) Description() string    { return t.desc }
func (t *funcTool[T]) Schema() map[string]any { return t.schema }

func (t *funcTool[T]) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in T
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return "", perrors.NewPermanentError(fmt.Errorf("invalid input for %s: %w", t.name, err), "tool")
		}
	}
	return t.fn(ctx, in)
}

// SchemaFor reflects a JSON schema object for T without $ref indirection.
func SchemaFor[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// Registry maps tool names to tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, failing on an empty or duplicate name.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.tools)
	slices.Sort(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Defs returns definitions for every tool in name order. The last one is
// marked cacheable so Anthropic caches the whole tool block.
func (r *Registry) Defs() []llm.ToolDef {
	names := r.Names()
	defs := lo.Map(names, func(name string, _ int) llm.ToolDef {
		t, _ := r.Get(name)
		return llm.ToolDef{Name: name, Description: t.Description(), InputSchema: t.Schema()}
	})
	if len(defs) > 0 {
		defs[len(defs)-1].Cache = true
	}
	return defs
}

// Execute runs the tool a model asked for. A panicking tool is reported as
// an error rather than crashing the agent.
func (r *Registry) Execute(ctx context.Context, call turns.ToolCallRef) (out string, err error) {
	t, ok := r.Get(call.Name)
	if !ok {
		msg := fmt.Sprintf("unknown tool %q", call.Name)
		if s := r.suggest(call.Name); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
		return "", perrors.NewPermanentError(fmt.Errorf("%s", msg), "tool")
	}

	defer func() {
		if rec := perrors.RecoverPanic(recover()); rec.Recovered {
			out, err = "", fmt.Errorf("tool %s: %w", call.Name, rec.Err())
		}
	}()

	input := json.RawMessage(strings.TrimSpace(call.Arguments))
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return t.Execute(ctx, input)
}

// suggest returns the registered name closest to name, or "".
func (r *Registry) suggest(name string) string {
	names := r.Names()
	if len(names) == 0 || name == "" {
		return ""
	}
	if ranks := fuzzy.RankFindFold(name, names); len(ranks) > 0 {
		return lo.MinBy(ranks, func(a, b fuzzy.Rank) bool { return a.Distance < b.Distance }).Target
	}
	best := lo.MinBy(names, func(a, b string) bool {
		return fuzzy.LevenshteinDistance(strings.ToLower(name), a) < fuzzy.LevenshteinDistance(strings.ToLower(name), b)
	})
	if fuzzy.LevenshteinDistance(strings.ToLower(name), best) <= max(2, len(best)/3) {
		return best
	}
	return ""
}
