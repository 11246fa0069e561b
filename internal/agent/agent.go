// Package agent runs the tool-using conversation loop. Every history is
// checked against the turn grammar, and repaired when allowed, before it is
// sent to the model.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HexSleeves/parley/internal/compact"
	"github.com/HexSleeves/parley/internal/config"
	perrors "github.com/HexSleeves/parley/internal/errors"
	"github.com/HexSleeves/parley/internal/llm"
	"github.com/HexSleeves/parley/internal/pricing"
	"github.com/HexSleeves/parley/internal/sanitize"
	"github.com/HexSleeves/parley/internal/state"
	"github.com/HexSleeves/parley/internal/telemetry"
	"github.com/HexSleeves/parley/internal/tools"
	"github.com/HexSleeves/parley/internal/turns"
)

const (
	defaultMaxTurns = 25
	// turn groups kept verbatim when a long history is compacted
	compactKeepGroups = 4
	titleLen          = 60
)

// ErrMaxTurns is returned when the loop runs out of turns while the model is
// still calling tools.
var ErrMaxTurns = errors.New("exceeded max turns")

// Options tunes one agent.
type Options struct {
	Provider      string
	Model         string
	SystemPrompt  string
	MaxTurns      int
	MaxRetries    int
	CompactAfter  int  // compact when the history grows past this many messages; 0 disables
	RepairHistory bool // apply turns.Fix to invalid histories
	Strict        bool // fail instead of sending a history that is still invalid
}

// OptionsFromConfig copies the agent and provider sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Provider:      cfg.Provider.Name,
		Model:         cfg.Provider.Model,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxTurns:      cfg.Agent.MaxTurns,
		MaxRetries:    cfg.Agent.MaxRetries,
		CompactAfter:  cfg.Agent.CompactAfter,
		RepairHistory: cfg.Agent.RepairHistory,
		Strict:        cfg.Agent.Strict,
	}
}

// Agent drives a conversation with one model.
type Agent struct {
	client llm.Client
	opts   Options
	logger *log.Logger

	tools     *tools.Registry
	store     *state.DB
	bus       *telemetry.Bus
	costs     *pricing.Tracker
	sanitizer *sanitize.Sanitizer
	onMessage func(turns.Message)
}

// New creates an agent. A nil logger discards output.
func New(client llm.Client, opts Options, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	return &Agent{
		client:    client,
		opts:      opts,
		logger:    logger,
		costs:     pricing.NewTracker(nil),
		sanitizer: sanitize.New(),
	}
}

// WithTools sets the registry tool calls are dispatched to.
func (a *Agent) WithTools(r *tools.Registry) *Agent {
	a.tools = r
	return a
}

// WithStore persists sessions, histories and usage.
func (a *Agent) WithStore(db *state.DB) *Agent {
	a.store = db
	return a
}

// WithBus publishes telemetry events.
func (a *Agent) WithBus(b *telemetry.Bus) *Agent {
	a.bus = b
	return a
}

// WithTracker replaces the default cost tracker.
func (a *Agent) WithTracker(t *pricing.Tracker) *Agent {
	a.costs = t
	return a
}

// WithSanitizer replaces the default output sanitizer.
func (a *Agent) WithSanitizer(s *sanitize.Sanitizer) *Agent {
	a.sanitizer = s
	return a
}

// OnMessage registers a callback for every message the agent appends.
func (a *Agent) OnMessage(fn func(turns.Message)) *Agent {
	a.onMessage = fn
	return a
}

// Costs returns the tracker accumulating this agent's spend.
func (a *Agent) Costs() *pricing.Tracker {
	return a.costs
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Send appends a user turn to the stored conversation of sessionID (creating
// the session when it does not exist) and runs the loop.
func (a *Agent) Send(ctx context.Context, sessionID, text string) (turns.History, error) {
	if a.store == nil {
		return nil, fmt.Errorf("send: no session store configured")
	}
	h, err := a.store.LoadHistory(ctx, sessionID)
	if errors.Is(err, state.ErrSessionNotFound) {
		if err := a.store.CreateSession(ctx, sessionID, title(text), a.opts.Provider, a.opts.Model); err != nil {
			return nil, err
		}
		h = turns.History{}
	} else if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	h = append(h, turns.User(text))
	return a.Run(ctx, sessionID, h)
}

// Run loops until the model stops calling tools, the turn budget is spent or
// an error occurs. It returns the history as it stood when the loop ended,
// including any repair placeholders.
func (a *Agent) Run(ctx context.Context, sessionID string, history turns.History) (turns.History, error) {
	h := history.Clone()
	if err := a.ensureSession(ctx, sessionID, h); err != nil {
		return h, err
	}

	for turn := 1; turn <= a.opts.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			a.finish(ctx, sessionID, state.StatusFailed)
			return h, err
		}

		prepared, err := a.prepare(sessionID, turn, h)
		if err != nil {
			a.finish(ctx, sessionID, state.StatusFailed)
			return h, err
		}
		h = prepared

		resp, err := a.call(ctx, sessionID, turn, h)
		if err != nil {
			a.persist(ctx, sessionID, h)
			a.finish(ctx, sessionID, state.StatusFailed)
			return h, fmt.Errorf("turn %d: %w", turn, err)
		}
		a.recordCost(ctx, sessionID, turn, resp)

		msg := resp.Message
		msg.Role = turns.RoleAssistant
		msg.Content = a.sanitizer.Clean(msg.Content)
		h = a.appendMessage(h, msg)

		if !msg.HasToolCalls() {
			a.persist(ctx, sessionID, h)
			if resp.StopReason == llm.StopMaxTokens {
				a.logger.Printf("⚠ Response truncated at max tokens")
			}
			a.finish(ctx, sessionID, state.StatusDone)
			return h, nil
		}

		for _, call := range msg.ToolCalls {
			h = a.appendMessage(h, a.runTool(ctx, sessionID, turn, call))
		}
		a.persist(ctx, sessionID, h)

		if a.opts.CompactAfter > 0 && len(h) > a.opts.CompactAfter {
			if compacted, removed := compact.Compact(h, compactKeepGroups); removed > 0 {
				a.logger.Printf("📦 Compacted conversation: %d → %d messages", len(h), len(compacted))
				h = compacted
				a.persist(ctx, sessionID, h)
			}
		}
	}

	a.finish(ctx, sessionID, state.StatusFailed)
	return h, fmt.Errorf("%w (%d)", ErrMaxTurns, a.opts.MaxTurns)
}

// prepare validates h and repairs it when allowed. In strict mode a history
// that is still invalid is a permanent error.
func (a *Agent) prepare(sessionID string, turn int, h turns.History) (turns.History, error) {
	res := turns.Validate(h)
	if res.IsValid {
		return h, nil
	}
	a.publish(telemetry.EventHistoryInvalid, sessionID, turn, telemetry.HistoryCheck{Violations: res.Violations})
	a.logger.Printf("⚠ History has %d violation(s): %s", len(res.Errors), strings.Join(res.Errors, "; "))

	if a.opts.RepairHistory {
		fixed := turns.Fix(h)
		inserted := len(fixed) - len(h)
		res = turns.Validate(fixed)
		a.publish(telemetry.EventHistoryRepaired, sessionID, turn, telemetry.HistoryCheck{
			Violations: res.Violations,
			Inserted:   inserted,
		})
		if inserted > 0 {
			a.logger.Printf("🔧 Repaired history: inserted %d placeholder(s)", inserted)
		}
		h = fixed
	}

	if !res.IsValid && a.opts.Strict {
		return h, perrors.NewPermanentError(fmt.Errorf("invalid history: %w", res.Err()), "history")
	}
	return h, nil
}

func (a *Agent) call(ctx context.Context, sessionID string, turn int, h turns.History) (*llm.Response, error) {
	var defs []llm.ToolDef
	if a.tools != nil {
		defs = a.tools.Defs()
	}
	a.publish(telemetry.EventLLMRequest, sessionID, turn, telemetry.LLMRequest{
		Provider: a.opts.Provider,
		Model:    a.opts.Model,
		Messages: len(h),
		Tools:    len(defs),
	})

	start := time.Now()
	resp, err := llm.RetryLLMCall(ctx, a.opts.MaxRetries, a.logger, func() (*llm.Response, error) {
		return a.chat(ctx, h, defs)
	})
	latency := time.Since(start)
	if err != nil {
		a.publish(telemetry.EventLLMError, sessionID, turn, telemetry.LLMError{
			Error:     err.Error(),
			Retryable: llm.IsRetryableError(err),
			Latency:   latency,
		})
		return nil, err
	}

	a.publish(telemetry.EventLLMResponse, sessionID, turn, telemetry.LLMResponse{
		Model:      resp.Model,
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
		ToolCalls:  len(resp.Message.ToolCalls),
		Latency:    latency,
	})
	return resp, nil
}

// chat uses tools when the client supports them and falls back to a plain
// single reply otherwise.
func (a *Agent) chat(ctx context.Context, h turns.History, defs []llm.ToolDef) (*llm.Response, error) {
	if tc, ok := a.client.(llm.ToolClient); ok {
		return tc.ChatWithTools(ctx, a.opts.SystemPrompt, h, defs)
	}
	text, err := a.client.ChatWithHistory(ctx, a.opts.SystemPrompt, h)
	if err != nil {
		return nil, err
	}
	return &llm.Response{
		Message:    turns.Assistant(text),
		StopReason: llm.StopEndTurn,
		Model:      a.opts.Model,
	}, nil
}

func (a *Agent) runTool(ctx context.Context, sessionID string, turn int, call turns.ToolCallRef) turns.Message {
	a.logger.Printf("  🔧 Tool: %s", call.Name)
	start := time.Now()

	var (
		out string
		err error
	)
	if a.tools == nil {
		err = fmt.Errorf("no tools available")
	} else {
		out, err = a.tools.Execute(ctx, call)
	}

	ev := telemetry.ToolCall{ID: call.ID, Name: call.Name, Duration: time.Since(start)}
	if err != nil {
		ev.Error = err.Error()
		a.publish(telemetry.EventToolError, sessionID, turn, ev)
		a.logger.Printf("  ⚠ Tool error: %v", err)
		return turns.ToolResult(call.ID, "error: "+toolErrorText(err))
	}
	a.publish(telemetry.EventToolCall, sessionID, turn, ev)
	a.logger.Printf("  ✓ Result: %s", preview(out, 200))
	return turns.ToolResult(call.ID, out)
}

func (a *Agent) recordCost(ctx context.Context, sessionID string, turn int, resp *llm.Response) {
	model := resp.Model
	if model == "" {
		model = a.opts.Model
	}
	cost := a.costs.Add(model, resp.Usage)
	_, total := a.costs.Total()
	a.publish(telemetry.EventCostUpdated, sessionID, turn, telemetry.CostUpdate{
		Model:    model,
		CostUSD:  cost,
		TotalUSD: total,
	})
	if a.store != nil {
		if err := a.store.RecordUsage(ctx, sessionID, model, resp.Usage, cost); err != nil {
			a.logger.Printf("⚠ Warning: failed to record usage: %v", err)
		}
	}
}

func (a *Agent) appendMessage(h turns.History, m turns.Message) turns.History {
	if a.onMessage != nil {
		a.onMessage(m)
	}
	return append(h, m)
}

func (a *Agent) ensureSession(ctx context.Context, sessionID string, h turns.History) error {
	if a.store == nil {
		return nil
	}
	_, err := a.store.GetSession(ctx, sessionID)
	if errors.Is(err, state.ErrSessionNotFound) {
		return a.store.CreateSession(ctx, sessionID, title(firstUser(h)), a.opts.Provider, a.opts.Model)
	}
	return err
}

func (a *Agent) persist(ctx context.Context, sessionID string, h turns.History) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveHistory(ctx, sessionID, h); err != nil {
		a.logger.Printf("⚠ Warning: failed to persist conversation: %v", err)
	}
}

func (a *Agent) finish(ctx context.Context, sessionID, status string) {
	if a.store == nil {
		return
	}
	// the run context may already be cancelled
	if err := a.store.UpdateSessionStatus(context.WithoutCancel(ctx), sessionID, status); err != nil {
		a.logger.Printf("⚠ Warning: failed to update session status: %v", err)
	}
}

func (a *Agent) publish(t telemetry.EventType, sessionID string, turn int, payload any) {
	a.bus.Publish(telemetry.Event{Type: t, SessionID: sessionID, Turn: turn, Payload: payload})
}

// toolErrorText drops the classification tag so the model sees the plain
// message.
func toolErrorText(err error) string {
	var pe *perrors.PermanentError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	var re *perrors.RetryableError
	if errors.As(err, &re) && re.Err != nil {
		return re.Err.Error()
	}
	return err.Error()
}

func firstUser(h turns.History) string {
	for _, m := range h {
		if m.Role == turns.RoleUser {
			return m.Content
		}
	}
	return ""
}

func title(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	return preview(text, titleLen)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
