// Package telemetry is an in-process event bus for agent activity. Handlers
// run synchronously on the publishing goroutine.
package telemetry

import (
	"sync"
	"time"

	"github.com/HexSleeves/parley/internal/llm"
	"github.com/HexSleeves/parley/internal/turns"
)

type EventType string

const (
	EventLLMRequest      EventType = "llm.request"
	EventLLMResponse     EventType = "llm.response"
	EventLLMError        EventType = "llm.error"
	EventHistoryInvalid  EventType = "history.invalid"
	EventHistoryRepaired EventType = "history.repaired"
	EventToolCall        EventType = "tool.call"
	EventToolError       EventType = "tool.error"
	EventCostUpdated     EventType = "cost.updated"
)

const wildcard EventType = "*"

type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Turn      int         `json:"turn,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Time      time.Time   `json:"time"`
}

// Payloads

type LLMRequest struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Messages int    `json:"messages"`
	Tools    int    `json:"tools"`
}

type LLMResponse struct {
	Model      string        `json:"model,omitempty"`
	StopReason string        `json:"stop_reason"`
	Usage      llm.Usage     `json:"usage"`
	ToolCalls  int           `json:"tool_calls"`
	Latency    time.Duration `json:"latency"`
}

type LLMError struct {
	Error     string        `json:"error"`
	Retryable bool          `json:"retryable"`
	Latency   time.Duration `json:"latency"`
}

type HistoryCheck struct {
	Violations []turns.Violation `json:"violations"`
	Inserted   int               `json:"inserted,omitempty"` // placeholders added by a repair
}

type ToolCall struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type CostUpdate struct {
	Model    string  `json:"model"`
	CostUSD  float64 `json:"cost_usd"`
	TotalUSD float64 `json:"total_usd"`
}

type Handler func(ev Event)

type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	history  []Event
	maxHist  int
}

func New(maxHistory int) *Bus {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Bus{
		handlers: make(map[EventType][]Handler),
		maxHist:  maxHistory,
	}
}

func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

func (b *Bus) SubscribeAll(h Handler) {
	b.Subscribe(wildcard, h)
}

// Publish records ev and delivers it to type subscribers, then wildcard
// subscribers. A zero Time is set to now. Publishing on a nil Bus is a no-op.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	// Copy handlers under lock
	specific := append([]Handler(nil), b.handlers[ev.Type]...)
	all := append([]Handler(nil), b.handlers[wildcard]...)
	b.mu.Unlock()

	for _, h := range specific {
		h(ev)
	}
	for _, h := range all {
		h(ev)
	}
}

// History returns the last n events, or all of them when n <= 0.
func (b *Bus) History(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	result := make([]Event, n)
	copy(result, b.history[len(b.history)-n:])
	return result
}
