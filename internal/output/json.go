package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/HexSleeves/parley/internal/pricing"
	"github.com/HexSleeves/parley/internal/turns"
)

// EventType represents the type of JSON output event.
type EventType string

const (
	// EventValidation reports the result of validating a history.
	EventValidation EventType = "validation"
	// EventRepair reports a repair pass and the repaired history.
	EventRepair EventType = "repair"
	// EventTurn is emitted for every message appended during a chat.
	EventTurn EventType = "turn"
	// EventToolCall is emitted when a tool finishes.
	EventToolCall EventType = "tool_call"
	// EventSessionEnd marks the end of a chat with its cost summary.
	EventSessionEnd EventType = "session_end"
	// EventError is emitted when an error occurs.
	EventError EventType = "error"
)

// ValidationEvent is the payload of a validation event.
type ValidationEvent struct {
	Source   string                 `json:"source,omitempty"`
	Messages int                    `json:"messages"`
	Result   turns.ValidationResult `json:"result"`
}

// RepairEvent is the payload of a repair event.
type RepairEvent struct {
	Inserted int                    `json:"inserted"`
	Before   turns.ValidationResult `json:"before"`
	After    turns.ValidationResult `json:"after"`
	History  turns.History          `json:"history"`
}

// ToolEvent is the payload of a tool_call event.
type ToolEvent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Duration int64  `json:"duration_ms"`
	Error    string `json:"error,omitempty"`
}

// SessionSummary represents the final session summary.
type SessionSummary struct {
	SessionID string              `json:"session_id"`
	Status    string              `json:"status"`
	Turns     int                 `json:"turns"`
	Messages  int                 `json:"messages"`
	CostUSD   float64             `json:"cost_usd"`
	Models    []pricing.ModelCost `json:"models,omitempty"`
	Duration  time.Duration       `json:"duration_ms"`
	Error     string              `json:"error,omitempty"`
}

// JSONEvent is the wrapper for all JSON output events.
type JSONEvent struct {
	Type       EventType        `json:"type"`
	Timestamp  time.Time        `json:"timestamp"`
	SessionID  string           `json:"session_id,omitempty"`
	Validation *ValidationEvent `json:"validation,omitempty"`
	Repair     *RepairEvent     `json:"repair,omitempty"`
	Message    *turns.Message   `json:"message,omitempty"`
	Tool       *ToolEvent       `json:"tool,omitempty"`
	Session    *SessionSummary  `json:"session,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// JSONWriter emits one JSON object per line. Safe for concurrent use.
type JSONWriter struct {
	mu        sync.Mutex
	w         io.Writer
	sessionID string
	startTime time.Time
	maxOutput int // content longer than this is truncated
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, sessionID string) *JSONWriter {
	return &JSONWriter{
		w:         w,
		sessionID: sessionID,
		startTime: time.Now(),
		maxOutput: 10000,
	}
}

// SetMaxOutput sets the maximum content size before truncation.
func (jw *JSONWriter) SetMaxOutput(max int) {
	jw.maxOutput = max
}

func (jw *JSONWriter) writeEvent(event JSONEvent) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	event.Timestamp = time.Now()
	if jw.sessionID != "" {
		event.SessionID = jw.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(jw.w, string(data))
	return err
}

// WriteValidation emits a validation event.
func (jw *JSONWriter) WriteValidation(source string, h turns.History, res turns.ValidationResult) error {
	return jw.writeEvent(JSONEvent{
		Type:       EventValidation,
		Validation: &ValidationEvent{Source: source, Messages: len(h), Result: res},
	})
}

// WriteRepair emits a repair event carrying the repaired history.
func (jw *JSONWriter) WriteRepair(fixed turns.History, before, after turns.ValidationResult, inserted int) error {
	return jw.writeEvent(JSONEvent{
		Type: EventRepair,
		Repair: &RepairEvent{
			Inserted: inserted,
			Before:   before,
			After:    after,
			History:  fixed,
		},
	})
}

// WriteTurn emits one conversation message.
func (jw *JSONWriter) WriteTurn(m turns.Message) error {
	if len(m.Content) > jw.maxOutput {
		m.Content = m.Content[:jw.maxOutput] + "... [truncated]"
	}
	return jw.writeEvent(JSONEvent{Type: EventTurn, Message: &m})
}

// WriteToolCall emits a finished tool call.
func (jw *JSONWriter) WriteToolCall(id, name string, d time.Duration, errMsg string) error {
	return jw.writeEvent(JSONEvent{
		Type: EventToolCall,
		Tool: &ToolEvent{ID: id, Name: name, Duration: d.Milliseconds(), Error: errMsg},
	})
}

// WriteSessionEnd emits the final session summary.
func (jw *JSONWriter) WriteSessionEnd(summary SessionSummary) error {
	jw.mu.Lock()
	summary.SessionID = jw.sessionID
	jw.mu.Unlock()
	summary.Duration = time.Since(jw.startTime)
	return jw.writeEvent(JSONEvent{Type: EventSessionEnd, Session: &summary})
}

// WriteError emits an error event.
func (jw *JSONWriter) WriteError(message string) error {
	return jw.writeEvent(JSONEvent{Type: EventError, Error: message})
}
