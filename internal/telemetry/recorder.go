package telemetry

import (
	"sync"
	"time"

	"github.com/HexSleeves/parley/internal/llm"
)

// Snapshot is a point-in-time copy of a Recorder's counters.
type Snapshot struct {
	Counts         map[EventType]int `json:"counts"`
	LLMCalls       int               `json:"llm_calls"`
	LLMErrors      int               `json:"llm_errors"`
	LLMLatency     time.Duration     `json:"llm_latency"`
	Usage          llm.Usage         `json:"usage"`
	ToolCalls      int               `json:"tool_calls"`
	ToolErrors     int               `json:"tool_errors"`
	ToolTime       time.Duration     `json:"tool_time"`
	InvalidSeen    int               `json:"invalid_seen"`
	Repairs        int               `json:"repairs"`
	PlaceholdersIn int               `json:"placeholders_inserted"`
	CostUSD        float64           `json:"cost_usd"`
}

// AvgLatency is the mean LLM round trip, zero before any call.
func (s Snapshot) AvgLatency() time.Duration {
	if s.LLMCalls == 0 {
		return 0
	}
	return s.LLMLatency / time.Duration(s.LLMCalls)
}

// Recorder aggregates every event published on a bus.
type Recorder struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewRecorder(b *Bus) *Recorder {
	r := &Recorder{snap: Snapshot{Counts: make(map[EventType]int)}}
	b.SubscribeAll(r.handle)
	return r
}

func (r *Recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.snap
	s.Counts[ev.Type]++
	switch p := ev.Payload.(type) {
	case LLMResponse:
		s.LLMCalls++
		s.LLMLatency += p.Latency
		s.Usage = s.Usage.Add(p.Usage)
	case LLMError:
		s.LLMErrors++
	case ToolCall:
		s.ToolCalls++
		s.ToolTime += p.Duration
		if p.Error != "" {
			s.ToolErrors++
		}
	case HistoryCheck:
		if ev.Type == EventHistoryRepaired {
			s.Repairs++
			s.PlaceholdersIn += p.Inserted
		} else {
			s.InvalidSeen++
		}
	case CostUpdate:
		s.CostUSD = p.TotalUSD
	}
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.snap
	out.Counts = make(map[EventType]int, len(r.snap.Counts))
	for k, v := range r.snap.Counts {
		out.Counts[k] = v
	}
	return out
}
