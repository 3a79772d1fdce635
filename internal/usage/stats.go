package usage

import (
	"sync"
	"time"
)

// Statistics aggregates estimated token volume and cost of chat turns in memory.
type Statistics struct {
	mu sync.RWMutex

	totalTurns        int64
	failedTurns       int64
	totalInputTokens  int64
	totalOutputTokens int64
	totalCost         float64

	models map[string]*modelStats

	turnsByDay  map[string]int64
	tokensByDay map[string]int64
}

type modelStats struct {
	Turns        int64
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// Snapshot is an immutable view of the aggregates.
type Snapshot struct {
	TotalTurns        int64   `json:"total_turns"`
	FailedTurns       int64   `json:"failed_turns"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`

	Models map[string]ModelSnapshot `json:"models"`

	TurnsByDay  map[string]int64 `json:"turns_by_day"`
	TokensByDay map[string]int64 `json:"tokens_by_day"`
}

// ModelSnapshot summarises one model.
type ModelSnapshot struct {
	Turns            int64   `json:"turns"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// NewStatistics constructs an empty statistics store.
func NewStatistics() *Statistics {
	return &Statistics{
		models:      make(map[string]*modelStats),
		turnsByDay:  make(map[string]int64),
		tokensByDay: make(map[string]int64),
	}
}

// Record adds one turn. failed marks a turn that ended with an error event.
func (s *Statistics) Record(at time.Time, model string, turn Turn, failed bool) {
	if s == nil {
		return
	}
	day := at.UTC().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalTurns++
	if failed {
		s.failedTurns++
	}
	s.totalInputTokens += int64(turn.Input)
	s.totalOutputTokens += int64(turn.Output)
	s.totalCost += turn.CostUSD

	m, ok := s.models[model]
	if !ok {
		m = &modelStats{}
		s.models[model] = m
	}
	m.Turns++
	m.InputTokens += int64(turn.Input)
	m.OutputTokens += int64(turn.Output)
	m.Cost += turn.CostUSD

	s.turnsByDay[day]++
	s.tokensByDay[day] += int64(turn.Input + turn.Output)
}

// Snapshot returns a copy of the aggregates.
func (s *Statistics) Snapshot() Snapshot {
	result := Snapshot{}
	if s == nil {
		return result
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result.TotalTurns = s.totalTurns
	result.FailedTurns = s.failedTurns
	result.TotalInputTokens = s.totalInputTokens
	result.TotalOutputTokens = s.totalOutputTokens
	result.EstimatedCostUSD = s.totalCost

	result.Models = make(map[string]ModelSnapshot, len(s.models))
	for name, m := range s.models {
		result.Models[name] = ModelSnapshot{
			Turns:            m.Turns,
			InputTokens:      m.InputTokens,
			OutputTokens:     m.OutputTokens,
			EstimatedCostUSD: m.Cost,
		}
	}
	result.TurnsByDay = make(map[string]int64, len(s.turnsByDay))
	for k, v := range s.turnsByDay {
		result.TurnsByDay[k] = v
	}
	result.TokensByDay = make(map[string]int64, len(s.tokensByDay))
	for k, v := range s.tokensByDay {
		result.TokensByDay[k] = v
	}
	return result
}
