package usage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelPricing(t *testing.T) {
	tests := []struct {
		model string
		want  ModelPricing
		found bool
	}{
		{"gemini-2.5-flash", ModelPricing{0.30, 2.50}, true},
		{"GEMINI-2.5-FLASH", ModelPricing{0.30, 2.50}, true},
		{"models/gemini-2.5-pro", ModelPricing{1.25, 10.00}, true},
		{"gemini-2.5-flash-lite-preview-06-17", ModelPricing{0.10, 0.40}, true},
		{"gemini-2.5-flash-preview-tts", ModelPricing{0.50, 10.00}, true},
		{"gemini-2.0-flash-001", ModelPricing{0.10, 0.40}, true},
		{"claude-sonnet-4", ModelPricing{}, false},
		{"", ModelPricing{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, ok := GetModelPricing(tt.model)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateCost(t *testing.T) {
	cost := CalculateCost(ModelPricing{InputPerMillion: 1, OutputPerMillion: 4}, 500_000, 250_000)
	assert.InDelta(t, 1.5, cost, 1e-9)
	assert.Zero(t, CalculateCost(ModelPricing{}, 1000, 1000))
}

func TestEstimateModelCost(t *testing.T) {
	cost, ok := EstimateModelCost("gemini-2.5-flash", 1_000_000, 1_000_000)
	require.True(t, ok)
	assert.InDelta(t, 2.80, cost, 1e-9)

	cost, ok = EstimateModelCost("unknown-model", 10, 10)
	assert.False(t, ok)
	assert.Zero(t, cost)
}

func TestStatistics(t *testing.T) {
	s := NewStatistics()
	day := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)
	s.Record(day, "gemini-2.5-flash", Turn{Input: 10, Output: 20, CostUSD: 0.5}, false)
	s.Record(day.Add(2*time.Hour), "gemini-2.5-flash", Turn{Input: 1, Output: 2, CostUSD: 0.25}, true)
	s.Record(day, "gemini-2.5-pro", Turn{Input: 5}, false)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.TotalTurns)
	assert.Equal(t, int64(1), snap.FailedTurns)
	assert.Equal(t, int64(16), snap.TotalInputTokens)
	assert.Equal(t, int64(22), snap.TotalOutputTokens)
	assert.True(t, math.Abs(snap.EstimatedCostUSD-0.75) < 1e-9)

	flash := snap.Models["gemini-2.5-flash"]
	assert.Equal(t, int64(2), flash.Turns)
	assert.Equal(t, int64(22), flash.OutputTokens)

	assert.Equal(t, map[string]int64{"2026-03-04": 2, "2026-03-05": 1}, snap.TurnsByDay)
	assert.Equal(t, int64(35), snap.TokensByDay["2026-03-04"])

	snap.Models["gemini-2.5-pro"] = ModelSnapshot{}
	assert.Equal(t, int64(5), s.Snapshot().Models["gemini-2.5-pro"].InputTokens, "snapshots are copies")

	var nilStats *Statistics
	assert.NotPanics(t, func() { nilStats.Record(day, "m", Turn{}, false) })
	assert.Zero(t, nilStats.Snapshot().TotalTurns)
}
