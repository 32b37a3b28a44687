package progress_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frequency/internal/domain"
	"frequency/internal/progress"
)

func metric(current, target float64) domain.KeyResult {
	return domain.KeyResult{Type: domain.KeyResultLeading, Current: current, Target: target, Unit: "%"}
}

func winCondition(wins int) domain.KeyResult {
	kr := domain.KeyResult{Type: domain.KeyResultWinCondition, Target: 999999, Unit: domain.WinsUnit}
	for i := 0; i < wins; i++ {
		kr.WinLog = append(kr.WinLog, domain.WinLog{ID: string(rune('a' + i)), Note: "won"})
	}
	kr.Current = float64(wins)
	return kr
}

func TestKeyResultClamp(t *testing.T) {
	cases := []struct {
		name    string
		current float64
		target  float64
		want    float64
	}{
		{"half", 50, 100, 50},
		{"over achievement", 150, 100, 100},
		{"negative current", -5, 100, 0},
		{"zero target", 42, 0, 0},
		{"zero target negative", -1, 0, 0},
		{"fractional", 1, 3, 100.0 / 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := progress.KeyResult(metric(tc.current, tc.target))
			assert.InDelta(t, tc.want, got, 1e-9)
			assert.False(t, math.IsNaN(got))
			assert.False(t, math.IsInf(got, 0))
		})
	}
}

func TestKeyResultDoesNotMutateCurrent(t *testing.T) {
	kr := metric(150, 100)
	_ = progress.KeyResult(kr)
	assert.Equal(t, 150.0, kr.Current)
}

func TestObjectiveExcludesWinConditions(t *testing.T) {
	o := domain.Objective{KeyResults: []domain.KeyResult{metric(50, 100), winCondition(7)}}
	assert.Equal(t, 50.0, progress.Objective(o))
}

func TestObjectiveWithoutMetricsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, progress.Objective(domain.Objective{}))
	o := domain.Objective{KeyResults: []domain.KeyResult{winCondition(3)}}
	assert.Equal(t, 0.0, progress.Objective(o))
}

func TestTotalWins(t *testing.T) {
	o := domain.Objective{
		Wins:       []domain.WinLog{{ID: "w1"}, {ID: "w2"}},
		KeyResults: []domain.KeyResult{winCondition(3), metric(1, 2), winCondition(1)},
	}
	assert.Equal(t, 6, progress.TotalWins(o))
	o.KeyResults[0].WinLog = o.KeyResults[0].WinLog[1:]
	assert.Equal(t, 5, progress.TotalWins(o))
}

func TestSummarize(t *testing.T) {
	objs := []domain.Objective{
		{Category: "Sales", KeyResults: []domain.KeyResult{metric(40, 100)}, Wins: []domain.WinLog{{ID: "w"}}},
		{Category: "", KeyResults: []domain.KeyResult{winCondition(2)}},
		{Category: "Sales", KeyResults: []domain.KeyResult{metric(100, 100), metric(0, 0)}},
	}
	s := progress.Summarize(objs)
	assert.Equal(t, 3, s.Objectives)
	assert.Equal(t, 4, s.KeyResults)
	assert.Equal(t, 3, s.Wins)
	assert.InDelta(t, (40.0+0+50)/3, s.Progress, 1e-9)
	require.Len(t, s.Categories, 2)
	assert.Equal(t, "Sales", s.Categories[0].Name)
	assert.Equal(t, 2, s.Categories[0].Objectives)
	assert.Equal(t, 1, s.Categories[0].Wins)
	assert.InDelta(t, 45.0, s.Categories[0].Progress, 1e-9)
	assert.Equal(t, progress.UncategorizedLabel, s.Categories[1].Name)
	assert.Equal(t, 2, s.Categories[1].Wins)
}

func TestSummarizeEmpty(t *testing.T) {
	s := progress.Summarize(nil)
	assert.Equal(t, 0.0, s.Progress)
	assert.Empty(t, s.Categories)
}
