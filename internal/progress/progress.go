// Package progress turns key results into completion percentages and rolls
// them up per objective and across a dashboard.
package progress

import (
	"math"
	"strings"

	"frequency/internal/domain"
)

// UncategorizedLabel groups objectives whose category is blank.
const UncategorizedLabel = "Uncategorized"

// KeyResult returns the completion percentage in [0,100]. A zero target is 0%.
// Only the percentage is clamped; the stored current value is left alone.
func KeyResult(kr domain.KeyResult) float64 {
	if kr.Target == 0 {
		return 0
	}
	return clamp(kr.Current / kr.Target * 100)
}

// Objective averages the metric key results. Win conditions count events rather
// than progress toward a target, so they are left out of the average.
func Objective(o domain.Objective) float64 {
	var sum float64
	n := 0
	for _, kr := range o.KeyResults {
		if kr.IsWinCondition() {
			continue
		}
		sum += KeyResult(kr)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// TotalWins counts direct objective wins plus every key result's win log.
func TotalWins(o domain.Objective) int {
	total := len(o.Wins)
	for _, kr := range o.KeyResults {
		total += len(kr.WinLog)
	}
	return total
}

type CategoryStat struct {
	Name       string  `json:"name"`
	Objectives int     `json:"objectives"`
	Wins       int     `json:"wins"`
	Progress   float64 `json:"progress"`
}

type Summary struct {
	Objectives int            `json:"objectives"`
	KeyResults int            `json:"key_results"`
	Wins       int            `json:"wins"`
	Progress   float64        `json:"progress"`
	Categories []CategoryStat `json:"categories"`
}

// Summarize aggregates a set of objectives. Categories appear in the order
// they are first seen.
func Summarize(objectives []domain.Objective) Summary {
	s := Summary{Objectives: len(objectives), Categories: []CategoryStat{}}
	var progressSum float64
	index := map[string]int{}
	for _, o := range objectives {
		s.KeyResults += len(o.KeyResults)
		wins := TotalWins(o)
		s.Wins += wins
		p := Objective(o)
		progressSum += p

		name := strings.TrimSpace(o.Category)
		if name == "" {
			name = UncategorizedLabel
		}
		i, ok := index[name]
		if !ok {
			i = len(s.Categories)
			index[name] = i
			s.Categories = append(s.Categories, CategoryStat{Name: name})
		}
		stat := &s.Categories[i]
		// running mean keeps the stat self-contained
		stat.Progress = (stat.Progress*float64(stat.Objectives) + p) / float64(stat.Objectives+1)
		stat.Objectives++
		stat.Wins += wins
	}
	if len(objectives) > 0 {
		s.Progress = progressSum / float64(len(objectives))
	}
	return s
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(100, math.Max(0, v))
}
