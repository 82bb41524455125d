package pipeline

import (
	"unicode/utf8"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
)

// PlannerConfig tunes batch sizing and the checkpoint schedule.
type PlannerConfig struct {
	// TokenBudget is the soft cap on the estimated token count of one
	// batch's serialized request. An estimate is good enough: the
	// executor halves any batch the provider actually rejects.
	TokenBudget int
	// FirstCheckpoint is the translated-entry count of the first
	// scheduled partial save.
	FirstCheckpoint int
	// CheckpointStep is the spacing between subsequent checkpoints.
	CheckpointStep int
}

func (c PlannerConfig) withDefaults() PlannerConfig {
	if c.TokenBudget <= 0 {
		c.TokenBudget = 1500
	}
	if c.FirstCheckpoint <= 0 {
		c.FirstCheckpoint = 30
	}
	if c.CheckpointStep <= 0 {
		c.CheckpointStep = 75
	}
	return c
}

// Batch is a contiguous ordered slice of the job's entries.
type Batch struct {
	Entries []subtitle.Entry
}

// Plan is the deterministic output of the planner: identical entries and
// config always produce identical batch boundaries and schedule.
type Plan struct {
	Batches      []Batch
	Checkpoints  []int
	TotalEntries int
}

// entryTokenOverhead covers the per-entry serialization frame (index
// prefix, tags, separators) on top of the text itself.
const entryTokenOverhead = 8

// estimateTokens approximates the token count of a text. Four characters
// per token is the usual rough cut for subtitle prose.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text)/4 + 1
}

// BuildPlan splits entries into token-bounded batches and computes the
// checkpoint schedule.
func BuildPlan(entries []subtitle.Entry, cfg PlannerConfig) Plan {
	cfg = cfg.withDefaults()

	plan := Plan{TotalEntries: len(entries)}
	if len(entries) == 0 {
		return plan
	}

	var current []subtitle.Entry
	currentTokens := 0
	for _, entry := range entries {
		cost := estimateTokens(entry.Text) + entryTokenOverhead
		if len(current) > 0 && currentTokens+cost > cfg.TokenBudget {
			plan.Batches = append(plan.Batches, Batch{Entries: current})
			current = nil
			currentTokens = 0
		}
		current = append(current, entry)
		currentTokens += cost
	}
	if len(current) > 0 {
		plan.Batches = append(plan.Batches, Batch{Entries: current})
	}

	plan.Checkpoints = checkpointSchedule(cfg.FirstCheckpoint, cfg.CheckpointStep, len(entries))
	return plan
}

// checkpointSchedule yields [first, first+step, ...] capped at total,
// with total itself always the last element so the final flush has a
// target.
func checkpointSchedule(first, step, total int) []int {
	schedule := make([]int, 0)
	for v := first; v < total; v += step {
		schedule = append(schedule, v)
	}
	schedule = append(schedule, total)
	return schedule
}
