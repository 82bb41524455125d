package pipeline

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
)

func makeEntries(count int) []subtitle.Entry {
	entries := make([]subtitle.Entry, count)
	for i := range entries {
		entries[i] = subtitle.Entry{
			Index:     i + 1,
			StartTime: time.Duration(i) * 2 * time.Second,
			EndTime:   time.Duration(i)*2*time.Second + time.Second,
			Text:      fmt.Sprintf("Subtitle line number %d with some typical dialogue text.", i+1),
		}
	}
	return entries
}

func TestBuildPlanCoversAllEntriesInOrder(t *testing.T) {
	entries := makeEntries(200)
	plan := BuildPlan(entries, PlannerConfig{TokenBudget: 300})

	require.NotEmpty(t, plan.Batches)
	assert.Equal(t, 200, plan.TotalEntries)

	// Concatenating the batches must reproduce the input exactly: no
	// gaps, no overlaps, no reordering.
	var flattened []subtitle.Entry
	for _, batch := range plan.Batches {
		require.NotEmpty(t, batch.Entries)
		flattened = append(flattened, batch.Entries...)
	}
	require.Equal(t, entries, flattened)
}

func TestBuildPlanRespectsTokenBudget(t *testing.T) {
	entries := makeEntries(100)
	budget := 250
	plan := BuildPlan(entries, PlannerConfig{TokenBudget: budget})

	for i, batch := range plan.Batches {
		total := 0
		for _, entry := range batch.Entries {
			total += estimateTokens(entry.Text) + entryTokenOverhead
		}
		if len(batch.Entries) > 1 {
			assert.LessOrEqual(t, total, budget, "batch %d exceeds budget", i)
		}
	}
}

func TestBuildPlanOversizedEntryGetsOwnBatch(t *testing.T) {
	entries := []subtitle.Entry{
		{Index: 1, Text: "short"},
		{Index: 2, Text: strings.Repeat("long text ", 500)},
		{Index: 3, Text: "short again"},
	}
	plan := BuildPlan(entries, PlannerConfig{TokenBudget: 50})

	require.Len(t, plan.Batches, 3)
	assert.Equal(t, 2, plan.Batches[1].Entries[0].Index)
}

func TestBuildPlanDeterministic(t *testing.T) {
	entries := makeEntries(150)
	cfg := PlannerConfig{TokenBudget: 400}

	first := BuildPlan(entries, cfg)
	second := BuildPlan(entries, cfg)
	assert.Equal(t, first, second)
}

func TestBuildPlanEmptyInput(t *testing.T) {
	plan := BuildPlan(nil, PlannerConfig{})
	assert.Empty(t, plan.Batches)
	assert.Equal(t, 0, plan.TotalEntries)
}

func TestCheckpointSchedule(t *testing.T) {
	tests := []struct {
		name     string
		first    int
		step     int
		total    int
		expected []int
	}{
		{"typical file", 30, 75, 180, []int{30, 105, 180}},
		{"exact boundary", 30, 75, 105, []int{30, 105}},
		{"short file before first checkpoint", 30, 75, 20, []int{20}},
		{"single entry", 30, 75, 1, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checkpointSchedule(tt.first, tt.step, tt.total))
		})
	}
}

func TestBuildPlanScheduleEndsAtTotal(t *testing.T) {
	plan := BuildPlan(makeEntries(180), PlannerConfig{})
	require.NotEmpty(t, plan.Checkpoints)
	assert.Equal(t, []int{30, 105, 180}, plan.Checkpoints)
	assert.Equal(t, 180, plan.Checkpoints[len(plan.Checkpoints)-1])
}
