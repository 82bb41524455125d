package pipeline

import (
	"sort"
	"time"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/workflow"
)

// UnresolvedMarker prefixes entries that stayed untranslated after every
// recovery attempt. Visible and greppable; never silently dropped.
const UnresolvedMarker = "[untranslated]"

// MarkUnresolved wraps the original source text in the unresolved marker.
func MarkUnresolved(text string) string {
	return UnresolvedMarker + " " + text
}

// Timing is provider-returned timing for workflows that trust it.
type Timing struct {
	StartTime time.Duration
	EndTime   time.Duration
}

// AlignmentResult maps a provider response back onto original entry
// positions.
type AlignmentResult struct {
	// Resolved maps entry index to translated text.
	Resolved map[int]string
	// Timing maps entry index to provider timing, populated only for
	// trusted-timing workflows.
	Timing map[int]Timing
	// MissingIndices lists entries the response did not cover, ascending.
	MissingIndices []int
}

// Align reconciles parsed items onto the batch's entries. When the
// workflow carries identity, items match by ID and order is irrelevant;
// otherwise items map onto entries by position.
func Align(entries []subtitle.Entry, items []workflow.Item, byIdentity bool, trustTiming bool) AlignmentResult {
	result := AlignmentResult{
		Resolved: make(map[int]string, len(entries)),
	}
	if trustTiming {
		result.Timing = make(map[int]Timing, len(entries))
	}

	if byIdentity {
		valid := make(map[int]bool, len(entries))
		for _, entry := range entries {
			valid[entry.Index] = true
		}
		for _, item := range items {
			if !valid[item.ID] || item.Text == "" {
				continue
			}
			result.Resolved[item.ID] = item.Text
			if trustTiming && item.HasTiming {
				result.Timing[item.ID] = Timing{StartTime: item.StartTime, EndTime: item.EndTime}
			}
		}
	} else {
		for i, item := range items {
			if i >= len(entries) || item.Text == "" {
				continue
			}
			index := entries[i].Index
			result.Resolved[index] = item.Text
			if trustTiming && item.HasTiming {
				result.Timing[index] = Timing{StartTime: item.StartTime, EndTime: item.EndTime}
			}
		}
	}

	for _, entry := range entries {
		if _, ok := result.Resolved[entry.Index]; !ok {
			result.MissingIndices = append(result.MissingIndices, entry.Index)
		}
	}
	sort.Ints(result.MissingIndices)
	return result
}

// Merge folds a follow-up alignment into the base result, clearing
// recovered indices from the missing set.
func (r *AlignmentResult) Merge(other AlignmentResult) {
	for index, text := range other.Resolved {
		r.Resolved[index] = text
	}
	if r.Timing != nil {
		for index, timing := range other.Timing {
			r.Timing[index] = timing
		}
	}

	remaining := r.MissingIndices[:0]
	for _, index := range r.MissingIndices {
		if _, ok := r.Resolved[index]; !ok {
			remaining = append(remaining, index)
		}
	}
	r.MissingIndices = remaining
}

// RecoveryPlan classifies how an incomplete alignment should be repaired.
type RecoveryPlan int

const (
	// RecoveryNone: the batch is fully resolved.
	RecoveryNone RecoveryPlan = iota
	// RecoveryTargeted: re-submit only the missing entries.
	RecoveryTargeted
	// RecoveryFullRetry: too much is missing, retry the whole batch.
	RecoveryFullRetry
)

// PlanRecovery picks the repair strategy from the missing ratio. cutoff
// is the targeted-recovery bound (0 means the 30% default).
func PlanRecovery(batchSize, missingCount int, cutoff float64) RecoveryPlan {
	if missingCount == 0 || batchSize == 0 {
		return RecoveryNone
	}
	if cutoff <= 0 {
		cutoff = 0.30
	}
	if float64(missingCount)/float64(batchSize) <= cutoff {
		return RecoveryTargeted
	}
	return RecoveryFullRetry
}
