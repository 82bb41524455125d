package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/cache"
)

func newTestRecords() *Records {
	return NewRecords(cache.NewMemoryStore(), time.Hour, time.Hour, 15*time.Minute)
}

func newTestWriter(t *testing.T, records *Records, schedule []int, total int) (*CheckpointWriter, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w := NewCheckpointWriter(records, "fp-test", schedule, total, CheckpointConfig{
		DebounceInterval: 3 * time.Second,
		MinDelta:         10,
	})
	w.now = func() time.Time { return clock }
	return w, &clock
}

func TestCheckpointWriterFollowsSchedule(t *testing.T) {
	records := newTestRecords()
	w, clock := newTestWriter(t, records, []int{30, 105, 180}, 180)

	decision := w.Offer(12, "partial")
	assert.False(t, decision.Saved)
	assert.Equal(t, SkipCheckpointNotReached, decision.Reason)

	decision = w.Offer(31, "partial at 31")
	assert.True(t, decision.Saved)

	// Next scheduled checkpoint is 105; counts between stay unsaved even
	// after the debounce window.
	*clock = clock.Add(10 * time.Second)
	decision = w.Offer(60, "partial at 60")
	assert.False(t, decision.Saved)
	assert.Equal(t, SkipCheckpointNotReached, decision.Reason)

	decision = w.Offer(110, "partial at 110")
	assert.True(t, decision.Saved)

	w.Stop()
	record, err := records.GetPartial(context.Background(), "fp-test")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 110, record.TranslatedCount)
	assert.Equal(t, "partial at 110", record.MergedText)
	assert.False(t, record.IsComplete)
}

func TestCheckpointWriterDebounce(t *testing.T) {
	records := newTestRecords()
	w, clock := newTestWriter(t, records, []int{10, 20, 30}, 100)
	defer w.Stop()

	require.True(t, w.Offer(12, "a").Saved)

	*clock = clock.Add(time.Second)
	decision := w.Offer(25, "b")
	assert.False(t, decision.Saved)
	assert.Equal(t, SkipDebounce, decision.Reason)

	*clock = clock.Add(5 * time.Second)
	assert.True(t, w.Offer(25, "b").Saved)
}

func TestCheckpointWriterMinDelta(t *testing.T) {
	records := newTestRecords()
	w, clock := newTestWriter(t, records, []int{10, 20, 30}, 100)
	defer w.Stop()

	require.True(t, w.Offer(15, "a").Saved)
	*clock = clock.Add(10 * time.Second)

	decision := w.Offer(22, "b")
	assert.False(t, decision.Saved)
	assert.Equal(t, SkipMinDelta, decision.Reason)

	assert.True(t, w.Offer(31, "c").Saved)
}

func TestCheckpointWriterRejectsRegression(t *testing.T) {
	records := newTestRecords()
	w, clock := newTestWriter(t, records, []int{10}, 100)
	defer w.Stop()

	require.True(t, w.Offer(40, "forty").Saved)
	*clock = clock.Add(10 * time.Second)

	decision := w.Offer(35, "thirty-five")
	assert.False(t, decision.Saved)
	assert.Equal(t, SkipStale, decision.Reason)

	decision = w.Offer(40, "forty again")
	assert.False(t, decision.Saved)
	assert.Equal(t, SkipAlreadySaved, decision.Reason)
}

func TestCheckpointWriterFinalCountAlwaysSaved(t *testing.T) {
	records := newTestRecords()
	w, _ := newTestWriter(t, records, []int{10, 50}, 60)
	defer w.Stop()

	require.True(t, w.Offer(15, "a").Saved)

	// Final count lands inside both the debounce window and the min
	// delta, and must still be accepted.
	decision := w.Offer(60, "all done")
	assert.True(t, decision.Saved)
}

func TestCheckpointWriterSequenceMonotonic(t *testing.T) {
	records := newTestRecords()
	w, clock := newTestWriter(t, records, []int{5, 10, 15}, 100)
	defer w.Stop()

	first := w.Offer(6, "a")
	*clock = clock.Add(10 * time.Second)
	second := w.Offer(16, "b")

	require.True(t, first.Saved)
	require.True(t, second.Saved)
	assert.Greater(t, second.Sequence, first.Sequence)
}

func TestCheckpointWriterComplete(t *testing.T) {
	ctx := context.Background()
	records := newTestRecords()
	w, clock := newTestWriter(t, records, []int{10}, 50)

	require.True(t, w.Offer(12, "partial").Saved)
	*clock = clock.Add(10 * time.Second)

	require.NoError(t, w.Complete(ctx, "final text", 50))

	final, err := records.GetFinal(ctx, "fp-test")
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.True(t, final.IsComplete)
	assert.Equal(t, "final text", final.MergedText)
	assert.Equal(t, 50, final.TranslatedCount)

	partial, err := records.GetPartial(ctx, "fp-test")
	require.NoError(t, err)
	assert.Nil(t, partial, "partial must be gone once the final is retrievable")
}
