package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/xtremexq/StremioSubMaker-sub002/pkg/log"
)

// SkipReason explains why an offered save did not happen, so operators
// can tell "no save happened" from "nothing new to save".
type SkipReason string

const (
	SkipNone                 SkipReason = ""
	SkipCheckpointNotReached SkipReason = "checkpoint not reached"
	SkipDebounce             SkipReason = "debounce window"
	SkipMinDelta             SkipReason = "below minimum delta"
	SkipStale                SkipReason = "stale out-of-order update"
	SkipAlreadySaved         SkipReason = "batch already saved"
)

// SaveDecision is the outcome of offering progress to the writer.
type SaveDecision struct {
	Saved    bool
	Reason   SkipReason
	Sequence int64
}

// CheckpointConfig tunes partial-save throttling.
type CheckpointConfig struct {
	DebounceInterval time.Duration // minimum time between saves (default 3s)
	MinDelta         int           // minimum new entries between saves (default 10)
}

func (c CheckpointConfig) withDefaults() CheckpointConfig {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = 3 * time.Second
	}
	if c.MinDelta <= 0 {
		c.MinDelta = 10
	}
	return c
}

type saveRequest struct {
	record Record
}

// CheckpointWriter decides when accumulated progress is durable enough
// to expose and persists it without ever regressing previously-visible
// progress. Writes for the job flow through one ordered queue, so a slow
// write carrying stale data cannot land after a newer one.
type CheckpointWriter struct {
	records     *Records
	fingerprint string
	schedule    []int
	total       int
	cfg         CheckpointConfig
	now         func() time.Time

	mu             sync.Mutex
	lastSavedCount int
	lastSaveTime   time.Time
	scheduleIdx    int
	sequence       int64

	queue    chan saveRequest
	done     chan struct{}
	stopOnce sync.Once
}

func NewCheckpointWriter(records *Records, fingerprint string, schedule []int, total int, cfg CheckpointConfig) *CheckpointWriter {
	w := &CheckpointWriter{
		records:     records,
		fingerprint: fingerprint,
		schedule:    schedule,
		total:       total,
		cfg:         cfg.withDefaults(),
		now:         time.Now,
		queue:       make(chan saveRequest, 16),
		done:        make(chan struct{}),
	}
	go w.writeLoop()
	return w
}

func (w *CheckpointWriter) writeLoop() {
	defer close(w.done)
	for req := range w.queue {
		if err := w.records.SavePartial(context.Background(), w.fingerprint, req.record); err != nil {
			log.Error("Failed to save partial record (seq %d, %d entries): %v",
				req.record.SavedAtSequence, req.record.TranslatedCount, err)
		}
	}
}

// Offer evaluates whether progress should be persisted and, if so,
// enqueues the write. The final count is always accepted regardless of
// throttling.
func (w *CheckpointWriter) Offer(translatedCount int, mergedText string) SaveDecision {
	w.mu.Lock()

	if translatedCount < w.lastSavedCount {
		w.mu.Unlock()
		return SaveDecision{Reason: SkipStale}
	}
	if translatedCount == w.lastSavedCount && w.lastSavedCount > 0 {
		w.mu.Unlock()
		return SaveDecision{Reason: SkipAlreadySaved}
	}

	final := translatedCount >= w.total
	if !final {
		if w.scheduleIdx < len(w.schedule) && translatedCount < w.schedule[w.scheduleIdx] {
			w.mu.Unlock()
			return SaveDecision{Reason: SkipCheckpointNotReached}
		}
		now := w.now()
		if !w.lastSaveTime.IsZero() && now.Sub(w.lastSaveTime) < w.cfg.DebounceInterval {
			w.mu.Unlock()
			return SaveDecision{Reason: SkipDebounce}
		}
		if w.lastSavedCount > 0 && translatedCount-w.lastSavedCount < w.cfg.MinDelta {
			w.mu.Unlock()
			return SaveDecision{Reason: SkipMinDelta}
		}
	}

	w.lastSavedCount = translatedCount
	w.lastSaveTime = w.now()
	for w.scheduleIdx < len(w.schedule) && w.schedule[w.scheduleIdx] <= translatedCount {
		w.scheduleIdx++
	}
	w.sequence++
	seq := w.sequence

	record := Record{
		MergedText:      mergedText,
		TranslatedCount: translatedCount,
		TotalCount:      w.total,
		SavedAtSequence: seq,
		UpdatedAt:       w.now(),
	}
	w.mu.Unlock()

	w.queue <- saveRequest{record: record}
	return SaveDecision{Saved: true, Sequence: seq}
}

// Complete drains pending writes, persists the final record, and removes
// the partial only after the final is confirmed retrievable.
func (w *CheckpointWriter) Complete(ctx context.Context, mergedText string, translatedCount int) error {
	w.Stop()

	w.mu.Lock()
	w.sequence++
	record := Record{
		MergedText:      mergedText,
		TranslatedCount: translatedCount,
		TotalCount:      w.total,
		SavedAtSequence: w.sequence,
		UpdatedAt:       w.now(),
	}
	w.mu.Unlock()

	return w.records.SaveFinal(ctx, w.fingerprint, record)
}

// Stop closes the queue and waits for queued writes to land.
func (w *CheckpointWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.queue)
	})
	<-w.done
}
