package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/cache"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/provider"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/rotation"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/workflow"
	"github.com/xtremexq/StremioSubMaker-sub002/pkg/log"
)

// Request describes one translation job.
type Request struct {
	Entries        []subtitle.Entry `json:"entries"`
	SourceLanguage string           `json:"source_language,omitempty"`
	TargetLanguage string           `json:"target_language"`
	UserID         string           `json:"user_id,omitempty"`
	Options        Options          `json:"options,omitempty"`
}

// OrchestratorConfig aggregates the tuning for a job run. Zero values
// fall back to the operational defaults.
type OrchestratorConfig struct {
	Planner        PlannerConfig
	Checkpoint     CheckpointConfig
	Rotation       rotation.Config
	MismatchCutoff float64       // targeted-recovery bound (default 0.30)
	FullRetryCount int           // whole-batch retries on heavy mismatch (default 1)
	MaxJobsPerUser int           // concurrent jobs per user (default 3)
	SlotTTL        time.Duration // safety TTL on user slot counters (default 30m)
	CallTimeout    time.Duration // per-call timeout passed to the executor

	// DefaultWorkflowMode fills requests that do not pick a mode.
	DefaultWorkflowMode string
	// ProviderTag identifies the deployed provider configuration inside
	// job fingerprints, so a model change does not serve stale records.
	ProviderTag string
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.MismatchCutoff <= 0 {
		c.MismatchCutoff = 0.30
	}
	if c.FullRetryCount <= 0 {
		c.FullRetryCount = 1
	}
	if c.MaxJobsPerUser <= 0 {
		c.MaxJobsPerUser = 3
	}
	if c.SlotTTL <= 0 {
		c.SlotTTL = 30 * time.Minute
	}
	return c
}

// Orchestrator drives a job through planning, batched provider calls,
// alignment recovery and checkpointed delivery. One orchestrator serves
// all jobs; per-job state lives in the run.
type Orchestrator struct {
	store    cache.Store
	records  *Records
	cfg      OrchestratorConfig
	primary  []rotation.Credential
	fallback []rotation.Credential
	group    singleflight.Group
}

func NewOrchestrator(store cache.Store, records *Records, cfg OrchestratorConfig, primary, fallback []rotation.Credential) *Orchestrator {
	return &Orchestrator{
		store:    store,
		records:  records,
		cfg:      cfg.withDefaults(),
		primary:  primary,
		fallback: fallback,
	}
}

// Prepare validates the request, fills in a detected source language when
// none was given, and derives the job fingerprint. It performs no
// provider work.
func (o *Orchestrator) Prepare(req *Request) (string, error) {
	if len(req.Entries) == 0 {
		return "", fmt.Errorf("no subtitle entries")
	}
	if req.TargetLanguage == "" {
		return "", fmt.Errorf("target language is required")
	}
	if req.Options.WorkflowMode == "" {
		req.Options.WorkflowMode = o.cfg.DefaultWorkflowMode
	}
	if req.Options.ProviderTag == "" {
		req.Options.ProviderTag = o.cfg.ProviderTag
	}
	if _, err := workflow.Select(req.Options.WorkflowMode); err != nil {
		return "", err
	}

	if req.SourceLanguage == "" {
		detected := subtitle.DetectLanguage(req.Entries)
		req.SourceLanguage = detected.String()
		log.Info("Detected source language %q from %d entries", req.SourceLanguage, len(req.Entries))
	}
	req.SourceLanguage = CanonicalLanguage(req.SourceLanguage)
	req.TargetLanguage = CanonicalLanguage(req.TargetLanguage)

	return Fingerprint(req.Entries, req.SourceLanguage, req.TargetLanguage, req.Options), nil
}

// Submit runs the job to completion and returns the final record.
// Completed jobs are served from cache without any provider calls;
// cached failures are surfaced without re-running doomed work; identical
// concurrent submissions collapse onto one in-flight run.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Record, error) {
	fingerprint, err := o.Prepare(&req)
	if err != nil {
		return nil, err
	}
	return o.submit(ctx, fingerprint, req)
}

// SubmitAsync starts the job in the background and returns the
// fingerprint immediately so callers can poll. Cached outcomes are
// resolved synchronously. The job runs on a background context: an
// abandoned poller does not cancel work other viewers may pick up.
func (o *Orchestrator) SubmitAsync(ctx context.Context, req Request) (string, error) {
	fingerprint, err := o.Prepare(&req)
	if err != nil {
		return "", err
	}

	if record, err := o.records.GetFinal(ctx, fingerprint); err == nil && record != nil {
		return fingerprint, nil
	}
	if record, err := o.records.GetError(ctx, fingerprint); err == nil && record != nil {
		return fingerprint, nil
	}

	// Reject over-cap submissions synchronously so the caller sees the
	// refusal. The authoritative check still runs inside the job.
	if req.UserID != "" {
		if count, err := o.store.Increment(ctx, userSlotKey(req.UserID), 0, 0); err == nil && count >= int64(o.cfg.MaxJobsPerUser) {
			return "", ErrTooManyJobs
		}
	}

	go func() {
		if _, err := o.submit(context.Background(), fingerprint, req); err != nil {
			log.Warn("Background job %s failed: %v", shortFingerprint(fingerprint), err)
		}
	}()
	return fingerprint, nil
}

// Lookup resolves a fingerprint for a polling caller.
func (o *Orchestrator) Lookup(ctx context.Context, fingerprint string) (*LookupResult, error) {
	return o.records.Lookup(ctx, fingerprint)
}

func (o *Orchestrator) submit(ctx context.Context, fingerprint string, req Request) (*Record, error) {
	if record, err := o.records.GetFinal(ctx, fingerprint); err != nil {
		return nil, err
	} else if record != nil {
		log.Debug("Job %s served from final record", shortFingerprint(fingerprint))
		return record, nil
	}
	if errRecord, err := o.records.GetError(ctx, fingerprint); err != nil {
		return nil, err
	} else if errRecord != nil {
		return nil, fmt.Errorf("job failed %s ago: %s (%s)",
			time.Since(errRecord.FailedAt).Round(time.Second), errRecord.Message, errRecord.Kind)
	}

	result, err, _ := o.group.Do(fingerprint, func() (interface{}, error) {
		// Another caller may have completed the job between our cache
		// check and winning the flight.
		if record, err := o.records.GetFinal(ctx, fingerprint); err == nil && record != nil {
			return record, nil
		}

		release, err := o.acquireUserSlot(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		defer release()

		return o.run(ctx, fingerprint, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Record), nil
}

// acquireUserSlot enforces the per-user concurrent job cap through a
// shared counter, so the cap holds across processes. The safety TTL lets
// slots leak back after a crash.
func (o *Orchestrator) acquireUserSlot(ctx context.Context, userID string) (func(), error) {
	if userID == "" {
		return func() {}, nil
	}
	key := userSlotKey(userID)

	count, err := o.store.Increment(ctx, key, 1, o.cfg.SlotTTL)
	if err != nil {
		// A broken slot counter must not take translation down with it.
		log.Warn("User slot counter unavailable for %s: %v", userID, err)
		return func() {}, nil
	}
	if count > int64(o.cfg.MaxJobsPerUser) {
		if _, derr := o.store.Increment(ctx, key, -1, o.cfg.SlotTTL); derr != nil {
			log.Warn("Failed to release rejected slot for %s: %v", userID, derr)
		}
		return nil, ErrTooManyJobs
	}

	return func() {
		if _, err := o.store.Increment(ctx, key, -1, o.cfg.SlotTTL); err != nil {
			log.Warn("Failed to release slot for %s: %v", userID, err)
		}
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, fingerprint string, req Request) (*Record, error) {
	started := time.Now()
	wf, err := workflow.Select(req.Options.WorkflowMode)
	if err != nil {
		return nil, err
	}

	rotCfg := o.cfg.Rotation
	if req.Options.RotationGranularity != "" {
		rotCfg.Granularity = req.Options.RotationGranularity
	}
	manager, err := rotation.NewManager(o.store, rotCfg, "job:"+shortFingerprint(fingerprint), o.primary, o.fallback)
	if err != nil {
		return nil, err
	}

	plan := BuildPlan(req.Entries, o.cfg.Planner)
	executor := NewExecutor(wf, req.SourceLanguage, req.TargetLanguage, o.cfg.CallTimeout)
	writer := NewCheckpointWriter(o.records, fingerprint, plan.Checkpoints, plan.TotalEntries, o.cfg.Checkpoint)
	defer writer.Stop()

	log.Info("Job %s: %d entries in %d batches, %s -> %s, workflow %s",
		shortFingerprint(fingerprint), plan.TotalEntries, len(plan.Batches),
		req.SourceLanguage, req.TargetLanguage, wf.Name())

	translated := make(map[int]string, plan.TotalEntries)
	timing := make(map[int]Timing)

	for batchNum, batch := range plan.Batches {
		onProgress := func(items []workflow.Item) {
			partial := Align(batch.Entries, items, wf.CarriesIdentity(), wf.TrustsTiming())
			merged := make(map[int]string, len(translated)+len(partial.Resolved))
			for k, v := range translated {
				merged[k] = v
			}
			for k, v := range partial.Resolved {
				merged[k] = v
			}
			writer.Offer(len(merged), o.render(req.Entries, merged, timing, wf.TrustsTiming()))
		}

		items, err := o.runBatch(ctx, manager, executor, batch.Entries, onProgress)
		if err != nil {
			o.recordFailure(fingerprint, batch, err)
			return nil, err
		}

		result := Align(batch.Entries, items, wf.CarriesIdentity(), wf.TrustsTiming())
		o.recoverMismatch(ctx, manager, executor, wf, batch.Entries, &result)

		for _, index := range result.MissingIndices {
			if entry, ok := entryByIndex(batch.Entries, index); ok {
				result.Resolved[index] = MarkUnresolved(entry.Text)
			}
		}
		if len(result.MissingIndices) > 0 {
			log.Warn("Batch %d/%d: %d entries unresolved after recovery",
				batchNum+1, len(plan.Batches), len(result.MissingIndices))
		}

		for index, text := range result.Resolved {
			translated[index] = text
		}
		for index, t := range result.Timing {
			timing[index] = t
		}

		writer.Offer(len(translated), o.render(req.Entries, translated, timing, wf.TrustsTiming()))
	}

	merged := o.render(req.Entries, translated, timing, wf.TrustsTiming())
	if err := writer.Complete(ctx, merged, len(translated)); err != nil {
		return nil, err
	}
	record, err := o.records.GetFinal(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("final record missing after completion")
	}

	log.Info("Job %s completed: %d/%d entries in %v",
		shortFingerprint(fingerprint), len(translated), plan.TotalEntries, time.Since(started).Round(time.Millisecond))
	return record, nil
}

// runBatch tries the batch across the active pool, rotating on failure.
// When the pool is spent it switches to the fallback pool once; when
// that is spent too the job is done for.
func (o *Orchestrator) runBatch(ctx context.Context, manager *rotation.Manager, executor *Executor, entries []subtitle.Entry, onProgress ProgressFunc) ([]workflow.Item, error) {
	var lastErr error
	for {
		attempts := manager.PoolSize()
		for i := 0; i < attempts; i++ {
			cred, err := manager.Select(ctx)
			if err != nil {
				return nil, err
			}

			items, err := executor.Execute(ctx, entries, cred, onProgress)
			if err == nil {
				manager.ReportSuccess(ctx, cred)
				return items, nil
			}
			lastErr = err
			manager.ReportFailure(ctx, cred, err)
			log.Warn("Credential %s/%s failed on batch of %d: %v", cred.Provider, cred.KeyID, len(entries), err)

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		if manager.ActivateFallback() {
			continue
		}
		return nil, &ExhaustedError{
			BatchStart: entries[0].Index,
			BatchEnd:   entries[len(entries)-1].Index,
			LastErr:    lastErr,
		}
	}
}

// recoverMismatch repairs an incomplete alignment in place. A small gap
// resubmits just the missing entries; a heavy one retries the whole
// batch. Recovery failures are not job-fatal: what stays missing is
// marked, not dropped.
func (o *Orchestrator) recoverMismatch(ctx context.Context, manager *rotation.Manager, executor *Executor, wf workflow.Workflow, entries []subtitle.Entry, result *AlignmentResult) {
	switch PlanRecovery(len(entries), len(result.MissingIndices), o.cfg.MismatchCutoff) {
	case RecoveryNone:
		return

	case RecoveryTargeted:
		missing := entriesByIndex(entries, result.MissingIndices)
		log.Info("Targeted recovery for %d/%d entries", len(missing), len(entries))
		items, err := o.runBatch(ctx, manager, executor, missing, nil)
		if err != nil {
			log.Warn("Targeted recovery failed: %v", err)
			return
		}
		result.Merge(Align(missing, items, wf.CarriesIdentity(), wf.TrustsTiming()))

	case RecoveryFullRetry:
		for attempt := 1; attempt <= o.cfg.FullRetryCount && len(result.MissingIndices) > 0; attempt++ {
			log.Info("Full batch retry %d/%d, %d of %d entries missing",
				attempt, o.cfg.FullRetryCount, len(result.MissingIndices), len(entries))
			items, err := o.runBatch(ctx, manager, executor, entries, nil)
			if err != nil {
				log.Warn("Full batch retry failed: %v", err)
				return
			}
			result.Merge(Align(entries, items, wf.CarriesIdentity(), wf.TrustsTiming()))
		}
	}
}

func (o *Orchestrator) recordFailure(fingerprint string, batch Batch, jobErr error) {
	// Only provider exhaustion is worth caching; a cancelled context says
	// nothing about whether a retry would succeed.
	if !IsExhausted(jobErr) {
		return
	}

	kind := "unknown"
	if k, ok := provider.KindOf(jobErr); ok {
		kind = k.String()
	}
	record := ErrorRecord{
		Message:  jobErr.Error(),
		Kind:     kind,
		FailedAt: time.Now(),
	}
	// The submitting context may already be dead; the error record must
	// land regardless.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.records.SaveError(saveCtx, fingerprint, record); err != nil {
		log.Error("Failed to save error record for %s: %v", shortFingerprint(fingerprint), err)
	}
	log.Error("Job %s failed on entries %d-%d: %v",
		shortFingerprint(fingerprint), batch.Entries[0].Index, batch.Entries[len(batch.Entries)-1].Index, jobErr)
}

// render produces the current merged output. For trusted-timing
// workflows the provider timecodes replace the originals on entries that
// returned them.
func (o *Orchestrator) render(entries []subtitle.Entry, translated map[int]string, timing map[int]Timing, trustTiming bool) string {
	if !trustTiming || len(timing) == 0 {
		return subtitle.Render(entries, translated)
	}

	timed := make([]subtitle.Entry, len(entries))
	copy(timed, entries)
	for i := range timed {
		if t, ok := timing[timed[i].Index]; ok {
			timed[i].StartTime = t.StartTime
			timed[i].EndTime = t.EndTime
		}
	}
	return subtitle.Render(timed, translated)
}

func entryByIndex(entries []subtitle.Entry, index int) (subtitle.Entry, bool) {
	for _, entry := range entries {
		if entry.Index == index {
			return entry, true
		}
	}
	return subtitle.Entry{}, false
}

func entriesByIndex(entries []subtitle.Entry, indices []int) []subtitle.Entry {
	want := make(map[int]bool, len(indices))
	for _, index := range indices {
		want[index] = true
	}
	picked := make([]subtitle.Entry, 0, len(indices))
	for _, entry := range entries {
		if want[entry.Index] {
			picked = append(picked, entry)
		}
	}
	return picked
}

func userSlotKey(userID string) string {
	return "slots:user:" + userID
}

func shortFingerprint(fingerprint string) string {
	if len(fingerprint) > 8 {
		return fingerprint[:8]
	}
	return fingerprint
}
