package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/provider"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/rotation"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/workflow"
	"github.com/xtremexq/StremioSubMaker-sub002/pkg/log"
)

// ProgressFunc receives the best-effort in-progress items reconstructed
// from a streaming response. Called from the executor's goroutine between
// chunks; implementations must be cheap.
type ProgressFunc func(items []workflow.Item)

// Executor issues one batch's translation call against a selected
// credential, in streaming or single-shot mode depending on what the
// handle supports.
type Executor struct {
	wf          workflow.Workflow
	sourceLang  string
	targetLang  string
	callTimeout time.Duration
}

func NewExecutor(wf workflow.Workflow, sourceLang, targetLang string, callTimeout time.Duration) *Executor {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Minute
	}
	return &Executor{
		wf:          wf,
		sourceLang:  sourceLang,
		targetLang:  targetLang,
		callTimeout: callTimeout,
	}
}

// Execute runs the batch against the credential and parses the response.
// A response rejected for exceeding the provider's output-size limit
// halves the batch and resubmits each half recursively, down to single
// entries, before the unit is declared unrecoverable.
func (e *Executor) Execute(ctx context.Context, entries []subtitle.Entry, cred rotation.Credential, onProgress ProgressFunc) ([]workflow.Item, error) {
	items, err := e.executeOnce(ctx, entries, cred, onProgress)
	if err == nil {
		return items, nil
	}

	if !provider.IsKind(err, provider.KindTruncated) {
		return nil, err
	}
	if len(entries) == 1 {
		return nil, fmt.Errorf("entry %d unrecoverable after halving to floor: %w", entries[0].Index, err)
	}

	mid := len(entries) / 2
	log.Warn("Batch of %d entries truncated by %s, halving to %d+%d",
		len(entries), cred.Provider, mid, len(entries)-mid)

	left, err := e.Execute(ctx, entries[:mid], cred, onProgress)
	if err != nil {
		return nil, err
	}
	right, err := e.Execute(ctx, entries[mid:], cred, onProgress)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func (e *Executor) executeOnce(ctx context.Context, entries []subtitle.Entry, cred rotation.Credential, onProgress ProgressFunc) ([]workflow.Item, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	req := provider.Request{
		Payload:        e.wf.Format(entries),
		SourceLanguage: e.sourceLang,
		TargetLanguage: e.targetLang,
		Instructions:   e.wf.Instructions(),
	}

	var raw string
	var err error
	if streamer, ok := cred.Handle.(provider.StreamingHandle); ok {
		raw, err = e.executeStreaming(callCtx, streamer, req, onProgress)
	} else {
		raw, err = cred.Handle.Translate(callCtx, req)
	}
	if err != nil {
		return nil, err
	}

	items, err := e.wf.Parse(raw)
	if err != nil {
		return nil, provider.WrapError(provider.KindMalformed, cred.Provider, "unparseable response", err)
	}
	return items, nil
}

// executeStreaming consumes the chunk stream, feeding the accumulated
// text to the workflow's partial parser so callers can surface mid-batch
// progress without waiting for completion.
func (e *Executor) executeStreaming(ctx context.Context, handle provider.StreamingHandle, req provider.Request, onProgress ProgressFunc) (string, error) {
	chunks, err := handle.TranslateStream(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	lastReported := 0
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Text)

		if onProgress != nil {
			items := e.wf.ParsePartial(sb.String())
			if len(items) > lastReported {
				lastReported = len(items)
				onProgress(items)
			}
		}
	}
	return sb.String(), nil
}
