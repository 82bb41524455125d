package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/provider"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/rotation"
)

// fakeHandle scripts provider behavior for pipeline tests. By default it
// echoes a numbered-workflow payload back with every line "translated".
type fakeHandle struct {
	name string

	mu       sync.Mutex
	calls    int
	payloads []string

	// failures are consumed one per call before translate succeeds.
	failures []error
	// translate overrides the default echo behavior when set.
	translate func(call int, req provider.Request) (string, error)
}

func newFakeHandle(name string) *fakeHandle {
	return &fakeHandle{name: name}
}

func (f *fakeHandle) Name() string {
	return f.name
}

func (f *fakeHandle) Translate(_ context.Context, req provider.Request) (string, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.payloads = append(f.payloads, req.Payload)
	var failure error
	if len(f.failures) > 0 {
		failure = f.failures[0]
		f.failures = f.failures[1:]
	}
	translate := f.translate
	f.mu.Unlock()

	if failure != nil {
		return "", failure
	}
	if translate != nil {
		return translate(call, req)
	}
	return echoNumbered(req.Payload), nil
}

func (f *fakeHandle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeHandle) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// echoNumbered translates a numbered-workflow payload by prefixing every
// line's text, preserving the IDs.
func echoNumbered(payload string) string {
	var sb strings.Builder
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dot := strings.Index(line, ".")
		if dot < 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s. übersetzt %s\n", line[:dot], strings.TrimSpace(line[dot+1:])))
	}
	return sb.String()
}

// echoNumberedDropping is like echoNumbered but omits the given IDs.
func echoNumberedDropping(payload string, drop map[string]bool) string {
	var sb strings.Builder
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dot := strings.Index(line, ".")
		if dot < 0 || drop[line[:dot]] {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s. übersetzt %s\n", line[:dot], strings.TrimSpace(line[dot+1:])))
	}
	return sb.String()
}

func fakeCredential(handle *fakeHandle, secret string) rotation.Credential {
	return rotation.NewCredential(handle.Name(), secret, handle)
}
