package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/cache"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/pipeline"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/provider"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/rotation"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/subtitle"
)

// echoHandle answers numbered payloads with a fixed translation prefix.
type echoHandle struct{}

func (echoHandle) Name() string { return "echo" }

func (echoHandle) Translate(_ context.Context, req provider.Request) (string, error) {
	var sb strings.Builder
	for _, line := range strings.Split(req.Payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dot := strings.Index(line, ".")
		if dot < 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s. übersetzt %s\n", line[:dot], strings.TrimSpace(line[dot+1:]))
	}
	return sb.String(), nil
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	store := cache.NewMemoryStore()
	records := pipeline.NewRecords(store, time.Hour, time.Hour, 15*time.Minute)
	orchestrator := pipeline.NewOrchestrator(store, records, pipeline.OrchestratorConfig{
		Checkpoint: pipeline.CheckpointConfig{DebounceInterval: time.Nanosecond, MinDelta: 1},
	}, []rotation.Credential{rotation.NewCredential("echo", "test-key", echoHandle{})}, nil)
	return NewServer(orchestrator, opts...)
}

func testEntries(count int) []subtitle.Entry {
	entries := make([]subtitle.Entry, count)
	for i := range entries {
		entries[i] = subtitle.Entry{
			Index:     i + 1,
			StartTime: time.Duration(i) * 2 * time.Second,
			EndTime:   time.Duration(i)*2*time.Second + time.Second,
			Text:      fmt.Sprintf("Dialogue line %d.", i+1),
		}
	}
	return entries
}

func submitBody(t *testing.T, count int) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(pipeline.Request{
		Entries:        testEntries(count),
		SourceLanguage: "en",
		TargetLanguage: "de",
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestSubmitAndPoll(t *testing.T) {
	server := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/translate", submitBody(t, 10)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.Fingerprint)

	// The job runs in the background; poll until the final record lands.
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/translate/"+submitted.Fingerprint, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		var result pipeline.LookupResult
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			return false
		}
		return result.Record != nil && result.Record.IsComplete
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubmitIdempotentFingerprint(t *testing.T) {
	server := newTestServer(t)

	submit := func() string {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/translate", submitBody(t, 10)))
		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp submitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Fingerprint
	}

	assert.Equal(t, submit(), submit())
}

func TestSubmitRejectsBadInput(t *testing.T) {
	server := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/translate", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, err := json.Marshal(pipeline.Request{Entries: testEntries(3)})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/translate", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/translate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/translate/abc", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLookupUnknownFingerprint(t *testing.T) {
	server := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/translate/deadbeef", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestStreamDeliversFinalRecord(t *testing.T) {
	server := newTestServer(t, WithStreamInterval(10*time.Millisecond))
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/translate", "application/json", submitBody(t, 10))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted submitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))

	streamResp, err := http.Get(ts.URL + "/api/translate/" + submitted.Fingerprint + "/stream")
	require.NoError(t, err)
	defer streamResp.Body.Close()
	require.Equal(t, "text/event-stream", streamResp.Header.Get("Content-Type"))

	// Read events until the complete record arrives; the server closes
	// the stream after it.
	scanner := bufio.NewScanner(streamResp.Body)
	sawComplete := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var result pipeline.LookupResult
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &result))
		if result.Record != nil && result.Record.IsComplete {
			sawComplete = true
			assert.Contains(t, result.Record.MergedText, "übersetzt")
		}
	}
	assert.True(t, sawComplete)
}
