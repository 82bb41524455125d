package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIServer(t *testing.T, handler http.HandlerFunc) *OpenAIHandle {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIHandle(OpenAIConfig{
		APIKey:  "test-key",
		APIURL:  server.URL,
		Model:   "test-model",
		SiteURL: "https://example.test",
		AppName: "subtest",
	})
}

func chatBody(content, finishReason string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{
				"message":       map[string]string{"content": content},
				"finish_reason": finishReason,
			},
		},
	})
	return string(body)
}

func TestOpenAITranslate(t *testing.T) {
	var captured chatRequest
	handle := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "https://example.test", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "subtest", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, chatBody("1. hallo\n", "stop"))
	})

	result, err := handle.Translate(context.Background(), Request{
		Payload:        "1. hello\n",
		TargetLanguage: "de",
		Instructions:   "numbered lines",
	})
	require.NoError(t, err)
	assert.Equal(t, "1. hallo\n", result)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "numbered lines")
	assert.Equal(t, "1. hello\n", captured.Messages[1].Content)
	assert.False(t, captured.Stream)
}

func TestOpenAIFinishReasons(t *testing.T) {
	tests := []struct {
		finishReason string
		expected     Kind
	}{
		{"length", KindTruncated},
		{"content_filter", KindContentSafetyBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.finishReason, func(t *testing.T) {
			handle := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, chatBody("partial", tt.finishReason))
			})

			_, err := handle.Translate(context.Background(), Request{Payload: "1. hi", TargetLanguage: "de"})
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.expected), "got %v", err)
		})
	}
}

func TestOpenAIErrorBody(t *testing.T) {
	handle := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"message":"insufficient credit","type":"billing"}}`)
	})

	_, err := handle.Translate(context.Background(), Request{Payload: "1. hi", TargetLanguage: "de"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindQuotaExceeded))
}

func TestOpenAIRateLimited(t *testing.T) {
	handle := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "too many requests")
	})

	_, err := handle.Translate(context.Background(), Request{Payload: "1. hi", TargetLanguage: "de"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimited))
}

func TestOpenAITranslateStream(t *testing.T) {
	handle := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range []string{"1. ha", "llo\n", "2. welt\n"} {
			event, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": delta}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, err := handle.TranslateStream(context.Background(), Request{Payload: "1. hi\n2. world\n", TargetLanguage: "de"})
	require.NoError(t, err)

	var assembled string
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		assembled += chunk.Text
	}
	assert.Equal(t, "1. hallo\n2. welt\n", assembled)
}

func TestOpenAITranslateStreamTruncated(t *testing.T) {
	handle := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"1. par\"},\"finish_reason\":\"\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"tial\"},\"finish_reason\":\"length\"}]}\n\n")
	})

	chunks, err := handle.TranslateStream(context.Background(), Request{Payload: "1. hi", TargetLanguage: "de"})
	require.NoError(t, err)

	var streamErr error
	for chunk := range chunks {
		if chunk.Err != nil {
			streamErr = chunk.Err
		}
	}
	require.Error(t, streamErr)
	assert.True(t, IsKind(streamErr, KindTruncated))
}

func TestClassifyHTTP(t *testing.T) {
	assert.Equal(t, KindRateLimited, classifyHTTP(429, "slow down"))
	assert.Equal(t, KindQuotaExceeded, classifyHTTP(429, "quota exceeded for project"))
	assert.Equal(t, KindQuotaExceeded, classifyHTTP(402, ""))
	assert.Equal(t, KindTimeout, classifyHTTP(408, ""))
	assert.Equal(t, KindTimeout, classifyHTTP(504, ""))
	assert.Equal(t, KindTransport, classifyHTTP(500, "internal"))
}

func TestCountsAgainstHealth(t *testing.T) {
	counts := []Kind{KindRateLimited, KindQuotaExceeded, KindContentSafetyBlocked, KindMalformed}
	for _, kind := range counts {
		assert.True(t, CountsAgainstHealth(NewError(kind, "p", "m")), kind.String())
	}
	ignores := []Kind{KindTransport, KindTimeout, KindTruncated}
	for _, kind := range ignores {
		assert.False(t, CountsAgainstHealth(NewError(kind, "p", "m")), kind.String())
	}
	assert.False(t, CountsAgainstHealth(fmt.Errorf("plain error")))
}
