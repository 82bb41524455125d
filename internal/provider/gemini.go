package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiHandle translates through the Google Gemini generateContent API.
// One handle is bound to one API key; rotation happens above this layer.
type GeminiHandle struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type GeminiOption func(*GeminiHandle)

// WithGeminiBaseURL overrides the API base, used by tests.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(g *GeminiHandle) {
		g.baseURL = url
	}
}

func WithGeminiTimeout(timeout time.Duration) GeminiOption {
	return func(g *GeminiHandle) {
		g.httpClient.Timeout = timeout
	}
}

func NewGeminiHandle(apiKey, model string, opts ...GeminiOption) *GeminiHandle {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	g := &GeminiHandle{
		apiKey:  apiKey,
		model:   model,
		baseURL: geminiAPIBase,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GeminiHandle) Name() string {
	return "gemini"
}

func (g *GeminiHandle) Translate(ctx context.Context, req Request) (string, error) {
	if g.apiKey == "" {
		return "", NewError(KindTransport, g.Name(), "API key not configured")
	}

	systemPrompt := buildSystemPrompt(req)

	reqBody := map[string]interface{}{
		"system_instruction": map[string]interface{}{
			"parts": []map[string]string{
				{"text": systemPrompt},
			},
		},
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]string{
					{"text": req.Payload},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature": 0.3,
		},
		"safetySettings": []map[string]string{
			{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", WrapError(classifyTransport(err), g.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", WrapError(KindTransport, g.Name(), "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", NewError(classifyHTTP(resp.StatusCode, string(body)), g.Name(),
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(body)))
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", WrapError(KindTransport, g.Name(), "parse response", err)
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		if geminiResp.PromptFeedback.BlockReason != "" {
			return "", NewError(KindContentSafetyBlocked, g.Name(),
				fmt.Sprintf("blocked: %s", geminiResp.PromptFeedback.BlockReason))
		}
		return "", NewError(KindTransport, g.Name(), "empty response")
	}

	candidate := geminiResp.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}

	switch candidate.FinishReason {
	case "", "STOP":
	case "MAX_TOKENS":
		return "", NewError(KindTruncated, g.Name(), "response hit output token limit")
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return "", NewError(KindContentSafetyBlocked, g.Name(),
			fmt.Sprintf("finish reason %s", candidate.FinishReason))
	default:
		return "", NewError(KindTransport, g.Name(),
			fmt.Sprintf("unexpected finish reason %s", candidate.FinishReason))
	}

	return sb.String(), nil
}

func buildSystemPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are a professional subtitle translation expert. Translate subtitles from ")
	if req.SourceLanguage != "" {
		sb.WriteString(req.SourceLanguage)
	} else {
		sb.WriteString("the source language")
	}
	sb.WriteString(" to ")
	sb.WriteString(req.TargetLanguage)
	sb.WriteString(".\n\n")
	sb.WriteString("Keep subtitle length appropriate for screen reading and preserve the tone of the dialogue.\n\n")
	sb.WriteString("=== OUTPUT FORMAT ===\n")
	sb.WriteString(req.Instructions)
	return sb.String()
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
