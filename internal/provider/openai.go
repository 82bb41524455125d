package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig configures an OpenAI-compatible chat-completions endpoint
// (OpenAI, OpenRouter, local gateways).
type OpenAIConfig struct {
	APIKey      string
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	SiteURL     string
	AppName     string
}

func (c *OpenAIConfig) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = "https://openrouter.ai/api/v1"
	}
	if c.Model == "" {
		c.Model = "openai/gpt-4o-mini"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8000
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
}

// OpenAIHandle translates through an OpenAI-compatible chat API. It also
// implements StreamingHandle via SSE delta events.
type OpenAIHandle struct {
	config     OpenAIConfig
	httpClient *http.Client
}

func NewOpenAIHandle(config OpenAIConfig) *OpenAIHandle {
	config.applyDefaults()
	return &OpenAIHandle{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (o *OpenAIHandle) Name() string {
	return "openai"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (o *OpenAIHandle) Translate(ctx context.Context, req Request) (string, error) {
	resp, err := o.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", WrapError(KindTransport, o.Name(), "read response", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", WrapError(KindTransport, o.Name(), "parse response", err)
	}
	if chatResp.Error != nil && chatResp.Error.Message != "" {
		return "", NewError(classifyHTTP(resp.StatusCode, chatResp.Error.Message), o.Name(), chatResp.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", NewError(classifyHTTP(resp.StatusCode, string(body)), o.Name(),
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(body)))
	}
	if len(chatResp.Choices) == 0 {
		return "", NewError(KindTransport, o.Name(), "no choices in response")
	}

	choice := chatResp.Choices[0]
	switch choice.FinishReason {
	case "", "stop":
	case "length":
		return "", NewError(KindTruncated, o.Name(), "response hit output token limit")
	case "content_filter":
		return "", NewError(KindContentSafetyBlocked, o.Name(), "content filtered")
	}

	return choice.Message.Content, nil
}

// TranslateStream yields response deltas as they arrive over SSE.
func (o *OpenAIHandle) TranslateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	resp, err := o.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, NewError(classifyHTTP(resp.StatusCode, string(body)), o.Name(),
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(body)))
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var event struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}
			if len(event.Choices) == 0 {
				continue
			}
			choice := event.Choices[0]
			if choice.Delta.Content != "" {
				select {
				case out <- Chunk{Text: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			if choice.FinishReason == "length" {
				out <- Chunk{Err: NewError(KindTruncated, o.Name(), "response hit output token limit")}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Chunk{Err: WrapError(classifyTransport(err), o.Name(), "stream read failed", err)}
		}
	}()
	return out, nil
}

func (o *OpenAIHandle) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if o.config.APIKey == "" {
		return nil, NewError(KindTransport, o.Name(), "API key not configured")
	}

	payload := chatRequest{
		Model: o.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt(req)},
			{Role: "user", Content: req.Payload},
		},
		MaxTokens:   o.config.MaxTokens,
		Temperature: o.config.Temperature,
		Stream:      stream,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.APIURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	if o.config.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", o.config.SiteURL)
	}
	if o.config.AppName != "" {
		httpReq.Header.Set("X-Title", o.config.AppName)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, WrapError(classifyTransport(err), o.Name(), "request failed", err)
	}
	return resp, nil
}
