// Package vision is the evaluation-call adapter: it sends a system prompt and
// an ordered conversation of text+image turns to the Anthropic messages API
// and returns the raw response text. Transient failures (rate limiting,
// server errors) are retried per an explicit RetryPolicy; everything else
// surfaces immediately.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chisel/pkg/design"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	maxTokens      = 8192
)

// Client talks to the Anthropic messages API.
type Client struct {
	BaseURL string
	Policy  RetryPolicy
	// OnRetry, when set, observes each failed attempt before its backoff
	// wait. Used by the CLI to print retry progress.
	OnRetry func(Attempt)

	apiKey     string
	httpClient *http.Client
}

// NewClient returns a Client with the default endpoint and retry policy.
func NewClient(apiKey string) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		Policy:     DefaultRetryPolicy(),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// APIError is a non-2xx response from the messages endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic api: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// Classify partitions an error for retry decisions: 429 backs off
// exponentially, 5xx waits a flat delay, everything else is fatal.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return ClassRateLimited
		case apiErr.StatusCode >= 500:
			return ClassServerError
		}
	}
	return ClassFatal
}

// Call sends the conversation with the given system prompt and returns the
// model's text. The full turn list is replayed on every call; the API holds
// no state between calls.
func (c *Client) Call(ctx context.Context, systemPrompt string, turns []design.Turn, model string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  toWire(turns),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.Policy.MaxAttempts; attempt++ {
		text, err := c.post(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err

		class := Classify(err)
		if class == ClassFatal || attempt == c.Policy.MaxAttempts {
			return "", err
		}

		delay := c.Policy.Delay(class, attempt)
		if c.OnRetry != nil {
			c.OnRetry(Attempt{Number: attempt, Class: class, Delay: delay, Err: err})
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", lastErr
}

// post performs one messages request and extracts the first text block.
func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("messages request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp.StatusCode, data)
	}

	var mr messagesResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	for _, block := range mr.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("response contained no text block")
}

// decodeAPIError turns an error response body into an *APIError, keeping a
// raw excerpt when the body is not the documented error shape.
func decodeAPIError(status int, data []byte) error {
	var wrapper struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Error.Message != "" {
		return &APIError{StatusCode: status, Type: wrapper.Error.Type, Message: wrapper.Error.Message}
	}
	excerpt := string(data)
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	return &APIError{StatusCode: status, Type: "unknown", Message: excerpt}
}

// --- Wire types for the messages API ---

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// toWire converts conversation turns to API messages. A user turn expands to
// up to three content blocks: framing text, the preview image, and the
// current source wrapped in an openscad fence.
func toWire(turns []design.Turn) []message {
	msgs := make([]message, 0, len(turns))
	for _, t := range turns {
		if t.Role == design.RoleAssistant {
			msgs = append(msgs, message{
				Role:    "assistant",
				Content: []contentBlock{{Type: "text", Text: t.Text}},
			})
			continue
		}

		blocks := []contentBlock{{Type: "text", Text: t.Text}}
		if t.ImageB64 != "" {
			blocks = append(blocks, contentBlock{
				Type:   "image",
				Source: &imageSource{Type: "base64", MediaType: "image/png", Data: t.ImageB64},
			})
		}
		if t.Code != "" {
			blocks = append(blocks, contentBlock{
				Type: "text",
				Text: "Current .scad code:\n```openscad\n" + t.Code + "\n```",
			})
		}
		msgs = append(msgs, message{Role: "user", Content: blocks})
	}
	return msgs
}
