package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	defaultTimeout       = 60 * time.Second
	maxRetries           = 3
	initialBackoff       = 500 * time.Millisecond
)

// OpenRouterClient is a Backend for the OpenRouter chat completions API.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
}

// NewOpenRouterClient creates a client with the given API key. An empty
// baseURL selects the public endpoint.
func NewOpenRouterClient(apiKey, baseURL string) *OpenRouterClient {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	return &OpenRouterClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		backoff:    initialBackoff,
	}
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

// Chat implements Backend, retrying with exponential back-off on 429.
func (c *OpenRouterClient) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	cr := completionRequest{Model: model, Messages: messages}
	if schema != nil {
		cr.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: map[string]any{"name": "response", "strict": true, "schema": schema},
		}
	}
	body, err := json.Marshal(cr)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		out, err := c.doChat(ctx, body)
		if err == nil {
			return out, nil
		}
		var rl *rateLimitError
		if !errors.As(err, &rl) {
			return "", err
		}
		lastErr = err
		if attempt < maxRetries-1 {
			wait := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *OpenRouterClient) doChat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Title", "chirpd")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return cr.Choices[0].Message.Content, nil
}
