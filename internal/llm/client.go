// Package llm provides an OpenAI-compatible chat-completions client
// with retry/backoff and a cap on concurrent in-flight calls.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/coderunhq/coderun/internal/apperrors"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting from the provider, when available.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// Response is the LLM Client's normalized chat-completion result.
type Response struct {
	Content string
	Usage   *Usage
}

// Client is the LLM Client interface, substitutable with MockClient for tests.
type Client interface {
	Chat(ctx context.Context, messages []Message) (*Response, error)
}

// Config configures an HTTPClient.
type Config struct {
	APIType      string
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	// RateLimitRPS caps how many Chat calls run at once on this client
	// (each call holds its slot across all of its retries). It is not a
	// per-second rate: calls are not spaced out in time.
	RateLimitRPS int
}

// HTTPClient calls an OpenAI-compatible /chat/completions endpoint.
type HTTPClient struct {
	cfg  Config
	http *http.Client
	sem  *semaphore.Weighted
}

func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		sem:  semaphore.NewWeighted(int64(cfg.RateLimitRPS)),
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponseBody struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Chat sends messages to the configured endpoint, retrying on 5xx/transport
// errors with exponential backoff: one initial attempt plus up to
// MaxRetries retries.
func (c *HTTPClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMRateLimited, "rate limiter acquire failed", err)
	}
	defer c.sem.Release(1)

	body, err := json.Marshal(chatRequest{Model: c.cfg.Model, Messages: messages})
	if err != nil {
		return nil, err
	}

	delay := c.cfg.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

type retryableError struct{ err error }

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

func isRetryable(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &retryableError{apperrors.Wrap(apperrors.CodeLLMTimeout, "llm request failed", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return nil, &retryableError{apperrors.New(apperrors.CodeLLMServerError, fmt.Sprintf("llm server error %d: %s", resp.StatusCode, string(respBody)))}
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.New(apperrors.CodeLLMBadRequest, fmt.Sprintf("llm bad request %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMServerError, "llm response decode failed", err)
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	return &Response{Content: content, Usage: parsed.Usage}, nil
}

var _ Client = (*HTTPClient)(nil)
