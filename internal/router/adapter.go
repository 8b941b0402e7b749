package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"llmgate/internal/models"
)

// RetryableError marks a dispatch failure worth trying on the next
// candidate: timeouts, provider rate limits, 5xx.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks a dispatch failure that must propagate without fallback:
// 4xx client errors and content-policy rejections.
type FatalError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Request is the provider-bound payload after alias resolution and
// attribution metadata attachment.
type Request struct {
	Model   string
	Payload map[string]interface{}
	Stream  bool
}

// Response is a completed provider call with its usage accounting.
type Response struct {
	StatusCode       int
	Body             []byte
	PromptTokens     int
	CompletionTokens int
	// Cost is the provider-reported cost, zero when the provider does not
	// report one (deployment cost overrides apply instead).
	Cost    float64
	Latency time.Duration
}

// ProviderAdapter dispatches one request to one deployment's backend.
type ProviderAdapter interface {
	Dispatch(ctx context.Context, deployment *models.Deployment, req *Request) (*Response, error)
}

// HTTPAdapter is the pass-through adapter: it posts the payload to the
// deployment's api_base, swapping in the provider-side model name.
type HTTPAdapter struct {
	client *http.Client
}

// NewHTTPAdapter creates an HTTP provider adapter
func NewHTTPAdapter(timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{
		client: &http.Client{Timeout: timeout},
	}
}

// Dispatch posts the request to the deployment and classifies failures.
func (a *HTTPAdapter) Dispatch(ctx context.Context, deployment *models.Deployment, req *Request) (*Response, error) {
	payload := make(map[string]interface{}, len(req.Payload))
	for k, v := range req.Payload {
		payload[k] = v
	}
	payload["model"] = deployment.ProviderModel

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &FatalError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, deployment.APIBase, bytes.NewReader(body))
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RetryableError{Err: fmt.Errorf("dispatch to %s failed: %w", deployment.ID, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RetryableError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &RetryableError{Err: fmt.Errorf("deployment %s returned %d", deployment.ID, resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &FatalError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			Err:        fmt.Errorf("deployment %s returned %d", deployment.ID, resp.StatusCode),
		}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Latency:    time.Since(start),
	}
	parseUsage(respBody, out)
	return out, nil
}

// parseUsage extracts the OpenAI-style usage block when present.
func parseUsage(body []byte, out *Response) {
	var envelope struct {
		Usage struct {
			PromptTokens     int     `json:"prompt_tokens"`
			CompletionTokens int     `json:"completion_tokens"`
			Cost             float64 `json:"cost,omitempty"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return
	}
	out.PromptTokens = envelope.Usage.PromptTokens
	out.CompletionTokens = envelope.Usage.CompletionTokens
	out.Cost = envelope.Usage.Cost
}

// IsRetryable reports whether a dispatch error allows fallback.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
