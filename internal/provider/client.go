// Package provider talks to upstream generative-AI endpoints and maps
// free-form model names to registered adapters.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

const defaultCallTimeout = 30 * time.Second

// ErrQuotaExhausted signals the credential's quota is spent for the billing
// period. It is the only error the key pool retries with a different key.
var ErrQuotaExhausted = errors.New("provider quota exhausted")

// CallError is any non-quota upstream rejection. Switching credentials does
// not fix these, so they are surfaced to the caller for refund.
type CallError struct {
	StatusCode int
	Body       string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client invokes provider endpoints with a bounded timeout.
type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Invoke POSTs the payload to the endpoint with the given credential and
// returns the raw response body. Quota exhaustion is reported as
// ErrQuotaExhausted whether it arrives as an HTTP status or as an error code
// in a 200 body; everything else non-2xx becomes a *CallError.
func (c *Client) Invoke(ctx context.Context, endpoint string, payload []byte, credential string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if quotaExhausted(resp.StatusCode, body) {
		return nil, fmt.Errorf("%w: status %d", ErrQuotaExhausted, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

// FetchResult GETs the terminal result for a provider task id. Some webhook
// payloads are minimal, so settlement confirms the result with this read.
func (c *Client) FetchResult(ctx context.Context, endpoint, providerTaskID, credential string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/"+url.PathEscape(providerTaskID), nil)
	if err != nil {
		return nil, fmt.Errorf("create result request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read result response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

// quotaExhausted recognizes both transport-level (429, 402) and in-band
// ("code": "quota_exhausted"-style) exhaustion signals.
func quotaExhausted(status int, body []byte) bool {
	if status == http.StatusTooManyRequests || status == http.StatusPaymentRequired {
		return true
	}
	code := gjson.GetBytes(body, "code").String()
	if code == "" {
		code = gjson.GetBytes(body, "error.code").String()
	}
	switch code {
	case "quota_exhausted", "insufficient_quota", "billing_hard_limit_reached":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
