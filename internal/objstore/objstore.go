// Package objstore stages task inputs in durable object storage and
// releases them once a task settles.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the storage collaborator boundary: stage a payload to a durable
// URL, release it later. Release is an idempotent delete.
type Store interface {
	Stage(ctx context.Context, payload []byte) (string, error)
	Release(ctx context.Context, url string) error
}

// HTTPStore talks to an object-store gateway over plain HTTP verbs.
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Stage PUTs the payload under a fresh object id and returns its URL.
func (s *HTTPStore) Stage(ctx context.Context, payload []byte) (string, error) {
	objectURL := fmt.Sprintf("%s/objects/%s", s.baseURL, uuid.NewString())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, objectURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create stage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stage object: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("stage object: store returned status %d", resp.StatusCode)
	}
	return objectURL, nil
}

// Release deletes a staged object. A 404 counts as success so repeated
// settlement of the same task stays idempotent.
func (s *HTTPStore) Release(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create release request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("release object: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("release object: store returned status %d", resp.StatusCode)
	}
	return nil
}
