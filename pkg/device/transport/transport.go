package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

// DefaultTimeout bounds one upload
const DefaultTimeout = 10 * time.Second

// Transport defines the interface for sending samples
type Transport interface {
	Send(ctx context.Context, sample telemetry.Sample) (*Response, error)
}

// Response is what the server reports about an uploaded sample
type Response struct {
	Status      string `json:"status"`
	Type        string `json:"type"`
	Reason      string `json:"reason"`
	RecordCount int    `json:"record_count"`
}

// StatusError is returned when the server answers with a non-2xx status
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Code)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether sending the same sample again can succeed.
// The server rejecting the sample (4xx) is final; a full disk (507), any
// other 5xx and network errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// HTTPTransport implements Transport using HTTP
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates a new HTTP transport posting to endpoint
// (normally http://host:8080/v1/ingest)
func NewHTTP(endpoint string) (*HTTPTransport, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	return &HTTPTransport{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// Send posts one sample to the ingest endpoint
func (t *HTTPTransport) Send(ctx context.Context, sample telemetry.Sample) (*Response, error) {
	jsonData, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.Unmarshal(body, &apiErr)
		return nil, &StatusError{Code: resp.StatusCode, Message: apiErr.Message}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
