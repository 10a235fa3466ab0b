package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPChecker probes a readiness endpoint such as the scheduler's /ready.
// The endpoint's JSON status and message, when present, end up in the
// result message.
type HTTPChecker struct {
	URL string

	// Accepted status codes, inclusive (default 200-299)
	MinStatus int
	MaxStatus int

	client *http.Client
}

// NewHTTPChecker creates a checker for url with a 10s timeout
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:       url,
		MinStatus: http.StatusOK,
		MaxStatus: 299,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithStatusRange sets the accepted status codes
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.MinStatus, h.MaxStatus = min, max
	return h
}

// WithTimeout bounds the whole request
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.client.Timeout = timeout
	return h
}

// Type returns CheckTypeHTTP
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// statusBody is the subset of the /ready and /health responses we report
type statusBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Check requests URL once
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return result(start, false, fmt.Sprintf("invalid url %q: %v", h.URL, err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return result(start, false, fmt.Sprintf("%s unreachable: %v", h.URL, err))
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= h.MinStatus && resp.StatusCode <= h.MaxStatus
	message := fmt.Sprintf("HTTP %d", resp.StatusCode)

	var body statusBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Status != "" {
		message += " " + body.Status
		if body.Message != "" {
			message += ": " + body.Message
		}
	}
	return result(start, ok, message)
}
