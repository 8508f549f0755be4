package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	userAgent       = "voicelog/0.1"
	maxResponseBody = 8 << 20
	snippetLimit    = 512
)

// httpStatusError reports a non-2xx provider response.
type httpStatusError struct {
	Provider   string
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	msg := fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, snippet(e.Body))
	if e.StatusCode == http.StatusForbidden {
		msg += " (403 Forbidden: check provider, endpoint and API key settings)"
	}
	return msg
}

// RetryAfter implements supervise.RetryAfterError.
func (e *httpStatusError) RetryAfter() time.Duration {
	return e.retryAfter
}

// errEmptyResponse reports a well-formed reply that carried no text.
var errEmptyResponse = errors.New("empty summary in response")

type malformedError struct {
	Provider string
	Body     string
	Err      error
}

func (e *malformedError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v (body=%s)", e.Provider, e.Err, snippet(e.Body))
}

func (e *malformedError) Unwrap() error { return e.Err }

func postJSON(ctx context.Context, client *http.Client, provider, endpoint string, headers map[string]string, payload, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%s: new request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request: %w", provider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &httpStatusError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			retryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &malformedError{Provider: provider, Body: string(body), Err: err}
	}
	return nil
}

// retryable reports whether a failed provider call may succeed on another
// attempt: request timeouts, throttling, server errors, and empty replies.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errEmptyResponse) {
		return true
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) > snippetLimit {
		return body[:snippetLimit] + "..."
	}
	return body
}
