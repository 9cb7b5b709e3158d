package connectors

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// -----------------------------
// RETRY CONFIG
// -----------------------------
const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// APIError is a non-2xx answer from a remote API.
type APIError struct {
	Service string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.Status, e.Message)
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == http.StatusTooManyRequests {
		return true
	}
	if code == http.StatusRequestTimeout {
		return true
	}
	return false
}

// isRetryableRead retries GETs only. POSTs move funds and are never replayed.
func isRetryableRead(r *resty.Response, err error) bool {
	if r != nil && r.Request != nil && r.Request.Method != http.MethodGet {
		return false
	}
	return isRetryableResp(r, err)
}

func newRestClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableRead)
}
