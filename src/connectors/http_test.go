package connectors

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

type assertError struct{}

func (assertError) Error() string { return "err" }

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}

func fakeMethodResponse(method string, status int) *resty.Response {
	r := fakeResponse(status)
	r.Request = &resty.Request{Method: method}
	return r
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// fastRestClient retries like production with negligible waits.
func fastRestClient(baseURL string) *resty.Client {
	return newRestClient(baseURL, 5*time.Second).
		SetRetryWaitTime(time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Millisecond)
}

// TestIsRetryableResp verifies retry decisions for assorted errors and HTTP responses.
func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "error present", err: assertError{}, want: true},
		{name: "server error", resp: fakeResponse(500), want: true},
		{name: "too many requests", resp: fakeResponse(429), want: true},
		{name: "timeout", resp: fakeResponse(408), want: true},
		{name: "ok response", resp: fakeResponse(200), want: false},
		{name: "nil resp", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isRetryableResp(tc.resp, tc.err)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// TestIsRetryableRead never replays writes.
func TestIsRetryableRead(t *testing.T) {
	if !isRetryableRead(fakeMethodResponse(http.MethodGet, 503), nil) {
		t.Fatal("GET 503 should be retried")
	}
	if isRetryableRead(fakeMethodResponse(http.MethodPost, 503), nil) {
		t.Fatal("POST 503 must not be retried")
	}
	if isRetryableRead(fakeMethodResponse(http.MethodPost, 0), assertError{}) {
		t.Fatal("POST transport error must not be retried")
	}
}
