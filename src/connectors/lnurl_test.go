package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rektbot/src/externalmodel"
)

func newLNURLServer(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/lnurlp/alice":
			_ = json.NewEncoder(w).Encode(externalmodel.LNURLPayParams{
				Tag:         "payRequest",
				Callback:    server.URL + "/cb/alice?k=v",
				MinSendable: 1000,
				MaxSendable: 100000000,
			})
		case "/.well-known/lnurlp/closed":
			_ = json.NewEncoder(w).Encode(externalmodel.LNURLPayParams{Status: "ERROR", Reason: "account closed"})
		case "/cb/alice":
			assert.Equal(t, "v", r.URL.Query().Get("k"))
			assert.Equal(t, "500000", r.URL.Query().Get("amount"))
			_ = json.NewEncoder(w).Encode(externalmodel.LNURLPayInvoice{PR: "lnbc5u1palice"})
		default:
			http.NotFound(w, r)
		}
	}))
	return server
}

func newTestLNURL(server *httptest.Server) (*LNURLClient, string) {
	return &LNURLClient{scheme: "http", http: fastRestClient("")}, strings.TrimPrefix(server.URL, "http://")
}

func TestSplitAddress(t *testing.T) {
	name, domain, err := SplitAddress(" Alice@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.Equal(t, "example.com", domain)

	for _, bad := range []string{"alice", "@example.com", "alice@", "a@b/c"} {
		_, _, err := SplitAddress(bad)
		assert.True(t, errors.Is(err, ErrInvalidAddress), bad)
	}
}

func TestLNURLResolveAndRequest(t *testing.T) {
	server := newLNURLServer(t)
	defer server.Close()
	client, host := newTestLNURL(server)

	pr, err := client.Resolve(context.Background(), "alice@"+host)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), pr.MinSendable)
	assert.Equal(t, server.URL+"/cb/alice?k=v", pr.Callback)

	invoice, err := client.RequestPaymentTarget(context.Background(), pr, 500)
	require.NoError(t, err)
	assert.Equal(t, "lnbc5u1palice", invoice)
}

func TestLNURLErrors(t *testing.T) {
	server := newLNURLServer(t)
	defer server.Close()
	client, host := newTestLNURL(server)

	_, err := client.Resolve(context.Background(), "closed@"+host)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account closed")

	_, err = client.Resolve(context.Background(), "nobody@"+host)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	pr := externalmodel.PayRequest{Address: "alice@" + host, Callback: server.URL + "/cb/alice", MinSendable: 1000, MaxSendable: 10000}
	_, err = client.RequestPaymentTarget(context.Background(), pr, 20)
	assert.True(t, errors.Is(err, ErrAmountOutOfRange))
}
