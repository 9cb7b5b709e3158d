package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rektbot/src/auth"
	"rektbot/src/metrics"
	"rektbot/src/model"
	"rektbot/src/repository"
)

type stubOrders struct{}

func (stubOrders) Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error) {
	return []model.Order{{ID: "evt-1"}}, nil
}

func (stubOrders) FindByIDWithLogs(ctx context.Context, id string) (*model.Order, error) {
	return nil, nil
}

type stubEngine struct{}

func (stubEngine) DeleteOrder(ctx context.Context, id string) error { return nil }

func (stubEngine) ResolveWithdrawal(ctx context.Context, id string, ok bool) error { return nil }

func TestRouter(t *testing.T) {
	hash, err := auth.HashToken("s3cret")
	require.NoError(t, err)
	guard, err := auth.RequireAdmin(hash)
	require.NoError(t, err)

	rec := metrics.New("rektbot_test")
	rec.Transition("", string(model.StatusNew))

	srv := httptest.NewServer(NewRouter(Routes{
		Orders:    stubOrders{},
		Engine:    stubEngine{},
		Metrics:   rec.Handler(),
		AdminAuth: guard,
	}))
	defer srv.Close()

	get := func(path, token string) int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/healthcheck", ""))
	assert.Equal(t, http.StatusOK, get("/metrics", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/orders", ""))
	assert.Equal(t, http.StatusOK, get("/orders", "s3cret"))
	assert.Equal(t, http.StatusNotFound, get("/orders/missing", "s3cret"))
}

func TestRouterWithoutAdmin(t *testing.T) {
	h := NewRouter(Routes{Orders: stubOrders{}, Engine: stubEngine{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, Config{Port: "0", ShutdownTimeout: time.Second}, http.NotFoundHandler()) }()
	cancel()
	assert.NoError(t, <-done)
}
