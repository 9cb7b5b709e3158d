package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"rektbot/src/handler"
	"rektbot/src/model"
	"rektbot/src/repository"
)

type OrderReader interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error)
	FindByIDWithLogs(ctx context.Context, id string) (*model.Order, error)
}

// EngineAdmin is the part of the engine the admin API drives.
type EngineAdmin interface {
	DeleteOrder(ctx context.Context, id string) error
	ResolveWithdrawal(ctx context.Context, withdrawalID string, ok bool) error
}

type Routes struct {
	Orders  OrderReader
	Engine  EngineAdmin
	Metrics http.Handler
	// AdminAuth guards the admin routes. Nil leaves them unmounted.
	AdminAuth func(http.Handler) http.Handler
}

func NewRouter(routes Routes) http.Handler {
	// Router with middleware
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	if routes.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", routes.Metrics)
	}

	if routes.AdminAuth == nil {
		logger.Warn("ADMIN_TOKEN_HASH not set, admin routes disabled")
		return r
	}

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(routes.AdminAuth)

		r.Get("/orders", handler.SearchOrdersHandler(routes.Orders))
		r.Get("/orders/{id}", handler.GetOrderHandler(routes.Orders))
		r.Delete("/orders/{id}", handler.DeleteOrderHandler(routes.Engine))
		r.Post("/withdrawals/{id}/resolve", handler.ResolveWithdrawalHandler(routes.Engine))
	})
	return r
}

// Start serves h on port until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, cfg Config, h http.Handler) error {
	// Server setup
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
