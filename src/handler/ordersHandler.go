package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"rektbot/src/model"
	"rektbot/src/orderstore"
	"rektbot/src/repository"
)

type orderSearcher interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error)
	FindByIDWithLogs(ctx context.Context, id string) (*model.Order, error)
}

// orderDeleter runs on the control loop.
type orderDeleter interface {
	DeleteOrder(ctx context.Context, id string) error
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

// SearchOrdersHandler lists orders newest first.
// Supports pagination and filters (owner, status, createdFrom, createdTo).
func SearchOrdersHandler(repo orderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		options := repository.OrderSearchOptions{Owner: query.Get("owner")}

		if statusParam := query.Get("status"); statusParam != "" {
			status := model.Status(statusParam)
			if !status.Valid() {
				http.Error(w, "invalid status", http.StatusBadRequest)
				return
			}
			options.Status = &status
		}

		if createdFromParam := query.Get("createdFrom"); createdFromParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdFromParam)
			if err != nil {
				http.Error(w, "invalid createdFrom", http.StatusBadRequest)
				return
			}
			options.CreatedAfter = &parsed
		}

		if createdToParam := query.Get("createdTo"); createdToParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdToParam)
			if err != nil {
				http.Error(w, "invalid createdTo", http.StatusBadRequest)
				return
			}
			options.CreatedBefore = &parsed
		}

		page := 1
		if pageParam := query.Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = parsedPage
		}

		pageSize := 20
		if sizeParam := query.Get("pageSize"); sizeParam != "" {
			parsedSize, err := strconv.Atoi(sizeParam)
			if err != nil || parsedSize <= 0 || parsedSize > 500 {
				http.Error(w, "invalid pageSize", http.StatusBadRequest)
				return
			}
			pageSize = parsedSize
		}

		options.Limit = pageSize
		options.Offset = (page - 1) * pageSize

		orders, err := repo.Search(r.Context(), options)
		if err != nil {
			logger.WithError(err).Error("failed to search orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if orders == nil {
			orders = []model.Order{}
		}

		writeJSON(w, http.StatusOK, orders)
	}
}

// GetOrderHandler returns one order with its transition history.
func GetOrderHandler(repo orderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		order, err := repo.FindByIDWithLogs(r.Context(), id)
		if err != nil {
			logger.WithError(err).WithField("order_id", id).Error("failed to load order")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if order == nil {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

// DeleteOrderHandler removes an order outside of its lifecycle.
func DeleteOrderHandler(engine orderDeleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := engine.DeleteOrder(r.Context(), id)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, orderstore.ErrNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		default:
			logger.WithError(err).WithField("order_id", id).Error("failed to delete order")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}
