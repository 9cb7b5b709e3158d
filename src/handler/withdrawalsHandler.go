package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"rektbot/src/auth"
	"rektbot/src/reconciler"
)

type withdrawalResolver interface {
	ResolveWithdrawal(ctx context.Context, withdrawalID string, ok bool) error
}

// ResolveWithdrawalPayload tells whether the venue shows the interrupted payout as sent.
type ResolveWithdrawalPayload struct {
	Paid *bool `json:"paid"`
}

// ResolveWithdrawalHandler settles a payout batch interrupted by a restart.
func ResolveWithdrawalHandler(engine withdrawalResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var payload ResolveWithdrawalPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil || payload.Paid == nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		log := logger.WithFields(map[string]interface{}{
			"withdrawal_id": id,
			"paid":          *payload.Paid,
		})
		if admin, ok := auth.GetAdminFromContext(r.Context()); ok {
			log = log.WithField("remote", admin.RemoteAddr)
		}

		err := engine.ResolveWithdrawal(r.Context(), id, *payload.Paid)
		switch {
		case err == nil:
			log.Info("interrupted withdrawal resolved")
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, reconciler.ErrUnknownWithdrawal):
			http.Error(w, "withdrawal not found", http.StatusNotFound)
		case errors.Is(err, reconciler.ErrNotInterrupted):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.WithError(err).Error("failed to resolve withdrawal")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}
