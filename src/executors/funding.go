package executors

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"rektbot/src/dispatcher"
	"rektbot/src/externalmodel"
)

var errPaymentIncomplete = errors.New("deposit payment did not complete")

// fundingJob moves amount from the rail to the venue: one venue deposit invoice, paid on the
// rail with up to FundingAttempts tries. Before retrying, a known deposit is checked on the
// venue so a payment that failed ambiguously but settled is not made twice.
// It runs on the dispatcher and must not touch the store.
func (e *Engine) fundingJob(orderID string, amount int64) func(ctx context.Context) dispatcher.Outcome {
	log := e.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"amount":   amount,
	})

	return func(ctx context.Context) dispatcher.Outcome {
		var deposit externalmodel.Deposit

		ok, attempts, err := dispatcher.Retry(ctx, e.cfg.FundingAttempts, e.cfg.FundingRetryDelay,
			func(ctx context.Context, n int) (bool, error) {
				if n > 1 && deposit.SettlementID != "" {
					settled, err := e.venue.DepositStatus(ctx, deposit.SettlementID)
					if err != nil {
						log.WithError(err).Warn("deposit status unknown")
					} else if settled {
						log.WithField("settlement_id", deposit.SettlementID).Info("deposit already settled")
						return true, nil
					}
				}

				if deposit.Invoice == "" {
					d, err := e.venue.Deposit(ctx, amount)
					if err != nil {
						e.metrics.ExternalError("venue", "deposit")
						return false, fmt.Errorf("venue deposit: %w", err)
					}
					deposit = d
				}

				paid, err := e.rail.Pay(ctx, deposit.Invoice)
				if err != nil {
					e.metrics.ExternalError("rail", "pay")
					log.WithField("attempt", n).WithError(err).Warn("deposit payment failed")
					return false, fmt.Errorf("pay deposit: %w", err)
				}
				if !paid {
					log.WithField("attempt", n).Warn("deposit payment not complete")
					return false, errPaymentIncomplete
				}
				return true, nil
			})

		return dispatcher.Outcome{
			OK:           ok,
			SettlementID: deposit.SettlementID,
			Attempts:     attempts,
			Err:          err,
		}
	}
}
