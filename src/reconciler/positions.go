// Package reconciler brings local order state in line with the venue and drives payout batches.
package reconciler

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"rektbot/src/externalmodel"
	"rektbot/src/model"
)

// PositionSource is the venue view used to detect closed positions.
type PositionSource interface {
	RunningPositionIDs(ctx context.Context) ([]string, error)
	ClosedPositions(ctx context.Context, ids []string) ([]externalmodel.ClosedPosition, error)
}

type openOrderLister interface {
	List(ctx context.Context, statuses ...model.Status) ([]model.Order, error)
}

// Closure is an open order whose position the venue reports as closed.
type Closure struct {
	OrderID         string
	VenuePositionID string
	ClosePrice      decimal.Decimal
}

// PositionReconciler detects positions closed on the venue side, by take-profit,
// liquidation or manual action.
type PositionReconciler struct {
	orders openOrderLister
	venue  PositionSource
	log    *logrus.Entry
}

func NewPositionReconciler(orders openOrderLister, venue PositionSource, log *logrus.Entry) *PositionReconciler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PositionReconciler{
		orders: orders,
		venue:  venue,
		log:    log.WithField("component", "position_reconciler"),
	}
}

// Detect returns the closures found this cycle. An error means nothing changes this cycle.
func (r *PositionReconciler) Detect(ctx context.Context) ([]Closure, error) {
	open, err := r.orders.List(ctx, model.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	if len(open) == 0 {
		return nil, nil
	}

	running, err := r.venue.RunningPositionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("running positions: %w", err)
	}
	stillRunning := make(map[string]struct{}, len(running))
	for _, id := range running {
		stillRunning[id] = struct{}{}
	}

	byPosition := make(map[string]string)
	var gone []string
	for _, o := range open {
		if o.VenuePositionID == "" {
			r.log.WithField("order_id", o.ID).Warn("open order without venue position id")
			continue
		}
		if _, ok := stillRunning[o.VenuePositionID]; ok {
			continue
		}
		byPosition[o.VenuePositionID] = o.ID
		gone = append(gone, o.VenuePositionID)
	}
	if len(gone) == 0 {
		return nil, nil
	}

	closed, err := r.venue.ClosedPositions(ctx, gone)
	if err != nil {
		return nil, fmt.Errorf("closed positions: %w", err)
	}

	var out []Closure
	for _, p := range closed {
		orderID, ok := byPosition[p.ID]
		if !ok {
			continue
		}
		if !p.ExitPrice.IsPositive() {
			r.log.WithFields(logrus.Fields{
				"order_id":    orderID,
				"position_id": p.ID,
			}).Warn("closed position without exit price, retrying next cycle")
			continue
		}
		out = append(out, Closure{
			OrderID:         orderID,
			VenuePositionID: p.ID,
			ClosePrice:      p.ExitPrice,
		})
		delete(byPosition, p.ID)
	}

	for positionID, orderID := range byPosition {
		r.log.WithFields(logrus.Fields{
			"order_id":    orderID,
			"position_id": positionID,
		}).Debug("position not running and not yet listed as closed")
	}

	return out, nil
}
