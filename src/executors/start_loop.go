package executors

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"rektbot/src/externalmodel"
	"rektbot/src/model"
)

// Run recovers orders left in flight by a previous process, then runs the control loop until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.recover(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cfg.LoopPeriod) // Set up a ticker that fires periodically
	defer ticker.Stop()

	var inbound <-chan externalmodel.InboundMessage
	if e.channel != nil {
		inbound = e.channel.Inbound()
	}

	e.log.WithField("period", e.cfg.LoopPeriod.String()).Info("loop started")
	e.cycle(ctx, inbound)

	for {
		select {
		case <-ctx.Done():
			e.log.WithField("pending_jobs", e.dispatch.Pending()).Info("loop stopped")
			return nil

		case <-ticker.C:
			e.cycle(ctx, inbound)

		case res := <-e.dispatch.Results():
			e.complete(ctx, res)

		case <-e.sub.Ready():

		case msg, ok := <-inbound:
			if !ok {
				e.log.Warn("command channel closed")
				inbound = nil
				continue
			}
			e.handleInbound(ctx, msg)

		case req := <-e.admin:
			req.reply <- req.fn(ctx)
		}

		e.drainEvents(ctx)
	}
}

// Flush waits for dispatched jobs and applies the results the stopped loop did not consume,
// so a transfer that settled during shutdown is recorded before the process exits.
// Call it after Run has returned. Store events raised here are left for the next start.
func (e *Engine) Flush(ctx context.Context) int {
	e.log.WithField("pending_jobs", e.dispatch.Pending()).Info("waiting for settlement jobs")
	e.dispatch.Wait()

	results := e.dispatch.Undelivered()
	for _, res := range results {
		e.complete(ctx, res)
	}
	if len(results) > 0 {
		e.log.WithField("results", len(results)).Info("settlement results applied after shutdown")
	}
	return len(results)
}

// cycle is one periodic pass: drain commands, poll invoices, retry stalled orders and
// reconcile positions.
func (e *Engine) cycle(ctx context.Context, inbound <-chan externalmodel.InboundMessage) {
	start := time.Now()
	defer func() { e.metrics.Cycle(time.Since(start)) }()

drain:
	for inbound != nil {
		select {
		case msg, ok := <-inbound:
			if !ok {
				break drain
			}
			e.handleInbound(ctx, msg)
			e.drainEvents(ctx)
		default:
			break drain
		}
	}

	e.pollInvoices(ctx)
	e.drainEvents(ctx)

	e.retryStalled(ctx)
	e.drainEvents(ctx)

	closures, err := e.positions.Detect(ctx)
	if err != nil {
		e.metrics.ExternalError("venue", "positions")
		e.log.WithError(err).Warn("position reconciliation failed")
	}
	for _, c := range closures {
		e.closeOrder(ctx, c)
	}
	e.drainEvents(ctx)
}

func (e *Engine) handleInbound(ctx context.Context, msg externalmodel.InboundMessage) {
	if e.commands == nil {
		return
	}
	if err := e.commands.Handle(ctx, msg); err != nil {
		e.log.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"author":     msg.Author,
		}).WithError(err).Error("command failed")
		e.capture(ctx, "commands.Handle", err, map[string]interface{}{"message_id": msg.ID})
	}
}

// pollInvoices moves unpaid orders whose invoice was paid or expired. Rail errors leave the
// order unpaid until the next cycle.
func (e *Engine) pollInvoices(ctx context.Context) {
	unpaid, err := e.store.List(ctx, model.StatusUnpaid)
	if err != nil {
		e.log.WithError(err).Error("failed to list unpaid orders")
		return
	}

	for _, o := range unpaid {
		status, err := e.rail.InvoiceStatus(ctx, o.ID)
		if err != nil {
			e.metrics.ExternalError("rail", "invoice_status")
			e.log.WithField("order_id", o.ID).WithError(err).Warn("invoice status unavailable")
			continue
		}

		switch status {
		case externalmodel.InvoicePaid:
			_, err = e.store.SetPaid(ctx, o.ID)
		case externalmodel.InvoiceExpired:
			_, err = e.store.SetExpired(ctx, o.ID)
		case externalmodel.InvoiceNotFound:
			e.log.WithField("order_id", o.ID).Warn("invoice not found on rail")
		}
		if err != nil {
			e.log.WithField("order_id", o.ID).WithError(err).Error("failed to apply invoice status")
		}
	}
}

// retryStalled re-runs the handlers of orders whose external call failed earlier.
func (e *Engine) retryStalled(ctx context.Context) {
	stalled, err := e.store.List(ctx, model.StatusNew, model.StatusFunded)
	if err != nil {
		e.log.WithError(err).Error("failed to list stalled orders")
		return
	}
	for i := range stalled {
		o := &stalled[i]
		switch o.Status {
		case model.StatusNew:
			e.requestInvoice(ctx, o)
		case model.StatusFunded:
			e.openPosition(ctx, o)
		}
	}
}

// recover reconciles state persisted by a previous process. Funding transfers in flight are
// unknown and left for an operator; paid orders never dispatched are funded now.
func (e *Engine) recover(ctx context.Context) error {
	funding, err := e.store.List(ctx, model.StatusFunding)
	if err != nil {
		return err
	}
	for _, o := range funding {
		e.log.WithField("order_id", o.ID).Warn("funding interrupted by restart, manual resolution needed")
		if _, err := e.store.SetFundingFail(ctx, o.ID); err != nil {
			return err
		}
	}

	paid, err := e.store.List(ctx, model.StatusPaid)
	if err != nil {
		return err
	}
	for i := range paid {
		e.log.WithField("order_id", paid[i].ID).Info("resuming funding")
		e.startFunding(ctx, &paid[i])
	}

	if err := e.withdrawals.Recover(ctx); err != nil {
		return err
	}

	e.drainEvents(ctx)
	return nil
}

// ---------------------------------------------------
// Admin operations, executed on the loop goroutine
// ---------------------------------------------------

// Submit runs fn on the control loop and returns its error.
func (e *Engine) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	req := adminRequest{fn: fn, reply: make(chan error, 1)}
	select {
	case e.admin <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteOrder removes an order outside of its lifecycle.
func (e *Engine) DeleteOrder(ctx context.Context, id string) error {
	return e.Submit(ctx, func(ctx context.Context) error {
		return e.store.Delete(ctx, id)
	})
}

// ResolveWithdrawal settles an interrupted payout batch.
func (e *Engine) ResolveWithdrawal(ctx context.Context, withdrawalID string, ok bool) error {
	return e.Submit(ctx, func(ctx context.Context) error {
		return e.withdrawals.Resolve(ctx, withdrawalID, ok)
	})
}
