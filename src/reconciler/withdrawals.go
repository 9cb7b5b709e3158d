package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rektbot/src/bolt11"
	"rektbot/src/dispatcher"
	"rektbot/src/externalmodel"
	"rektbot/src/model"
	"rektbot/src/notify"
)

var (
	ErrWithdrawalInFlight = errors.New("withdrawal already in flight")
	ErrNothingToWithdraw  = errors.New("nothing to withdraw")
	ErrAmountMismatch     = errors.New("invoice amount does not match balance")
	ErrNotInterrupted     = errors.New("withdrawal is not interrupted")
	ErrUnknownWithdrawal  = errors.New("unknown withdrawal")
)

// PayoutResolver turns a lightning address into an invoice (LUD-16).
type PayoutResolver interface {
	Resolve(ctx context.Context, address string) (externalmodel.PayRequest, error)
	RequestPaymentTarget(ctx context.Context, pr externalmodel.PayRequest, amount int64) (string, error)
}

// PayoutVenue pays an invoice out of the venue account.
type PayoutVenue interface {
	Withdraw(ctx context.Context, invoice string, amount int64) (string, error)
}

type jobDispatcher interface {
	Dispatch(ctx context.Context, job dispatcher.Job) string
}

type batchStore interface {
	ListByOwner(ctx context.Context, owner string, statuses ...model.Status) ([]model.Order, error)
	SetWithdrawRequested(ctx context.Context, id, withdrawalID string) (*model.Order, error)
	AssignWithdrawal(ctx context.Context, id, withdrawalID string) (*model.Order, error)
	SetLiquidated(ctx context.Context, id string) (*model.Order, error)
	SetWithdrawDone(ctx context.Context, id, withdrawalID string) (*model.Order, error)
	SetWithdrawFailed(ctx context.Context, id, withdrawalID string) (*model.Order, error)
}

type withdrawalRecords interface {
	Create(ctx context.Context, w *model.Withdrawal) error
	FindByID(ctx context.Context, id string) (*model.Withdrawal, error)
	FindByStatus(ctx context.Context, status model.WithdrawalStatus) ([]model.Withdrawal, error)
	UpdateStatus(ctx context.Context, id string, status model.WithdrawalStatus) error
}

// WithdrawalRequest is an owner's withdraw command. Target is empty, a bolt11 invoice or a
// lightning address.
type WithdrawalRequest struct {
	Owner     string
	MessageID string
	Target    string
	Mode      model.DeliveryMode
}

// Batch is the selection of an owner's settled orders for one payout.
type Batch struct {
	Included   []model.Order
	Liquidated []model.Order
	Total      int64
}

// Plan splits settled orders into the ones paid out and the ones with nothing left.
// Only closed orders can be liquidated; a requested or failed order is always re-included.
func Plan(orders []model.Order) Batch {
	var b Batch
	for _, o := range orders {
		if !o.ProfitSet {
			continue
		}
		switch o.Status {
		case model.StatusClosed, model.StatusWithdrawRequested, model.StatusWithdrawFailed:
		default:
			continue
		}

		if bal := o.Balance(); bal > 0 {
			b.Included = append(b.Included, o)
			b.Total += bal
		} else if o.Status == model.StatusClosed {
			b.Liquidated = append(b.Liquidated, o)
		}
	}
	return b
}

// WithdrawalReconciler batches settled orders into payouts. Its methods run on the control loop;
// only the payout itself runs on the dispatcher.
type WithdrawalReconciler struct {
	store       batchStore
	withdrawals withdrawalRecords
	dispatch    jobDispatcher
	venue       PayoutVenue
	resolver    PayoutResolver
	notifier    *notify.Notifier
	log         *logrus.Entry

	mu       sync.Mutex
	inflight map[string]string // owner -> withdrawal id
}

func NewWithdrawalReconciler(
	store batchStore,
	withdrawals withdrawalRecords,
	dispatch jobDispatcher,
	venue PayoutVenue,
	resolver PayoutResolver,
	notifier *notify.Notifier,
	log *logrus.Entry,
) *WithdrawalReconciler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WithdrawalReconciler{
		store:       store,
		withdrawals: withdrawals,
		dispatch:    dispatch,
		venue:       venue,
		resolver:    resolver,
		notifier:    notifier,
		log:         log.WithField("component", "withdrawal_reconciler"),
		inflight:    make(map[string]string),
	}
}

// InFlight reports the batch currently locking owner, if any.
func (w *WithdrawalReconciler) InFlight(owner string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.inflight[owner]
	return id, ok
}

func (w *WithdrawalReconciler) lock(owner, withdrawalID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[owner]; busy {
		return false
	}
	w.inflight[owner] = withdrawalID
	return true
}

func (w *WithdrawalReconciler) unlock(owner, withdrawalID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[owner] == withdrawalID {
		delete(w.inflight, owner)
	}
}

// Request handles a withdraw command. The returned batch is what was selected, even when the
// payout could not be dispatched.
func (w *WithdrawalReconciler) Request(ctx context.Context, req WithdrawalRequest) (Batch, error) {
	log := w.log.WithFields(logrus.Fields{
		"owner":      req.Owner,
		"message_id": req.MessageID,
	})
	reply := func(content string) {
		w.notifier.Send(ctx, req.MessageID, req.Owner, req.Mode, content)
	}

	if _, busy := w.InFlight(req.Owner); busy {
		reply(notify.WithdrawalInProgress())
		return Batch{}, ErrWithdrawalInFlight
	}

	orders, err := w.store.ListByOwner(ctx, req.Owner,
		model.StatusClosed, model.StatusWithdrawRequested, model.StatusWithdrawFailed)
	if err != nil {
		return Batch{}, fmt.Errorf("list settled orders: %w", err)
	}

	batch := Plan(orders)
	for _, o := range batch.Liquidated {
		if _, err := w.store.SetLiquidated(ctx, o.ID); err != nil {
			log.WithField("order_id", o.ID).WithError(err).Error("failed to liquidate order")
		}
	}
	if batch.Total <= 0 {
		reply(notify.NothingToWithdraw())
		return batch, ErrNothingToWithdraw
	}

	withdrawalID := uuid.NewString()
	if err := w.bind(ctx, batch, withdrawalID); err != nil {
		return batch, err
	}

	target := strings.TrimSpace(req.Target)
	switch {
	case target == "":
		reply(notify.InvoiceRequired(batch.Total))
		return batch, nil

	case bolt11.LooksLikeInvoice(target):
		amount, err := bolt11.AmountSat(target)
		if err != nil {
			log.WithError(err).Info("unreadable withdrawal invoice")
			reply(notify.InvalidInvoice())
			return batch, err
		}
		if amount != batch.Total {
			reply(notify.InvoiceAmountMismatch(amount, batch.Total))
			return batch, fmt.Errorf("%w: invoice %d, balance %d", ErrAmountMismatch, amount, batch.Total)
		}
		return batch, w.start(ctx, req, batch, withdrawalID, model.WithdrawalModeInvoice, target)

	default:
		return batch, w.start(ctx, req, batch, withdrawalID, model.WithdrawalModeAddress, target)
	}
}

// bind moves every included order onto the batch.
func (w *WithdrawalReconciler) bind(ctx context.Context, batch Batch, withdrawalID string) error {
	for _, o := range batch.Included {
		var err error
		if o.Status == model.StatusWithdrawRequested {
			_, err = w.store.AssignWithdrawal(ctx, o.ID, withdrawalID)
		} else {
			_, err = w.store.SetWithdrawRequested(ctx, o.ID, withdrawalID)
		}
		if err != nil {
			return fmt.Errorf("bind order %s to %s: %w", o.ID, withdrawalID, err)
		}
	}
	return nil
}

func (w *WithdrawalReconciler) start(
	ctx context.Context,
	req WithdrawalRequest,
	batch Batch,
	withdrawalID string,
	mode model.WithdrawalMode,
	target string,
) error {
	record := &model.Withdrawal{
		ID:     withdrawalID,
		Owner:  req.Owner,
		Amount: batch.Total,
		Mode:   mode,
		Target: target,
		Status: model.WithdrawalPending,
	}
	if mode == model.WithdrawalModeInvoice {
		record.Invoice = target
	}
	if err := w.withdrawals.Create(ctx, record); err != nil {
		return fmt.Errorf("create withdrawal: %w", err)
	}
	if !w.lock(req.Owner, withdrawalID) {
		return ErrWithdrawalInFlight
	}

	ids := make([]string, 0, len(batch.Included))
	for _, o := range batch.Included {
		ids = append(ids, o.ID)
	}

	w.dispatch.Dispatch(ctx, dispatcher.Job{
		Kind:     dispatcher.KindPayout,
		OrderIDs: ids,
		Ref:      withdrawalID,
		Run:      w.payoutJob(mode, target, batch.Total),
	})

	w.log.WithFields(logrus.Fields{
		"owner":         req.Owner,
		"withdrawal_id": withdrawalID,
		"mode":          mode,
		"amount":        batch.Total,
		"orders":        len(ids),
	}).Info("payout dispatched")
	w.notifier.Send(ctx, req.MessageID, req.Owner, req.Mode, notify.WithdrawalDispatched(batch.Total))
	return nil
}

// payoutJob runs on the dispatcher and must not touch the store.
func (w *WithdrawalReconciler) payoutJob(mode model.WithdrawalMode, target string, total int64) func(ctx context.Context) dispatcher.Outcome {
	return func(ctx context.Context) dispatcher.Outcome {
		invoice := target
		if mode == model.WithdrawalModeAddress {
			if w.resolver == nil {
				return dispatcher.Outcome{Attempts: 1, Err: errors.New("no payout resolver configured")}
			}
			pr, err := w.resolver.Resolve(ctx, target)
			if err != nil {
				return dispatcher.Outcome{Attempts: 1, Err: fmt.Errorf("resolve %s: %w", target, err)}
			}
			invoice, err = w.resolver.RequestPaymentTarget(ctx, pr, total)
			if err != nil {
				return dispatcher.Outcome{Attempts: 1, Err: fmt.Errorf("invoice from %s: %w", target, err)}
			}
			amount, err := bolt11.AmountSat(invoice)
			if err != nil {
				return dispatcher.Outcome{Attempts: 1, Err: err}
			}
			if amount != total {
				return dispatcher.Outcome{Attempts: 1, Err: fmt.Errorf("%w: %s returned %d, want %d", ErrAmountMismatch, target, amount, total)}
			}
		}

		ref, err := w.venue.Withdraw(ctx, invoice, total)
		if err != nil {
			return dispatcher.Outcome{Attempts: 1, Err: err}
		}
		return dispatcher.Outcome{OK: true, Attempts: 1, SettlementID: ref}
	}
}

// Complete applies a finished payout to its batch.
func (w *WithdrawalReconciler) Complete(ctx context.Context, res dispatcher.Result) error {
	if res.Kind != dispatcher.KindPayout {
		return fmt.Errorf("unexpected %s result for withdrawal reconciler", res.Kind)
	}
	record, err := w.withdrawals.FindByID(ctx, res.Ref)
	if err != nil {
		return fmt.Errorf("load withdrawal %s: %w", res.Ref, err)
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrUnknownWithdrawal, res.Ref)
	}
	if res.Outcome.Err != nil {
		w.log.WithField("withdrawal_id", record.ID).WithError(res.Outcome.Err).Warn("payout failed")
	}
	return w.settle(ctx, record, res.Outcome.OK)
}

// Resolve settles an interrupted batch after an administrator checked the venue.
func (w *WithdrawalReconciler) Resolve(ctx context.Context, withdrawalID string, ok bool) error {
	record, err := w.withdrawals.FindByID(ctx, withdrawalID)
	if err != nil {
		return fmt.Errorf("load withdrawal %s: %w", withdrawalID, err)
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrUnknownWithdrawal, withdrawalID)
	}
	if record.Status != model.WithdrawalInterrupted {
		return fmt.Errorf("%w: %s is %s", ErrNotInterrupted, withdrawalID, record.Status)
	}
	w.log.WithFields(logrus.Fields{
		"withdrawal_id": withdrawalID,
		"owner":         record.Owner,
		"ok":            ok,
	}).Warn("interrupted withdrawal resolved by administrator")
	return w.settle(ctx, record, ok)
}

func (w *WithdrawalReconciler) settle(ctx context.Context, record *model.Withdrawal, ok bool) error {
	defer w.unlock(record.Owner, record.ID)

	orders, err := w.store.ListByOwner(ctx, record.Owner, model.StatusWithdrawRequested)
	if err != nil {
		return fmt.Errorf("list batch orders: %w", err)
	}

	status := model.WithdrawalFailed
	if ok {
		status = model.WithdrawalDone
	}

	mode := model.DeliveryBroadcast
	var errs []error
	for _, o := range orders {
		if o.WithdrawalID != record.ID {
			continue
		}
		mode = o.DeliveryMode
		if ok {
			_, err = w.store.SetWithdrawDone(ctx, o.ID, record.ID)
		} else {
			_, err = w.store.SetWithdrawFailed(ctx, o.ID, record.ID)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := w.withdrawals.UpdateStatus(ctx, record.ID, status); err != nil {
		errs = append(errs, err)
	}

	if ok {
		w.notifier.Send(ctx, "", record.Owner, mode, notify.WithdrawalDone(record.Amount))
	} else {
		w.notifier.Send(ctx, "", record.Owner, mode, notify.WithdrawalFailed(record.Amount))
	}
	return errors.Join(errs...)
}

// Recover marks payouts lost by a restart as interrupted and locks their owners until an
// administrator resolves them.
func (w *WithdrawalReconciler) Recover(ctx context.Context) error {
	pending, err := w.withdrawals.FindByStatus(ctx, model.WithdrawalPending)
	if err != nil {
		return fmt.Errorf("list pending withdrawals: %w", err)
	}
	for _, p := range pending {
		if err := w.withdrawals.UpdateStatus(ctx, p.ID, model.WithdrawalInterrupted); err != nil {
			return fmt.Errorf("interrupt withdrawal %s: %w", p.ID, err)
		}
		w.log.WithFields(logrus.Fields{
			"withdrawal_id": p.ID,
			"owner":         p.Owner,
			"amount":        p.Amount,
		}).Warn("payout outcome unknown after restart, withdrawal interrupted")
	}

	interrupted, err := w.withdrawals.FindByStatus(ctx, model.WithdrawalInterrupted)
	if err != nil {
		return fmt.Errorf("list interrupted withdrawals: %w", err)
	}
	for _, p := range interrupted {
		w.lock(p.Owner, p.ID)
	}
	return nil
}
