// Package orderstore is the durable order registry. Every status change goes through one
// mutation per transition, is committed atomically, and is then published to subscribers.
// Mutations are meant to be called from a single goroutine, the engine's control loop.
package orderstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"rektbot/src/model"
	"rektbot/src/repository"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrProfitAlreadySet = errors.New("profit already set")
	ErrInvalidFields    = errors.New("invalid transition fields")
	ErrBatchMismatch    = errors.New("order belongs to another withdrawal")
)

type orderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id string) (*model.Order, error)
	FindByStatus(ctx context.Context, statuses ...model.Status) ([]model.Order, error)
	FindByOwner(ctx context.Context, owner string, statuses ...model.Status) ([]model.Order, error)
	Mutate(ctx context.Context, id string, fn func(order *model.Order) (string, error)) (*model.Order, error)
	Delete(ctx context.Context, id string) (bool, error)
}

var _ orderRepository = (*repository.OrderRepository)(nil)

type Store struct {
	repo orderRepository
	log  *logrus.Entry
	now  func() time.Time

	mu           sync.Mutex
	subs         []*Subscription
	onTransition func(from, to model.Status)
}

func New(repo orderRepository, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		repo: repo,
		log:  log.WithField("component", "orderstore"),
		now:  time.Now,
	}
}

// OnTransition registers a hook called after every committed status change.
func (s *Store) OnTransition(fn func(from, to model.Status)) {
	s.mu.Lock()
	s.onTransition = fn
	s.mu.Unlock()
}

func (s *Store) Subscribe() *Subscription {
	sub := newSubscription()
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

func (s *Store) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.subs {
		if cur == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	sub.Close()
}

func (s *Store) emit(ev Event) {
	s.mu.Lock()
	subs := append([]*Subscription(nil), s.subs...)
	hook := s.onTransition
	s.mu.Unlock()

	for _, sub := range subs {
		sub.push(ev)
	}
	if hook != nil && !ev.Deleted && ev.Previous != ev.Order.Status {
		hook(ev.Previous, ev.Order.Status)
	}
}

// ---------------------------------------------------
// Reads
// ---------------------------------------------------

func (s *Store) Get(ctx context.Context, id string) (*model.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return order, nil
}

func (s *Store) List(ctx context.Context, statuses ...model.Status) ([]model.Order, error) {
	return s.repo.FindByStatus(ctx, statuses...)
}

func (s *Store) ListByOwner(ctx context.Context, owner string, statuses ...model.Status) ([]model.Order, error) {
	return s.repo.FindByOwner(ctx, owner, statuses...)
}

// ---------------------------------------------------
// Creation
// ---------------------------------------------------

type NewOrder struct {
	ID              string
	Owner           string
	Side            model.Side
	RequestedAmount int64
	Leverage        int64
	TakeProfit      decimal.NullDecimal
	DeliveryMode    model.DeliveryMode
}

// Create stores a new order in status new and publishes it.
func (s *Store) Create(ctx context.Context, n NewOrder) (*model.Order, error) {
	if n.ID == "" || n.Owner == "" {
		return nil, fmt.Errorf("%w: id and owner are required", ErrInvalidFields)
	}
	if n.Side != model.SideLong && n.Side != model.SideShort {
		return nil, fmt.Errorf("%w: side %q", ErrInvalidFields, n.Side)
	}
	if n.RequestedAmount <= 0 || n.Leverage <= 0 {
		return nil, fmt.Errorf("%w: amount and leverage must be positive", ErrInvalidFields)
	}
	mode := n.DeliveryMode
	if mode == "" {
		mode = model.DeliveryBroadcast
	}

	order := &model.Order{
		ID:              n.ID,
		Owner:           n.Owner,
		Side:            n.Side,
		RequestedAmount: n.RequestedAmount,
		Leverage:        n.Leverage,
		TakeProfit:      n.TakeProfit,
		Status:          model.StatusNew,
		DeliveryMode:    mode,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order %s: %w", n.ID, err)
	}

	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"owner":    order.Owner,
		"side":     order.Side,
		"amount":   order.RequestedAmount,
		"leverage": order.Leverage,
	}).Info("order created")

	s.emit(Event{Order: *order, At: s.now()})
	return order, nil
}

// ---------------------------------------------------
// Transitions
// ---------------------------------------------------

// transition validates from -> to inside the repository transaction, applies the
// transition's fields, commits and publishes the result.
func (s *Store) transition(
	ctx context.Context,
	id string,
	to model.Status,
	note string,
	apply func(o *model.Order) error,
) (*model.Order, error) {
	var from model.Status

	updated, err := s.repo.Mutate(ctx, id, func(o *model.Order) (string, error) {
		from = o.Status
		if err := ValidateTransition(o.Status, to); err != nil {
			return "", err
		}
		if apply != nil {
			if err := apply(o); err != nil {
				return "", err
			}
		}
		o.Status = to
		return note, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		s.log.WithFields(logrus.Fields{
			"order_id": id,
			"from":     from,
			"to":       to,
		}).WithError(err).Warn("transition rejected")
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id": id,
		"from":     from,
		"to":       to,
	}).Info("order transitioned")

	s.emit(Event{Order: *updated, Previous: from, At: s.now()})
	return updated, nil
}

// update changes fields without a status change. It is allowed only in status in.
func (s *Store) update(
	ctx context.Context,
	id string,
	in model.Status,
	apply func(o *model.Order) error,
) (*model.Order, error) {
	updated, err := s.repo.Mutate(ctx, id, func(o *model.Order) (string, error) {
		if o.Status != in {
			return "", fmt.Errorf("%w: update requires %s, order is %s", ErrIllegalTransition, in, o.Status)
		}
		return "", apply(o)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	s.emit(Event{Order: *updated, Previous: in, At: s.now()})
	return updated, nil
}

// SetUnpaid records the invoice issued for the requested amount.
func (s *Store) SetUnpaid(ctx context.Context, id, invoice, paymentHash string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusUnpaid, "invoice issued", func(o *model.Order) error {
		if invoice == "" {
			return fmt.Errorf("%w: empty invoice", ErrInvalidFields)
		}
		o.Invoice = invoice
		o.PaymentHash = paymentHash
		return nil
	})
}

func (s *Store) SetPaid(ctx context.Context, id string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusPaid, "payment confirmed", nil)
}

func (s *Store) SetExpired(ctx context.Context, id string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusExpired, "invoice expired", nil)
}

func (s *Store) SetFunding(ctx context.Context, id string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusFunding, "transfer dispatched", nil)
}

func (s *Store) SetFunded(ctx context.Context, id, settlementID string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusFunded, "settlement "+settlementID, func(o *model.Order) error {
		o.SettlementID = settlementID
		return nil
	})
}

func (s *Store) SetFundingFail(ctx context.Context, id string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusFundingFail, "transfer retries exhausted", nil)
}

// AssignTakeProfit persists an engine chosen take-profit on a funded order.
func (s *Store) AssignTakeProfit(ctx context.Context, id string, tp decimal.Decimal) (*model.Order, error) {
	return s.update(ctx, id, model.StatusFunded, func(o *model.Order) error {
		o.TakeProfit = decimal.NewNullDecimal(tp)
		return nil
	})
}

// OpenFields are written when the venue confirms the position.
type OpenFields struct {
	VenuePositionID string
	OpenPrice       decimal.Decimal
	Fee             int64
	Margin          int64
	TradeAmount     int64
}

func (s *Store) SetOpen(ctx context.Context, id string, f OpenFields) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusOpen, "position "+f.VenuePositionID, func(o *model.Order) error {
		if f.VenuePositionID == "" {
			return fmt.Errorf("%w: empty venue position id", ErrInvalidFields)
		}
		if f.Fee < 0 || f.Margin < 0 || f.TradeAmount < 0 {
			return fmt.Errorf("%w: negative fee, margin or trade amount", ErrInvalidFields)
		}
		if !f.OpenPrice.IsPositive() {
			return fmt.Errorf("%w: open price %s", ErrInvalidFields, f.OpenPrice)
		}
		o.VenuePositionID = f.VenuePositionID
		o.OpenPrice = f.OpenPrice
		o.Fee = f.Fee
		o.Margin = f.Margin
		o.TradeAmount = f.TradeAmount
		return nil
	})
}

// SetClosed writes the close price and the net profit. Profit can only be written once.
func (s *Store) SetClosed(ctx context.Context, id string, closePrice decimal.Decimal, profit int64) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusClosed, "", func(o *model.Order) error {
		if o.ProfitSet {
			return ErrProfitAlreadySet
		}
		now := s.now()
		o.ClosePrice = closePrice
		o.Profit = profit
		o.ProfitSet = true
		o.ClosedAt = &now
		return nil
	})
}

// SetWithdrawRequested binds the order to a withdrawal batch.
func (s *Store) SetWithdrawRequested(ctx context.Context, id, withdrawalID string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusWithdrawRequested, "batch "+withdrawalID, func(o *model.Order) error {
		o.WithdrawalID = withdrawalID
		return nil
	})
}

// AssignWithdrawal rebinds an order already in withdraw_requested to a new batch.
func (s *Store) AssignWithdrawal(ctx context.Context, id, withdrawalID string) (*model.Order, error) {
	return s.update(ctx, id, model.StatusWithdrawRequested, func(o *model.Order) error {
		o.WithdrawalID = withdrawalID
		return nil
	})
}

func (s *Store) SetLiquidated(ctx context.Context, id string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusLiquidated, "non-positive balance", nil)
}

func (s *Store) SetWithdrawDone(ctx context.Context, id, withdrawalID string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusWithdrawDone, "batch "+withdrawalID, batchGuard(withdrawalID))
}

func (s *Store) SetWithdrawFailed(ctx context.Context, id, withdrawalID string) (*model.Order, error) {
	return s.transition(ctx, id, model.StatusWithdrawFailed, "batch "+withdrawalID, batchGuard(withdrawalID))
}

func batchGuard(withdrawalID string) func(o *model.Order) error {
	return func(o *model.Order) error {
		if o.WithdrawalID != withdrawalID {
			return fmt.Errorf("%w: %s is bound to %q", ErrBatchMismatch, o.ID, o.WithdrawalID)
		}
		return nil
	}
}

// Delete is the administrative removal of an order, outside the normal lifecycle.
func (s *Store) Delete(ctx context.Context, id string) error {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.log.WithFields(logrus.Fields{
		"order_id": id,
		"status":   order.Status,
	}).Warn("order deleted by administrator")

	s.emit(Event{Order: *order, Previous: order.Status, Deleted: true, At: s.now()})
	return nil
}
