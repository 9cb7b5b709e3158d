package executors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"rektbot/src/controller"
	"rektbot/src/dispatcher"
	"rektbot/src/externalmodel"
	"rektbot/src/ledger"
	"rektbot/src/mapper"
	"rektbot/src/metrics"
	"rektbot/src/model"
	"rektbot/src/notify"
	"rektbot/src/orderstore"
	"rektbot/src/reconciler"
	"rektbot/src/repository"
	"rektbot/src/tp_sl"
)

// PaymentRail is the lightning node collecting order payments and paying venue deposits.
type PaymentRail interface {
	CreateInvoice(ctx context.Context, amount int64, label, description string, expiry time.Duration) (externalmodel.Invoice, error)
	Pay(ctx context.Context, bolt11 string) (bool, error)
	InvoiceStatus(ctx context.Context, label string) (externalmodel.InvoiceStatus, error)
	DeleteInvoice(ctx context.Context, label string, status externalmodel.InvoiceStatus) error
}

// Venue is the futures exchange holding the positions.
type Venue interface {
	Deposit(ctx context.Context, amount int64) (externalmodel.Deposit, error)
	DepositStatus(ctx context.Context, settlementID string) (bool, error)
	OpenPosition(ctx context.Context, req externalmodel.OpenPositionRequest) (externalmodel.OpenedPosition, error)
	RunningPositionIDs(ctx context.Context) ([]string, error)
	ClosedPositions(ctx context.Context, ids []string) ([]externalmodel.ClosedPosition, error)
	Withdraw(ctx context.Context, invoice string, amount int64) (string, error)
	Price(ctx context.Context) (decimal.Decimal, error)
}

// CommandChannel delivers owner commands and carries replies back.
type CommandChannel interface {
	Inbound() <-chan externalmodel.InboundMessage
	Publish(ctx context.Context, reply externalmodel.Reply) error
}

type CommandHandler interface {
	Handle(ctx context.Context, msg externalmodel.InboundMessage) error
}

type Deps struct {
	Store       *orderstore.Store
	Rail        PaymentRail
	Venue       Venue
	Channel     CommandChannel
	Commands    CommandHandler
	Dispatcher  *dispatcher.Dispatcher
	Positions   *reconciler.PositionReconciler
	Withdrawals *reconciler.WithdrawalReconciler
	Notifier    *notify.Notifier
	Exceptions  *repository.ExceptionRepository
	Metrics     *metrics.Recorder
	Log         *logrus.Entry
	Rand        *rand.Rand
}

type adminRequest struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// Engine drives every order through its lifecycle. All store mutations happen on the
// goroutine running Run.
type Engine struct {
	cfg     Config
	feeRate decimal.Decimal
	tp      tp_sl.TakeProfitConfig

	store       *orderstore.Store
	sub         *orderstore.Subscription
	rail        PaymentRail
	venue       Venue
	channel     CommandChannel
	commands    CommandHandler
	dispatch    *dispatcher.Dispatcher
	positions   *reconciler.PositionReconciler
	withdrawals *reconciler.WithdrawalReconciler
	notifier    *notify.Notifier
	exceptions  *repository.ExceptionRepository
	metrics     *metrics.Recorder
	log         *logrus.Entry
	rnd         *rand.Rand

	admin chan adminRequest
}

func New(cfg Config, d Deps) (*Engine, error) {
	if d.Store == nil || d.Rail == nil || d.Venue == nil || d.Dispatcher == nil {
		return nil, errors.New("engine needs a store, a rail, a venue and a dispatcher")
	}
	if d.Positions == nil || d.Withdrawals == nil {
		return nil, errors.New("engine needs both reconcilers")
	}
	if cfg.LoopPeriod <= 0 {
		return nil, fmt.Errorf("LOOP_PERIOD must be positive, got %s", cfg.LoopPeriod)
	}

	feeRate, err := cfg.feeRate()
	if err != nil {
		return nil, err
	}
	tp, err := cfg.takeProfit()
	if err != nil {
		return nil, err
	}

	log := d.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	rnd := d.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := &Engine{
		cfg:         cfg,
		feeRate:     feeRate,
		tp:          tp,
		store:       d.Store,
		sub:         d.Store.Subscribe(),
		rail:        d.Rail,
		venue:       d.Venue,
		channel:     d.Channel,
		commands:    d.Commands,
		dispatch:    d.Dispatcher,
		positions:   d.Positions,
		withdrawals: d.Withdrawals,
		notifier:    d.Notifier,
		exceptions:  d.Exceptions,
		metrics:     d.Metrics,
		log:         log.WithField("component", "engine"),
		rnd:         rnd,
		admin:       make(chan adminRequest),
	}

	if d.Metrics != nil {
		d.Store.OnTransition(func(from, to model.Status) {
			d.Metrics.Transition(string(from), string(to))
		})
		d.Dispatcher.Observe(func(res dispatcher.Result) {
			d.Metrics.Dispatch(string(res.Kind), res.Outcome.OK, res.Outcome.Attempts)
		})
		if d.Notifier != nil {
			d.Notifier.OnFailure(d.Metrics.ReplyFailed)
		}
	}
	return e, nil
}

func (e *Engine) capture(ctx context.Context, method string, err error, fields map[string]interface{}) {
	fault := controller.Fault{Module: "executors", Method: method, Fields: fields}
	if id, ok := fields["order_id"].(string); ok {
		fault.OrderID = id
		delete(fields, "order_id")
	}
	controller.Capture(ctx, e.exceptions, e.log, fault, err)
}

// ---------------------------------------------------
// Event handlers
// ---------------------------------------------------

func (e *Engine) drainEvents(ctx context.Context) {
	for {
		events := e.sub.Drain()
		if len(events) == 0 {
			return
		}
		for _, ev := range events {
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev orderstore.Event) {
	if ev.Deleted {
		return
	}
	o := ev.Order
	// field-only updates
	if ev.Previous != "" && ev.Previous == o.Status {
		return
	}

	switch o.Status {
	case model.StatusNew:
		e.requestInvoice(ctx, &o)
	case model.StatusUnpaid:
		e.notifier.ToOrder(ctx, &o, notify.InvoiceIssued(&o))
	case model.StatusPaid:
		e.notifier.ToOrder(ctx, &o, notify.PaymentReceived(&o))
		e.startFunding(ctx, &o)
	case model.StatusFunded:
		e.openPosition(ctx, &o)
	case model.StatusFundingFail:
		e.notifier.ToOrder(ctx, &o, notify.FundingFailed(&o))
	case model.StatusOpen:
		e.notifier.ToOrder(ctx, &o, notify.PositionOpened(&o))
	case model.StatusClosed:
		e.notifier.ToOrder(ctx, &o, notify.PositionClosed(&o))
	case model.StatusExpired:
		e.notifier.ToOrder(ctx, &o, notify.InvoiceExpired(&o))
		if err := e.rail.DeleteInvoice(ctx, o.ID, externalmodel.InvoiceExpired); err != nil {
			e.metrics.ExternalError("rail", "delete_invoice")
			e.log.WithField("order_id", o.ID).WithError(err).Warn("failed to delete expired invoice")
		}
	case model.StatusLiquidated:
		e.notifier.ToOrder(ctx, &o, notify.Liquidated(&o))
	}
}

// requestInvoice issues the rail invoice of a new order. Failures leave the order new.
func (e *Engine) requestInvoice(ctx context.Context, o *model.Order) {
	log := e.log.WithField("order_id", o.ID)

	description := fmt.Sprintf("rektbot %s %d sats x%d", o.Side, o.RequestedAmount, o.Leverage)
	inv, err := e.rail.CreateInvoice(ctx, o.RequestedAmount, o.ID, description, e.cfg.InvoiceExpiry)
	if err != nil {
		e.metrics.ExternalError("rail", "create_invoice")
		log.WithError(err).Warn("failed to create invoice, retrying next cycle")
		return
	}
	if _, err := e.store.SetUnpaid(ctx, o.ID, inv.Bolt11, inv.PaymentHash); err != nil {
		log.WithError(err).Error("failed to record invoice")
		e.capture(ctx, "store.SetUnpaid", err, map[string]interface{}{"order_id": o.ID})
	}
}

func (e *Engine) startFunding(ctx context.Context, o *model.Order) {
	if _, err := e.store.SetFunding(ctx, o.ID); err != nil {
		e.log.WithField("order_id", o.ID).WithError(err).Error("failed to start funding")
		e.capture(ctx, "store.SetFunding", err, map[string]interface{}{"order_id": o.ID})
		return
	}
	e.dispatch.Dispatch(ctx, dispatcher.Job{
		Kind:     dispatcher.KindFunding,
		OrderIDs: []string{o.ID},
		Run:      e.fundingJob(o.ID, o.RequestedAmount),
	})
	e.metrics.Inflight(e.dispatch.Pending())
}

// openPosition applies the take-profit policy and opens the venue position of a funded order.
// Any failure leaves the order funded for the next cycle.
func (e *Engine) openPosition(ctx context.Context, o *model.Order) {
	log := e.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"side":     o.Side,
		"amount":   o.RequestedAmount,
		"leverage": o.Leverage,
	})

	sizing := ledger.Size(o.RequestedAmount, o.Leverage, e.feeRate)
	if sizing.Margin <= 0 {
		log.WithField("fee", sizing.Fee).Error("amount does not cover the opening fee")
		return
	}

	price, err := e.venue.Price(ctx)
	if err != nil {
		e.metrics.ExternalError("venue", "price")
		log.WithError(err).Warn("failed to fetch price, retrying next cycle")
		return
	}

	tp := tp_sl.ResolveTakeProfit(o.Side, price, o.TakeProfit, e.tp, e.rnd)
	if tp.Assigned.Valid {
		if _, err := e.store.AssignTakeProfit(ctx, o.ID, tp.Assigned.Decimal); err != nil {
			log.WithError(err).Error("failed to persist take-profit")
			return
		}
		log.WithFields(logrus.Fields{
			"price":       price.String(),
			"take_profit": tp.Assigned.Decimal.String(),
			"sent":        tp.Venue.Valid,
		}).Info("take-profit assigned")
	}

	req := externalmodel.OpenPositionRequest{
		Side:     string(o.Side),
		Margin:   sizing.Margin,
		Leverage: o.Leverage,
	}
	if tp.Venue.Valid {
		req.TakeProfit = tp.Venue.Decimal
	}

	pos, err := e.venue.OpenPosition(ctx, req)
	if err != nil {
		e.metrics.ExternalError("venue", "open_position")
		if errors.Is(err, mapper.ErrMissingField) {
			e.capture(ctx, "venue.OpenPosition", err, map[string]interface{}{"order_id": o.ID, "margin": sizing.Margin})
		}
		log.WithError(err).Warn("failed to open position, retrying next cycle")
		return
	}

	margin := pos.Margin
	if margin == 0 {
		margin = sizing.Margin
	}
	tradeAmount := pos.TradeAmount
	if tradeAmount == 0 {
		tradeAmount = ledger.TradeAmount(margin, o.Leverage)
	}

	_, err = e.store.SetOpen(ctx, o.ID, orderstore.OpenFields{
		VenuePositionID: pos.ID,
		OpenPrice:       pos.Price,
		Fee:             sizing.Fee,
		Margin:          margin,
		TradeAmount:     tradeAmount,
	})
	if err != nil {
		log.WithField("position_id", pos.ID).WithError(err).Error("position opened but not recorded")
		e.capture(ctx, "store.SetOpen", err, map[string]interface{}{"order_id": o.ID, "position_id": pos.ID})
	}
}

// closeOrder writes the profit of an order whose position the venue closed.
func (e *Engine) closeOrder(ctx context.Context, c reconciler.Closure) {
	log := e.log.WithFields(logrus.Fields{
		"order_id":    c.OrderID,
		"position_id": c.VenuePositionID,
		"close_price": c.ClosePrice.String(),
	})

	o, err := e.store.Get(ctx, c.OrderID)
	if err != nil {
		log.WithError(err).Error("failed to load closed order")
		return
	}
	profit, err := ledger.Profit(o.Side, o.TradeAmount, o.Fee, o.OpenPrice, c.ClosePrice)
	if err != nil {
		log.WithError(err).Error("failed to compute profit")
		e.capture(ctx, "ledger.Profit", err, map[string]interface{}{"order_id": o.ID})
		return
	}
	if _, err := e.store.SetClosed(ctx, o.ID, c.ClosePrice, profit); err != nil {
		log.WithError(err).Error("failed to close order")
		return
	}
	log.WithField("profit", profit).Info("position closed")
}

// complete applies a finished dispatcher job.
func (e *Engine) complete(ctx context.Context, res dispatcher.Result) {
	e.metrics.Inflight(e.dispatch.Pending())

	switch res.Kind {
	case dispatcher.KindFunding:
		if len(res.OrderIDs) != 1 {
			e.log.WithField("job_id", res.JobID).Error("funding result without a single order")
			return
		}
		id := res.OrderIDs[0]
		var err error
		if res.Outcome.OK {
			_, err = e.store.SetFunded(ctx, id, res.Outcome.SettlementID)
		} else {
			e.log.WithFields(logrus.Fields{
				"order_id": id,
				"attempts": res.Outcome.Attempts,
			}).WithError(res.Outcome.Err).Error("funding failed")
			_, err = e.store.SetFundingFail(ctx, id)
		}
		if err != nil {
			e.capture(ctx, "complete.funding", err, map[string]interface{}{"order_id": id, "ok": res.Outcome.OK})
		}

	case dispatcher.KindPayout:
		if err := e.withdrawals.Complete(ctx, res); err != nil {
			e.capture(ctx, "complete.payout", err, map[string]interface{}{"withdrawal_id": res.Ref})
		}
	}
}
