package executors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"rektbot/src/controller"
	"rektbot/src/dispatcher"
	"rektbot/src/externalmodel"
	"rektbot/src/ledger"
	"rektbot/src/mapper"
	"rektbot/src/model"
	"rektbot/src/notify"
	"rektbot/src/orderstore"
	"rektbot/src/reconciler"
	"rektbot/src/repository"
	"rektbot/src/risk"
)

type fakeRail struct {
	mu          sync.Mutex
	labels      []string
	statuses    map[string]externalmodel.InvoiceStatus
	deleted     []string
	createErr   error
	payFailures int
	payCalls    int
	// gate, when set, holds every Pay until closed
	gate chan struct{}
}

func (r *fakeRail) CreateInvoice(ctx context.Context, amount int64, label, description string, expiry time.Duration) (externalmodel.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return externalmodel.Invoice{}, r.createErr
	}
	r.labels = append(r.labels, label)
	return externalmodel.Invoice{Bolt11: fmt.Sprintf("lnbc%du1p%s", amount/100, label), PaymentHash: "hash-" + label, Label: label}, nil
}

func (r *fakeRail) Pay(ctx context.Context, bolt11 string) (bool, error) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payCalls++
	if r.payCalls <= r.payFailures {
		return false, errors.New("no route")
	}
	return true, nil
}

func (r *fakeRail) InvoiceStatus(ctx context.Context, label string) (externalmodel.InvoiceStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.statuses[label]; ok {
		return s, nil
	}
	return externalmodel.InvoiceUnpaid, nil
}

func (r *fakeRail) DeleteInvoice(ctx context.Context, label string, status externalmodel.InvoiceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, label)
	return nil
}

func (r *fakeRail) setStatus(label string, s externalmodel.InvoiceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[label] = s
}

type fakeVenue struct {
	mu          sync.Mutex
	price       decimal.Decimal
	deposits    int
	openReqs    []externalmodel.OpenPositionRequest
	openErr     error
	running     []string
	closed      []externalmodel.ClosedPosition
	withdrawals []string
}

func (v *fakeVenue) Deposit(ctx context.Context, amount int64) (externalmodel.Deposit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deposits++
	return externalmodel.Deposit{Invoice: "lnbc-deposit", SettlementID: fmt.Sprintf("dep-%d", v.deposits)}, nil
}

func (v *fakeVenue) DepositStatus(ctx context.Context, settlementID string) (bool, error) {
	return false, nil
}

func (v *fakeVenue) OpenPosition(ctx context.Context, req externalmodel.OpenPositionRequest) (externalmodel.OpenedPosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.openReqs = append(v.openReqs, req)
	if v.openErr != nil {
		return externalmodel.OpenedPosition{}, v.openErr
	}
	id := fmt.Sprintf("pos-%d", len(v.openReqs))
	v.running = append(v.running, id)
	return externalmodel.OpenedPosition{
		ID:          id,
		Price:       v.price,
		Margin:      req.Margin,
		TradeAmount: ledger.TradeAmount(req.Margin, req.Leverage),
	}, nil
}

func (v *fakeVenue) RunningPositionIDs(ctx context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.running...), nil
}

func (v *fakeVenue) ClosedPositions(ctx context.Context, ids []string) ([]externalmodel.ClosedPosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed, nil
}

func (v *fakeVenue) Withdraw(ctx context.Context, invoice string, amount int64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.withdrawals = append(v.withdrawals, invoice)
	return "wd-1", nil
}

func (v *fakeVenue) Price(ctx context.Context) (decimal.Decimal, error) {
	return v.price, nil
}

// closeAll reports every running position as closed at price.
func (v *fakeVenue) closeAll(price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range v.running {
		v.closed = append(v.closed, externalmodel.ClosedPosition{ID: id, ExitPrice: price})
	}
	v.running = nil
}

type fakeChannel struct {
	mu      sync.Mutex
	in      chan externalmodel.InboundMessage
	replies []externalmodel.Reply
}

func (c *fakeChannel) Inbound() <-chan externalmodel.InboundMessage {
	return c.in
}

func (c *fakeChannel) Publish(ctx context.Context, reply externalmodel.Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, reply)
	return nil
}

type engineFixture struct {
	db          *gorm.DB
	orders      *repository.OrderRepository
	withdrawals *repository.WithdrawalRepository
	store       *orderstore.Store
	rail        *fakeRail
	venue       *fakeVenue
	channel     *fakeChannel
	engine      *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.OrderLog{}, &model.ProcessedMessage{}, &model.Withdrawal{}, &model.Exception{}))

	log, _ := logrustest.NewNullLogger()
	entry := logrus.NewEntry(log)

	f := &engineFixture{
		db:          db,
		orders:      (&repository.OrderRepository{}).WithDB(db),
		withdrawals: (&repository.WithdrawalRepository{}).WithDB(db),
		rail:        &fakeRail{statuses: map[string]externalmodel.InvoiceStatus{}},
		venue:       &fakeVenue{price: decimal.NewFromInt(100)},
		channel:     &fakeChannel{in: make(chan externalmodel.InboundMessage, 8)},
	}
	f.store = orderstore.New(f.orders, entry)

	notifier := notify.New(f.channel, entry)
	disp := dispatcher.New(8, entry)
	wr := reconciler.NewWithdrawalReconciler(f.store, f.withdrawals, disp, f.venue, nil, notifier, entry)
	cmds := controller.NewCommandController(f.store, (&repository.ProcessedMessageRepository{}).WithDB(db),
		wr, notifier, risk.DefaultLimits(), nil, entry)

	cfg := DefaultConfig()
	cfg.LoopPeriod = time.Hour
	cfg.FeeRate = "0.002"
	cfg.FundingRetryDelay = 0

	f.engine, err = New(cfg, Deps{
		Store:       f.store,
		Rail:        f.rail,
		Venue:       f.venue,
		Channel:     f.channel,
		Commands:    cmds,
		Dispatcher:  disp,
		Positions:   reconciler.NewPositionReconciler(f.store, f.venue, entry),
		Withdrawals: wr,
		Notifier:    notifier,
		Exceptions:  (&repository.ExceptionRepository{}).WithDB(db),
		Log:         entry,
		Rand:        rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	return f
}

func (f *engineFixture) create(t *testing.T, id string, side model.Side, amount int64, tp decimal.NullDecimal) {
	t.Helper()
	_, err := f.store.Create(context.Background(), orderstore.NewOrder{
		ID:              id,
		Owner:           "npub-alice",
		Side:            side,
		RequestedAmount: amount,
		Leverage:        10,
		TakeProfit:      tp,
	})
	require.NoError(t, err)
	f.engine.drainEvents(context.Background())
}

func (f *engineFixture) status(t *testing.T, id string) model.Status {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

// settleNextJob waits for one dispatcher result and applies it like the loop does.
func (f *engineFixture) settleNextJob(t *testing.T) dispatcher.Result {
	t.Helper()
	select {
	case res := <-f.engine.dispatch.Results():
		f.engine.complete(context.Background(), res)
		f.engine.drainEvents(context.Background())
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatcher result")
	}
	return dispatcher.Result{}
}

func TestEngineFullLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.create(t, "evt-1", model.SideLong, 1000, decimal.NullDecimal{})
	assert.Equal(t, model.StatusUnpaid, f.status(t, "evt-1"))
	assert.Equal(t, []string{"evt-1"}, f.rail.labels)

	f.rail.setStatus("evt-1", externalmodel.InvoicePaid)
	f.engine.pollInvoices(ctx)
	f.engine.drainEvents(ctx)
	assert.Equal(t, model.StatusFunding, f.status(t, "evt-1"))

	res := f.settleNextJob(t)
	assert.True(t, res.Outcome.OK)
	assert.Equal(t, "dep-1", res.Outcome.SettlementID)

	o, err := f.store.Get(ctx, "evt-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusOpen, o.Status)
	assert.Equal(t, "dep-1", o.SettlementID)
	assert.Equal(t, int64(20), o.Fee)
	assert.Equal(t, int64(980), o.Margin)
	assert.Equal(t, int64(9800), o.TradeAmount)
	assert.Equal(t, "pos-1", o.VenuePositionID)
	assert.True(t, o.TakeProfit.Valid, "randomized take-profit is persisted")

	require.Len(t, f.venue.openReqs, 1)
	assert.Equal(t, int64(980), f.venue.openReqs[0].Margin)
	// at price 100 every randomized take-profit falls inside the guard band
	assert.True(t, f.venue.openReqs[0].TakeProfit.IsZero())

	f.venue.closeAll(decimal.NewFromInt(110))
	f.engine.cycle(ctx, nil)

	o, err = f.store.Get(ctx, "evt-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusClosed, o.Status)
	assert.Equal(t, int64(960), o.Profit)
	assert.Equal(t, int64(1960), o.Balance())

	_, err = f.engine.withdrawals.Request(ctx, reconciler.WithdrawalRequest{
		Owner: "npub-alice", MessageID: "evt-2", Target: "lnbc19600n1pxyz",
	})
	require.NoError(t, err)
	f.settleNextJob(t)

	assert.Equal(t, model.StatusWithdrawDone, f.status(t, "evt-1"))
	assert.Equal(t, []string{"lnbc19600n1pxyz"}, f.venue.withdrawals)

	logs, err := f.orders.FindByIDWithLogs(ctx, "evt-1")
	require.NoError(t, err)
	var path []model.Status
	for _, l := range logs.Logs {
		path = append(path, l.To)
	}
	assert.Equal(t, []model.Status{
		model.StatusUnpaid, model.StatusPaid, model.StatusFunding, model.StatusFunded,
		model.StatusOpen, model.StatusClosed, model.StatusWithdrawRequested, model.StatusWithdrawDone,
	}, path)
}

func TestFundingRetriesUntilSuccess(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.rail.payFailures = 4

	f.create(t, "evt-1", model.SideShort, 1000, decimal.NullDecimal{})
	f.rail.setStatus("evt-1", externalmodel.InvoicePaid)
	f.engine.pollInvoices(ctx)
	f.engine.drainEvents(ctx)

	res := f.settleNextJob(t)
	assert.True(t, res.Outcome.OK)
	assert.Equal(t, 5, res.Outcome.Attempts)
	assert.Equal(t, 5, f.rail.payCalls)
	assert.Equal(t, 1, f.venue.deposits, "deposit invoice is reused across attempts")
	assert.Equal(t, model.StatusOpen, f.status(t, "evt-1"))
}

func TestFundingExhaustedFails(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.rail.payFailures = 5

	f.create(t, "evt-1", model.SideLong, 1000, decimal.NullDecimal{})
	f.rail.setStatus("evt-1", externalmodel.InvoicePaid)
	f.engine.pollInvoices(ctx)
	f.engine.drainEvents(ctx)

	res := f.settleNextJob(t)
	assert.False(t, res.Outcome.OK)
	assert.Equal(t, 5, f.rail.payCalls)
	assert.Equal(t, model.StatusFundingFail, f.status(t, "evt-1"))

	last := f.channel.replies[len(f.channel.replies)-1]
	assert.Contains(t, last.Content, "manual resolution")
	assert.Empty(t, f.venue.openReqs)
}

func TestInvoiceExpiry(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.create(t, "evt-1", model.SideLong, 1000, decimal.NullDecimal{})
	f.rail.setStatus("evt-1", externalmodel.InvoiceExpired)
	f.engine.pollInvoices(ctx)
	f.engine.drainEvents(ctx)

	assert.Equal(t, model.StatusExpired, f.status(t, "evt-1"))
	assert.Equal(t, []string{"evt-1"}, f.rail.deleted)
}

func TestInvoiceFailureRetriedNextCycle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.rail.createErr = errors.New("node offline")
	f.create(t, "evt-1", model.SideLong, 1000, decimal.NullDecimal{})
	assert.Equal(t, model.StatusNew, f.status(t, "evt-1"))

	f.rail.createErr = nil
	f.engine.cycle(ctx, nil)
	assert.Equal(t, model.StatusUnpaid, f.status(t, "evt-1"))
}

func TestMalformedOpenLeavesOrderFunded(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.venue.openErr = fmt.Errorf("%w: entry price", mapper.ErrMissingField)

	f.create(t, "evt-1", model.SideLong, 1000, decimal.NullDecimal{})
	f.rail.setStatus("evt-1", externalmodel.InvoicePaid)
	f.engine.pollInvoices(ctx)
	f.engine.drainEvents(ctx)
	f.settleNextJob(t)

	o, err := f.store.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFunded, o.Status)
	assert.Empty(t, o.VenuePositionID)

	var exceptions []model.Exception
	require.NoError(t, f.db.Where("order_id = ?", "evt-1").Find(&exceptions).Error)
	assert.NotEmpty(t, exceptions)

	f.venue.openErr = nil
	f.engine.cycle(ctx, nil)
	assert.Equal(t, model.StatusOpen, f.status(t, "evt-1"))
}

func TestTakeProfitInsideGuardBandIsReplaced(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.venue.price = decimal.NewFromInt(10000)

	f.create(t, "evt-1", model.SideLong, 1000, decimal.NewNullDecimal(decimal.NewFromInt(10050)))
	f.rail.setStatus("evt-1", externalmodel.InvoicePaid)
	f.engine.pollInvoices(ctx)
	f.engine.drainEvents(ctx)
	f.settleNextJob(t)

	o, err := f.store.Get(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, o.TakeProfit.Valid)
	tp := o.TakeProfit.Decimal
	assert.False(t, tp.Equal(decimal.NewFromInt(10050)), "requested take-profit was inside the band")
	assert.True(t, tp.GreaterThanOrEqual(decimal.NewFromInt(10050)) && tp.LessThanOrEqual(decimal.NewFromInt(10300)), tp.String())

	require.Len(t, f.venue.openReqs, 1)
	sent := f.venue.openReqs[0].TakeProfit
	if tp.Sub(decimal.NewFromInt(10000)).Abs().LessThan(decimal.NewFromInt(100)) {
		assert.True(t, sent.IsZero())
	} else {
		assert.True(t, sent.Equal(tp))
	}
}

func TestRequestedTakeProfitOutsideBandIsSent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.venue.price = decimal.NewFromInt(10000)

	f.create(t, "evt-1", model.SideShort, 1000, decimal.NewNullDecimal(decimal.NewFromInt(9500)))
	f.rail.setStatus("evt-1", externalmodel.InvoicePaid)
	f.engine.pollInvoices(ctx)
	f.engine.drainEvents(ctx)
	f.settleNextJob(t)

	require.Len(t, f.venue.openReqs, 1)
	assert.True(t, f.venue.openReqs[0].TakeProfit.Equal(decimal.NewFromInt(9500)))
	assert.Equal(t, "short", f.venue.openReqs[0].Side)
}

func TestDuplicateInboundCreatesOneOrder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	msg := externalmodel.InboundMessage{ID: "evt-9", Author: "npub-bob", Content: "long 2000", Mode: model.DeliveryBroadcast}
	f.channel.in <- msg
	f.channel.in <- msg

	f.engine.cycle(ctx, f.channel.in)

	orders, err := f.store.ListByOwner(ctx, "npub-bob")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, model.StatusUnpaid, orders[0].Status)
}

func TestRecoverAfterRestart(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for id, status := range map[string]model.Status{"lost": model.StatusFunding, "waiting": model.StatusPaid} {
		require.NoError(t, f.orders.Create(ctx, &model.Order{
			ID: id, Owner: "npub-carol", Side: model.SideLong, RequestedAmount: 1000, Leverage: 10, Status: status,
		}))
	}
	require.NoError(t, f.withdrawals.Create(ctx, &model.Withdrawal{
		ID: "w-1", Owner: "npub-carol", Amount: 1000, Mode: model.WithdrawalModeInvoice, Status: model.WithdrawalPending,
	}))

	require.NoError(t, f.engine.recover(ctx))

	assert.Equal(t, model.StatusFundingFail, f.status(t, "lost"))
	assert.Equal(t, model.StatusFunding, f.status(t, "waiting"))
	_, locked := f.engine.withdrawals.InFlight("npub-carol")
	assert.True(t, locked)

	f.settleNextJob(t)
	assert.Equal(t, model.StatusOpen, f.status(t, "waiting"))
}

func TestFlushAppliesFundingSettledDuringShutdown(t *testing.T) {
	f := newEngineFixture(t)
	f.rail.payFailures = 1
	f.rail.gate = make(chan struct{})

	loopCtx, stopLoop := context.WithCancel(context.Background())
	f.create(t, "evt-1", model.SideLong, 1000, decimal.NullDecimal{})
	f.rail.setStatus("evt-1", externalmodel.InvoicePaid)
	f.engine.pollInvoices(loopCtx)
	f.engine.drainEvents(loopCtx)
	require.Equal(t, model.StatusFunding, f.status(t, "evt-1"))

	stopLoop()
	close(f.rail.gate)

	assert.Equal(t, 1, f.engine.Flush(context.Background()))
	assert.Equal(t, 2, f.rail.payCalls)

	o, err := f.store.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFunded, o.Status)
	assert.Equal(t, "dep-1", o.SettlementID)

	// recovery opens the funded order instead of failing it
	require.NoError(t, f.engine.recover(context.Background()))
	assert.Equal(t, model.StatusOpen, f.status(t, "evt-1"))
	assert.Len(t, f.venue.openReqs, 1)
}

func TestFlushWithNothingPending(t *testing.T) {
	f := newEngineFixture(t)
	assert.Zero(t, f.engine.Flush(context.Background()))
}

func TestRunServesAdminRequests(t *testing.T) {
	f := newEngineFixture(t)
	f.create(t, "evt-1", model.SideLong, 1000, decimal.NullDecimal{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	require.NoError(t, f.engine.DeleteOrder(ctx, "evt-1"))
	err := f.engine.DeleteOrder(ctx, "evt-1")
	assert.ErrorIs(t, err, orderstore.ErrNotFound)

	err = f.engine.ResolveWithdrawal(ctx, "missing", true)
	assert.ErrorIs(t, err, reconciler.ErrUnknownWithdrawal)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}
