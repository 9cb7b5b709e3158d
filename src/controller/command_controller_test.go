package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"rektbot/src/externalmodel"
	"rektbot/src/model"
	"rektbot/src/notify"
	"rektbot/src/orderstore"
	"rektbot/src/reconciler"
	"rektbot/src/repository"
	"rektbot/src/risk"
)

type recordingPublisher struct {
	replies []externalmodel.Reply
}

func (p *recordingPublisher) Publish(ctx context.Context, reply externalmodel.Reply) error {
	p.replies = append(p.replies, reply)
	return nil
}

type stubWithdrawals struct {
	requests []reconciler.WithdrawalRequest
	err      error
}

func (s *stubWithdrawals) Request(ctx context.Context, req reconciler.WithdrawalRequest) (reconciler.Batch, error) {
	s.requests = append(s.requests, req)
	return reconciler.Batch{}, s.err
}

// flakyIntake fails the first failures order creations.
type flakyIntake struct {
	orderIntake
	failures int
}

func (s *flakyIntake) Create(ctx context.Context, n orderstore.NewOrder) (*model.Order, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("database is locked")
	}
	return s.orderIntake.Create(ctx, n)
}

type controllerFixture struct {
	db          *gorm.DB
	store       *orderstore.Store
	withdrawals *stubWithdrawals
	pub         *recordingPublisher
	ctrl        *CommandController
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.OrderLog{}, &model.ProcessedMessage{}, &model.Exception{}))

	log, _ := logrustest.NewNullLogger()
	entry := logrus.NewEntry(log)

	f := &controllerFixture{
		db:          db,
		withdrawals: &stubWithdrawals{},
		pub:         &recordingPublisher{},
	}
	f.store = orderstore.New((&repository.OrderRepository{}).WithDB(db), entry)
	f.ctrl = NewCommandController(
		f.store,
		(&repository.ProcessedMessageRepository{}).WithDB(db),
		f.withdrawals,
		notify.New(f.pub, entry),
		risk.DefaultLimits(),
		nil,
		entry,
	)
	return f
}

func message(id, content string) externalmodel.InboundMessage {
	return externalmodel.InboundMessage{
		ID:         id,
		Author:     "npub-alice",
		Content:    content,
		Mode:       model.DeliveryBroadcast,
		ReceivedAt: time.Now(),
	}
}

func TestHandleCreatesOrderOnce(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()
	sub := f.store.Subscribe()

	msg := message("evt-1", "nostr:npub1bot long 5000 x20 tp 70000")
	require.NoError(t, f.ctrl.Handle(ctx, msg))
	require.NoError(t, f.ctrl.Handle(ctx, msg), "relay duplicate")

	orders, err := f.store.ListByOwner(ctx, "npub-alice")
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, "evt-1", o.ID)
	assert.Equal(t, model.StatusNew, o.Status)
	assert.Equal(t, model.SideLong, o.Side)
	assert.Equal(t, int64(5000), o.RequestedAmount)
	assert.Equal(t, int64(20), o.Leverage)
	assert.True(t, o.TakeProfit.Valid)

	assert.Len(t, sub.Drain(), 1)
}

func TestHandleAppliesDefaultLeverage(t *testing.T) {
	f := newControllerFixture(t)
	require.NoError(t, f.ctrl.Handle(context.Background(), message("evt-2", "short 2000")))

	o, err := f.store.Get(context.Background(), "evt-2")
	require.NoError(t, err)
	assert.Equal(t, risk.DefaultLimits().DefaultLeverage, o.Leverage)
}

func TestHandleRejectsOutsideLimits(t *testing.T) {
	f := newControllerFixture(t)
	require.NoError(t, f.ctrl.Handle(context.Background(), message("evt-3", "long 10")))

	orders, err := f.store.ListByOwner(context.Background(), "npub-alice")
	require.NoError(t, err)
	assert.Empty(t, orders)

	require.Len(t, f.pub.replies, 1)
	assert.Equal(t, "evt-3", f.pub.replies[0].ReplyTo)
	assert.Contains(t, f.pub.replies[0].Content, "minimum amount is 1000 sats")
}

func TestHandleMalformedAndUnknown(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Handle(ctx, message("evt-4", "long lots")))
	require.NoError(t, f.ctrl.Handle(ctx, message("evt-5", "gm")))

	require.Len(t, f.pub.replies, 2)
	assert.True(t, strings.HasPrefix(f.pub.replies[0].Content, "Request rejected"))
	assert.Equal(t, notify.Help(), f.pub.replies[1].Content)
}

func TestHandleStatus(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Handle(ctx, message("evt-6", "long 1000")))
	require.NoError(t, f.ctrl.Handle(ctx, message("evt-7", "status")))

	require.Len(t, f.pub.replies, 1)
	assert.Contains(t, f.pub.replies[0].Content, "long 1000 sats x10: new")
}

func TestHandleWithdraw(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	f.withdrawals.err = reconciler.ErrNothingToWithdraw
	require.NoError(t, f.ctrl.Handle(ctx, message("evt-8", "withdraw lnbc10u1pxyz")))
	require.Len(t, f.withdrawals.requests, 1)
	assert.Equal(t, reconciler.WithdrawalRequest{
		Owner:     "npub-alice",
		MessageID: "evt-8",
		Target:    "lnbc10u1pxyz",
		Mode:      model.DeliveryBroadcast,
	}, f.withdrawals.requests[0])

	f.withdrawals.err = errors.New("database is locked")
	assert.Error(t, f.ctrl.Handle(ctx, message("evt-9", "withdraw")))
}

func TestFailedCreateLeavesMessageRetryable(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()
	processed := (&repository.ProcessedMessageRepository{}).WithDB(f.db)
	log, _ := logrustest.NewNullLogger()
	ctrl := NewCommandController(&flakyIntake{orderIntake: f.store, failures: 1}, processed,
		f.withdrawals, notify.New(f.pub, logrus.NewEntry(log)), risk.DefaultLimits(), nil, nil)

	msg := message("evt-1", "long 5000")
	require.Error(t, ctrl.Handle(ctx, msg))

	var seen int64
	require.NoError(t, f.db.Model(&model.ProcessedMessage{}).Where("id = ?", "evt-1").Count(&seen).Error)
	assert.Zero(t, seen)

	require.NoError(t, ctrl.Handle(ctx, msg), "redelivered message")
	require.NoError(t, ctrl.Handle(ctx, msg), "relay duplicate")

	orders, err := f.store.ListByOwner(ctx, "npub-alice")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "evt-1", orders[0].ID)
}

func TestCapturePersistsException(t *testing.T) {
	f := newControllerFixture(t)
	repo := (&repository.ExceptionRepository{}).WithDB(f.db)

	ctx, cancel := context.WithCancel(context.Background())
	Capture(ctx, repo, nil, Fault{
		Module:  "executors",
		Method:  "openPosition",
		OrderID: "evt-1",
		Fields:  map[string]interface{}{"margin": 980},
	}, errors.New("missing entry price"))
	Capture(ctx, repo, nil, Fault{Module: "executors", Method: "noop"}, nil)
	cancel()
	Capture(ctx, repo, nil, Fault{Module: "executors", Method: "deposit"}, ctx.Err())

	var stored []model.Exception
	require.NoError(t, f.db.Order("id").Find(&stored).Error)
	require.Len(t, stored, 2)
	assert.Equal(t, "rektbot", stored[0].Service)
	assert.Equal(t, "evt-1", stored[0].OrderID)
	assert.Equal(t, "error", stored[0].Level)
	assert.Equal(t, "missing entry price", stored[0].Message)
	assert.JSONEq(t, `{"margin":980}`, stored[0].Context)
	assert.NotEmpty(t, stored[0].Stack)

	assert.Equal(t, "warn", stored[1].Level)
	assert.Empty(t, stored[1].Context)
}
