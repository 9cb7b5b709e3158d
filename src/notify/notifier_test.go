package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rektbot/src/externalmodel"
	"rektbot/src/model"
)

type recordingPublisher struct {
	replies []externalmodel.Reply
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, reply externalmodel.Reply) error {
	p.replies = append(p.replies, reply)
	return p.err
}

func TestNotifierToOrderUsesDeliveryMode(t *testing.T) {
	pub := &recordingPublisher{}
	log, _ := logrustest.NewNullLogger()
	n := New(pub, logrus.NewEntry(log))

	n.ToOrder(context.Background(), &model.Order{ID: "evt", Owner: "alice", DeliveryMode: model.DeliveryPrivate}, "hello")

	require.Len(t, pub.replies, 1)
	assert.Equal(t, externalmodel.Reply{ReplyTo: "evt", Recipient: "alice", Content: "hello", Mode: model.DeliveryPrivate}, pub.replies[0])
}

func TestNotifierSwallowsPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("relay down")}
	log, hook := logrustest.NewNullLogger()
	n := New(pub, logrus.NewEntry(log))

	failures := 0
	n.OnFailure(func() { failures++ })

	n.Send(context.Background(), "", "bob", "", "hi")

	assert.Equal(t, 1, failures)
	assert.Equal(t, model.DeliveryBroadcast, pub.replies[0].Mode)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestStatusSummary(t *testing.T) {
	orders := []model.Order{
		{ID: "0123456789", Side: model.SideLong, RequestedAmount: 1000, Leverage: 10, Status: model.StatusClosed, Profit: 960, ProfitSet: true},
		{ID: "abc", Side: model.SideShort, RequestedAmount: 1000, Leverage: 10, Status: model.StatusClosed, Profit: -1100, ProfitSet: true},
		{ID: "def", Side: model.SideShort, RequestedAmount: 2000, Leverage: 5, Status: model.StatusOpen},
	}

	msg := Status(orders)
	assert.Contains(t, msg, "01234567 long 1000 sats x10: closed (profit +960)")
	assert.Contains(t, msg, "Withdrawable: 1960 sats")
	assert.Equal(t, "You have no orders.", Status(nil))
}

func TestPositionOpenedMentionsTakeProfit(t *testing.T) {
	o := &model.Order{Side: model.SideLong, Leverage: 10, Margin: 980, OpenPrice: decimal.NewFromInt(60000),
		TakeProfit: decimal.NewNullDecimal(decimal.NewFromInt(61000))}
	assert.Equal(t, "Position opened: long x10, margin 980 sats, entry 60000, take-profit 61000.", PositionOpened(o))
}
