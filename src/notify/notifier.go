// Package notify formats owner facing messages and hands them to the command channel.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"rektbot/src/externalmodel"
	"rektbot/src/model"
)

type Publisher interface {
	Publish(ctx context.Context, reply externalmodel.Reply) error
}

// Notifier never fails the caller: publishing errors are logged and counted.
type Notifier struct {
	pub    Publisher
	log    *logrus.Entry
	failed func()
}

func New(pub Publisher, log *logrus.Entry) *Notifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Notifier{pub: pub, log: log.WithField("component", "notifier")}
}

// OnFailure registers a hook called for each reply that could not be published.
func (n *Notifier) OnFailure(fn func()) {
	n.failed = fn
}

// Send publishes content to owner.
func (n *Notifier) Send(ctx context.Context, replyTo, owner string, mode model.DeliveryMode, content string) {
	if n == nil || n.pub == nil {
		return
	}
	if mode == "" {
		mode = model.DeliveryBroadcast
	}
	err := n.pub.Publish(ctx, externalmodel.Reply{
		ReplyTo:   replyTo,
		Recipient: owner,
		Content:   content,
		Mode:      mode,
	})
	if err != nil {
		n.log.WithFields(logrus.Fields{
			"reply_to": replyTo,
			"owner":    owner,
		}).WithError(err).Error("failed to publish reply")
		if n.failed != nil {
			n.failed()
		}
	}
}

// ToOrder answers in the thread of the order's command.
func (n *Notifier) ToOrder(ctx context.Context, o *model.Order, content string) {
	n.Send(ctx, o.ID, o.Owner, o.DeliveryMode, content)
}

// ---------------------------------------------------
// Messages
// ---------------------------------------------------

func InvoiceIssued(o *model.Order) string {
	return fmt.Sprintf("%s %d sats x%d accepted. Pay this invoice to open the position:\n%s",
		o.Side, o.RequestedAmount, o.Leverage, o.Invoice)
}

func PaymentReceived(o *model.Order) string {
	return fmt.Sprintf("Payment of %d sats received, funding the position.", o.RequestedAmount)
}

func InvoiceExpired(o *model.Order) string {
	return "Invoice expired, order cancelled."
}

func FundingFailed(o *model.Order) string {
	return fmt.Sprintf("Could not move your %d sats to the venue. The order is on hold for manual resolution, reference %s.",
		o.RequestedAmount, o.ID)
}

func PositionOpened(o *model.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Position opened: %s x%d, margin %d sats, entry %s", o.Side, o.Leverage, o.Margin, o.OpenPrice.String())
	if o.TakeProfit.Valid {
		fmt.Fprintf(&b, ", take-profit %s", o.TakeProfit.Decimal.String())
	}
	b.WriteString(".")
	return b.String()
}

func PositionClosed(o *model.Order) string {
	return fmt.Sprintf("Position closed at %s. Profit %+d sats, balance %d sats. Send \"withdraw\" to get paid.",
		o.ClosePrice.String(), o.Profit, o.Balance())
}

func Liquidated(o *model.Order) string {
	return fmt.Sprintf("Your %s of %d sats was liquidated (profit %+d sats), nothing to return.",
		o.Side, o.RequestedAmount, o.Profit)
}

func NothingToWithdraw() string {
	return "Nothing to withdraw."
}

func WithdrawalInProgress() string {
	return "A withdrawal is already in progress, please wait for it to settle."
}

func InvoiceRequired(total int64) string {
	return fmt.Sprintf("Send \"withdraw <invoice>\" with an invoice of exactly %d sats.", total)
}

func InvoiceAmountMismatch(got, total int64) string {
	return fmt.Sprintf("Your invoice is for %d sats but your balance is %d sats. Send an invoice of exactly %d sats.", got, total, total)
}

func InvalidInvoice() string {
	return "Could not read that invoice. Send an invoice with an amount."
}

func AddressResolutionFailed(address string) string {
	return fmt.Sprintf("Could not get an invoice from %s. Try again or send an invoice instead.", address)
}

func WithdrawalDispatched(total int64) string {
	return fmt.Sprintf("Paying out %d sats.", total)
}

func WithdrawalDone(total int64) string {
	return fmt.Sprintf("Paid %d sats. Thanks!", total)
}

func WithdrawalFailed(total int64) string {
	return fmt.Sprintf("Payout of %d sats failed. Your balance is kept, send \"withdraw\" again to retry.", total)
}

func Help() string {
	return strings.Join([]string{
		"Commands:",
		"long <sats> [x<leverage>] [tp <price>]",
		"short <sats> [x<leverage>] [tp <price>]",
		"withdraw [<invoice> | <lightning address>]",
		"status",
	}, "\n")
}

// Status summarises an owner's orders.
func Status(orders []model.Order) string {
	if len(orders) == 0 {
		return "You have no orders."
	}

	var b strings.Builder
	var withdrawable int64
	for _, o := range orders {
		fmt.Fprintf(&b, "%s %s %d sats x%d: %s", shortID(o.ID), o.Side, o.RequestedAmount, o.Leverage, o.Status)
		if o.ProfitSet {
			fmt.Fprintf(&b, " (profit %+d)", o.Profit)
		}
		b.WriteString("\n")

		switch o.Status {
		case model.StatusClosed, model.StatusWithdrawRequested, model.StatusWithdrawFailed:
			if bal := o.Balance(); bal > 0 {
				withdrawable += bal
			}
		}
	}
	fmt.Fprintf(&b, "Withdrawable: %d sats", withdrawable)
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Rejected explains why a command was not accepted.
func Rejected(reason string) string {
	return fmt.Sprintf("Request rejected: %s.", reason)
}
