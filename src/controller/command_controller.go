package controller

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"rektbot/src/bolt11"
	"rektbot/src/commands"
	"rektbot/src/externalmodel"
	"rektbot/src/metrics"
	"rektbot/src/model"
	"rektbot/src/notify"
	"rektbot/src/orderstore"
	"rektbot/src/reconciler"
	"rektbot/src/risk"
)

type orderIntake interface {
	Create(ctx context.Context, n orderstore.NewOrder) (*model.Order, error)
	ListByOwner(ctx context.Context, owner string, statuses ...model.Status) ([]model.Order, error)
}

type seenSet interface {
	MarkProcessed(ctx context.Context, id, author string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type withdrawalRequester interface {
	Request(ctx context.Context, req reconciler.WithdrawalRequest) (reconciler.Batch, error)
}

// CommandController turns inbound owner messages into orders and withdrawal requests.
// It runs on the engine's control loop.
type CommandController struct {
	store       orderIntake
	processed   seenSet
	withdrawals withdrawalRequester
	notifier    *notify.Notifier
	limits      risk.Limits
	metrics     *metrics.Recorder
	log         *logger.Entry
}

func NewCommandController(
	store orderIntake,
	processed seenSet,
	withdrawals withdrawalRequester,
	notifier *notify.Notifier,
	limits risk.Limits,
	recorder *metrics.Recorder,
	log *logger.Entry,
) *CommandController {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &CommandController{
		store:       store,
		processed:   processed,
		withdrawals: withdrawals,
		notifier:    notifier,
		limits:      limits,
		metrics:     recorder,
		log:         log.WithField("component", "command_controller"),
	}
}

// Handle processes one inbound message. A message id is handled at most once, across relays
// and restarts. Errors returned are internal failures; rejected commands are answered and
// return nil.
func (c *CommandController) Handle(ctx context.Context, msg externalmodel.InboundMessage) error {
	log := c.log.WithFields(map[string]interface{}{
		"message_id": msg.ID,
		"author":     msg.Author,
	})

	first, err := c.processed.MarkProcessed(ctx, msg.ID, msg.Author)
	if err != nil {
		return fmt.Errorf("mark message %s processed: %w", msg.ID, err)
	}
	if !first {
		log.Debug("duplicate message ignored")
		c.metrics.Command("duplicate", "ignored")
		return nil
	}

	reply := func(content string) {
		c.notifier.Send(ctx, msg.ID, msg.Author, msg.Mode, content)
	}

	cmd, err := commands.Parse(msg.Content)
	if err != nil {
		if errors.Is(err, commands.ErrMalformed) {
			log.WithError(err).Info("malformed command")
			c.metrics.Command("malformed", "rejected")
			reply(notify.Rejected(err.Error()) + "\n" + notify.Help())
			return nil
		}
		log.Debug("no command in message")
		c.metrics.Command("unknown", "help")
		reply(notify.Help())
		return nil
	}

	switch cmd.Kind {
	case commands.KindOpen:
		return c.open(ctx, msg, cmd, reply)

	case commands.KindWithdraw:
		_, err := c.withdrawals.Request(ctx, reconciler.WithdrawalRequest{
			Owner:     msg.Author,
			MessageID: msg.ID,
			Target:    cmd.Target,
			Mode:      msg.Mode,
		})
		if err != nil && !ownerError(err) {
			c.metrics.Command(string(cmd.Kind), "error")
			return fmt.Errorf("withdrawal for %s: %w", msg.Author, err)
		}
		c.metrics.Command(string(cmd.Kind), "accepted")
		return nil

	case commands.KindStatus:
		orders, err := c.store.ListByOwner(ctx, msg.Author)
		if err != nil {
			return fmt.Errorf("list orders of %s: %w", msg.Author, err)
		}
		reply(notify.Status(orders))
		c.metrics.Command(string(cmd.Kind), "ok")
		return nil

	default:
		reply(notify.Help())
		c.metrics.Command(string(cmd.Kind), "ok")
		return nil
	}
}

func (c *CommandController) open(
	ctx context.Context,
	msg externalmodel.InboundMessage,
	cmd commands.Command,
	reply func(string),
) error {
	leverage := c.limits.ResolveLeverage(cmd.Leverage)

	if err := c.limits.Check(cmd.Amount, leverage); err != nil {
		c.log.WithFields(map[string]interface{}{
			"message_id": msg.ID,
			"amount":     cmd.Amount,
			"leverage":   leverage,
		}).WithError(err).Info("order request outside limits")
		c.metrics.Command(string(cmd.Kind), "rejected")
		reply(notify.Rejected(err.Error()))
		return nil
	}

	_, err := c.store.Create(ctx, orderstore.NewOrder{
		ID:              msg.ID,
		Owner:           msg.Author,
		Side:            cmd.Side,
		RequestedAmount: cmd.Amount,
		Leverage:        leverage,
		TakeProfit:      cmd.TakeProfit,
		DeliveryMode:    msg.Mode,
	})
	if err != nil {
		c.metrics.Command(string(cmd.Kind), "error")
		// no order exists, so a redelivery of the message must be able to create it
		if ferr := c.processed.Forget(ctx, msg.ID); ferr != nil {
			err = errors.Join(err, fmt.Errorf("forget message: %w", ferr))
		}
		return fmt.Errorf("create order %s: %w", msg.ID, err)
	}
	c.metrics.Command(string(cmd.Kind), "accepted")
	return nil
}

// ownerError reports withdrawal errors already answered to the owner.
func ownerError(err error) bool {
	return errors.Is(err, reconciler.ErrWithdrawalInFlight) ||
		errors.Is(err, reconciler.ErrNothingToWithdraw) ||
		errors.Is(err, reconciler.ErrAmountMismatch) ||
		errors.Is(err, bolt11.ErrInvalidInvoice) ||
		errors.Is(err, bolt11.ErrNoAmount)
}
