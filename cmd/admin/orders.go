package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"rektbot/src/database"
	"rektbot/src/model"
	"rektbot/src/repository"
)

type orderLister interface {
	FindByStatus(ctx context.Context, statuses ...model.Status) ([]model.Order, error)
	FindByOwner(ctx context.Context, owner string, statuses ...model.Status) ([]model.Order, error)
}

func parseStatuses(args []string) ([]model.Status, error) {
	statuses := make([]model.Status, 0, len(args))
	for _, a := range args {
		s := model.Status(a)
		if !s.Valid() {
			return nil, fmt.Errorf("unknown status %q", a)
		}
		statuses = append(statuses, s)
	}
	if len(statuses) == 0 {
		statuses = append(statuses, allStatuses...)
	}
	return statuses, nil
}

var allStatuses = []model.Status{
	model.StatusNew, model.StatusUnpaid, model.StatusPaid, model.StatusExpired,
	model.StatusFunding, model.StatusFunded, model.StatusFundingFail, model.StatusOpen,
	model.StatusClosed, model.StatusWithdrawRequested, model.StatusWithdrawDone,
	model.StatusWithdrawFailed, model.StatusLiquidated,
}

// DumpOrders writes the matching orders to w as an indented JSON array.
func DumpOrders(ctx context.Context, repo orderLister, w io.Writer, owner string, args []string) error {
	statuses, err := parseStatuses(args)
	if err != nil {
		return err
	}

	var orders []model.Order
	if owner != "" {
		orders, err = repo.FindByOwner(ctx, owner, statuses...)
	} else {
		orders, err = repo.FindByStatus(ctx, statuses...)
	}
	if err != nil {
		return err
	}
	if orders == nil {
		orders = []model.Order{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(orders)
}

// DumpOrdersCMD opens the databases from the environment and dumps orders.
func DumpOrdersCMD(w io.Writer, owner string, args []string) error {
	if err := database.InitMainDB(); err != nil {
		return err
	}
	if err := database.InitReadOnlyDB(); err != nil {
		return err
	}
	return DumpOrders(context.Background(), repository.NewReadOnlyOrderRepository(), w, owner, args)
}
