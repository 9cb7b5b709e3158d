package orderstore

import (
	"errors"
	"fmt"

	"rektbot/src/model"
)

// ErrIllegalTransition is returned, wrapped, for any status change outside the table.
var ErrIllegalTransition = errors.New("illegal status transition")

type transition struct {
	from model.Status
	to   model.Status
}

var legalTransitions = map[transition]bool{
	{model.StatusNew, model.StatusUnpaid}: true,

	{model.StatusUnpaid, model.StatusPaid}:    true,
	{model.StatusUnpaid, model.StatusExpired}: true,

	{model.StatusPaid, model.StatusFunding}: true,

	{model.StatusFunding, model.StatusFunded}:      true,
	{model.StatusFunding, model.StatusFundingFail}: true,

	{model.StatusFunded, model.StatusOpen}: true,

	{model.StatusOpen, model.StatusClosed}: true,

	{model.StatusClosed, model.StatusWithdrawRequested}: true,
	{model.StatusClosed, model.StatusLiquidated}:        true,

	{model.StatusWithdrawRequested, model.StatusWithdrawDone}:   true,
	{model.StatusWithdrawRequested, model.StatusWithdrawFailed}: true,

	{model.StatusWithdrawFailed, model.StatusWithdrawRequested}: true,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to model.Status) bool {
	return legalTransitions[transition{from, to}]
}

// ValidateTransition returns a wrapped ErrIllegalTransition for moves outside the table.
func ValidateTransition(from, to model.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
