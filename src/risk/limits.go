package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Limits bound what a single command may request.
type Limits struct {
	MinAmount       int64
	MaxAmount       int64
	DefaultLeverage int64
	MaxLeverage     int64
	// FeeRate is used to reject requests whose fee would eat the whole amount.
	FeeRate decimal.Decimal
}

// DefaultLimits reasonable defaults for the venue's futures market.
func DefaultLimits() Limits {
	return Limits{
		MinAmount:       1000,
		MaxAmount:       1_000_000,
		DefaultLeverage: 10,
		MaxLeverage:     100,
		FeeRate:         decimal.RequireFromString("0.001"),
	}
}

// LimitError is returned when a request falls outside the limits. Its message is meant for the requester.
type LimitError struct {
	Reason string
}

func (e *LimitError) Error() string { return e.Reason }

// ResolveLeverage returns the leverage to use for a request, applying the default when none was given.
func (l Limits) ResolveLeverage(requested int64) int64 {
	if requested <= 0 {
		return l.DefaultLeverage
	}
	return requested
}

// Check validates an amount and an already resolved leverage.
func (l Limits) Check(amount, leverage int64) error {
	if amount < l.MinAmount {
		return &LimitError{Reason: fmt.Sprintf("minimum amount is %d sats", l.MinAmount)}
	}
	if l.MaxAmount > 0 && amount > l.MaxAmount {
		return &LimitError{Reason: fmt.Sprintf("maximum amount is %d sats", l.MaxAmount)}
	}
	if leverage < 1 {
		return &LimitError{Reason: "leverage must be at least 1"}
	}
	if l.MaxLeverage > 0 && leverage > l.MaxLeverage {
		return &LimitError{Reason: fmt.Sprintf("maximum leverage is x%d", l.MaxLeverage)}
	}

	fee := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(leverage)).Mul(l.FeeRate).Ceil()
	if fee.GreaterThanOrEqual(decimal.NewFromInt(amount)) {
		return &LimitError{Reason: "amount does not cover the opening fee at this leverage"}
	}
	return nil
}
