// Package ledger holds the settlement arithmetic of an order: fees, margin, exposure and profit.
// All amounts are integer sats; prices are decimals.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"rektbot/src/model"
)

var ErrZeroOpenPrice = errors.New("open price is zero")

// Fee is the opening fee charged on the leveraged exposure, rounded up.
func Fee(amount, leverage int64, feeRate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(leverage)).
		Mul(feeRate).
		Ceil().
		IntPart()
}

// Margin is the capital committed to the position once the fee is taken out.
func Margin(amount, fee int64) int64 {
	return amount - fee
}

// TradeAmount is the leveraged exposure of a margin.
func TradeAmount(margin, leverage int64) int64 {
	return decimal.NewFromInt(margin).
		Mul(decimal.NewFromInt(leverage)).
		Floor().
		IntPart()
}

// Sizing is the funding time breakdown of a requested amount.
type Sizing struct {
	Fee         int64
	Margin      int64
	TradeAmount int64
}

func Size(amount, leverage int64, feeRate decimal.Decimal) Sizing {
	fee := Fee(amount, leverage, feeRate)
	margin := Margin(amount, fee)
	return Sizing{
		Fee:         fee,
		Margin:      margin,
		TradeAmount: TradeAmount(margin, leverage),
	}
}

// Profit is the net result of a closed position.
//
//	long:  ceil(trade_amount * (close - open) / open) - fee
//	short: floor(trade_amount * (open - close) / open) - fee
//
// The division comes last so that exact results are not pushed across an integer by rounding.
func Profit(side model.Side, tradeAmount, fee int64, openPrice, closePrice decimal.Decimal) (int64, error) {
	if openPrice.IsZero() {
		return 0, ErrZeroOpenPrice
	}

	exposure := decimal.NewFromInt(tradeAmount)

	var gross int64
	switch side {
	case model.SideLong:
		gross = ceilDiv(exposure.Mul(closePrice.Sub(openPrice)), openPrice)
	case model.SideShort:
		gross = floorDiv(exposure.Mul(openPrice.Sub(closePrice)), openPrice)
	default:
		return 0, fmt.Errorf("unknown side %q", side)
	}

	return gross - fee, nil
}

// ceilDiv and floorDiv divide exactly: the remainder decides the rounding step.
func ceilDiv(num, den decimal.Decimal) int64 {
	q, r := num.QuoRem(den, 0)
	if r.Sign()*den.Sign() > 0 {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.IntPart()
}

func floorDiv(num, den decimal.Decimal) int64 {
	q, r := num.QuoRem(den, 0)
	if r.Sign()*den.Sign() < 0 {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.IntPart()
}
