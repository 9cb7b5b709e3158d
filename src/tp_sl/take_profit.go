package tp_sl

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"rektbot/src/model"
)

// TakeProfitConfig is the guard-band policy applied before a position is opened.
type TakeProfitConfig struct {
	// GuardBand is the minimum distance between the mark price and a take-profit.
	GuardBand decimal.Decimal
	// MinOffset and MaxOffset bound the relative distance of a randomized take-profit.
	MinOffset decimal.Decimal
	MaxOffset decimal.Decimal
}

func DefaultTakeProfitConfig() TakeProfitConfig {
	return TakeProfitConfig{
		GuardBand: decimal.NewFromInt(100),
		MinOffset: decimal.RequireFromString("0.005"),
		MaxOffset: decimal.RequireFromString("0.03"),
	}
}

// TakeProfit is the outcome of the policy for one order.
type TakeProfit struct {
	// Assigned is set when the policy picked a new value that must be persisted on the order.
	Assigned decimal.NullDecimal
	// Venue is the take-profit to send with the open request, invalid when none is sent.
	Venue decimal.NullDecimal
}

// WithinGuardBand reports whether tp is too close to price to be honored.
func WithinGuardBand(price, tp, band decimal.Decimal) bool {
	return tp.Sub(price).Abs().LessThan(band)
}

// ResolveTakeProfit applies the guard band to the requested take-profit. A missing or too close
// request is replaced by price*(1+d) for longs or price*(1-d) for shorts, d drawn uniformly from
// [MinOffset, MaxOffset]. The replacement is checked against the band again and withheld from
// the venue when it still falls inside.
func ResolveTakeProfit(
	side model.Side,
	price decimal.Decimal,
	requested decimal.NullDecimal,
	cfg TakeProfitConfig,
	rnd *rand.Rand,
) TakeProfit {
	if requested.Valid && !WithinGuardBand(price, requested.Decimal, cfg.GuardBand) {
		return TakeProfit{Venue: requested}
	}

	offset := randomOffset(cfg, rnd)
	one := decimal.NewFromInt(1)

	var tp decimal.Decimal
	if side == model.SideShort {
		tp = price.Mul(one.Sub(offset))
	} else {
		tp = price.Mul(one.Add(offset))
	}
	tp = tp.Round(0)

	out := TakeProfit{Assigned: decimal.NewNullDecimal(tp)}
	if !WithinGuardBand(price, tp, cfg.GuardBand) {
		out.Venue = out.Assigned
	}
	return out
}

func randomOffset(cfg TakeProfitConfig, rnd *rand.Rand) decimal.Decimal {
	span := cfg.MaxOffset.Sub(cfg.MinOffset)
	if span.IsNegative() {
		span = decimal.Zero
	}

	var f float64
	if rnd != nil {
		f = rnd.Float64()
	} else {
		f = rand.Float64()
	}

	return cfg.MinOffset.Add(span.Mul(decimal.NewFromFloat(f)))
}
