package mapper

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"rektbot/src/externalmodel"
)

// ErrMissingField is returned when a venue answer lacks a field the order lifecycle needs.
var ErrMissingField = errors.New("venue response is missing a required field")

// MapLNMarketsOpenedTrade converts the answer of a futures open into the position fields
// recorded on an order. trade_amount is floor(margin * leverage).
func MapLNMarketsOpenedTrade(trade *externalmodel.LNMarketsFuturesTrade) (externalmodel.OpenedPosition, error) {
	if trade == nil {
		return externalmodel.OpenedPosition{}, fmt.Errorf("%w: empty trade", ErrMissingField)
	}
	if trade.ID == nil || *trade.ID == "" {
		return externalmodel.OpenedPosition{}, fmt.Errorf("%w: id", ErrMissingField)
	}

	price := trade.Price
	if price == nil || *price <= 0 {
		price = trade.EntryPrice
	}
	if price == nil || *price <= 0 {
		return externalmodel.OpenedPosition{}, fmt.Errorf("%w: price of trade %s", ErrMissingField, *trade.ID)
	}
	if trade.Margin == nil {
		return externalmodel.OpenedPosition{}, fmt.Errorf("%w: margin of trade %s", ErrMissingField, *trade.ID)
	}
	if trade.Leverage == nil || *trade.Leverage <= 0 {
		return externalmodel.OpenedPosition{}, fmt.Errorf("%w: leverage of trade %s", ErrMissingField, *trade.ID)
	}

	var fee int64
	if trade.OpeningFee != nil {
		fee = *trade.OpeningFee
	}

	pos := externalmodel.OpenedPosition{
		ID:          *trade.ID,
		Price:       decimal.NewFromFloat(*price),
		Fee:         fee,
		Margin:      *trade.Margin,
		TradeAmount: int64(math.Floor(float64(*trade.Margin) * *trade.Leverage)),
	}

	logger.WithFields(map[string]interface{}{
		"mapper":       "MapLNMarketsOpenedTrade",
		"position_id":  pos.ID,
		"price":        pos.Price.String(),
		"margin":       pos.Margin,
		"trade_amount": pos.TradeAmount,
	}).Debug("LN Markets trade mapped to position")

	return pos, nil
}

// MapLNMarketsClosedTrades keeps the closed trades whose id is known. A trade without an exit
// price is returned with a zero price so the caller can retry later.
func MapLNMarketsClosedTrades(trades []externalmodel.LNMarketsFuturesTrade) []externalmodel.ClosedPosition {
	out := make([]externalmodel.ClosedPosition, 0, len(trades))
	for _, t := range trades {
		if t.ID == nil || *t.ID == "" {
			logger.WithField("mapper", "MapLNMarketsClosedTrades").Warn("closed trade without id skipped")
			continue
		}
		p := externalmodel.ClosedPosition{ID: *t.ID, PL: t.PL}
		if t.ExitPrice != nil {
			p.ExitPrice = decimal.NewFromFloat(*t.ExitPrice)
		}
		out = append(out, p)
	}
	return out
}
