// Package bolt11 reads the amount encoded in the human readable part of a BOLT-11 invoice.
package bolt11

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidInvoice = errors.New("invalid bolt11 invoice")
	// ErrNoAmount is returned for "any amount" invoices.
	ErrNoAmount = errors.New("invoice has no amount")
)

// msat per unit of each multiplier; a bare amount is in BTC.
var multipliers = map[byte]int64{
	'm': 100_000_000, // milli-btc
	'u': 100_000,     // micro-btc
	'n': 100,         // nano-btc
}

const msatPerBTC = 100_000_000_000

// AmountMsat returns the invoice amount in millisatoshis.
func AmountMsat(invoice string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(invoice))
	s = strings.TrimPrefix(s, "lightning:")

	sep := strings.LastIndexByte(s, '1')
	if sep < 0 || !strings.HasPrefix(s, "ln") {
		return 0, ErrInvalidInvoice
	}
	hrp := s[2:sep]

	// skip the currency prefix: bc, tb, bcrt, tbs, sb
	i := 0
	for i < len(hrp) && (hrp[i] < '0' || hrp[i] > '9') {
		i++
	}
	if i == 0 {
		return 0, ErrInvalidInvoice
	}
	amount := hrp[i:]
	if amount == "" {
		return 0, ErrNoAmount
	}

	unit := amount[len(amount)-1]
	digits := amount
	if unit < '0' || unit > '9' {
		digits = amount[:len(amount)-1]
	} else {
		unit = 0
	}
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return 0, fmt.Errorf("%w: malformed amount %q", ErrInvalidInvoice, amount)
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}

	switch unit {
	case 0:
		return scale(n, msatPerBTC, amount)
	case 'p':
		// pico-btc is a tenth of a msat; sub-msat amounts are invalid
		if n%10 != 0 {
			return 0, fmt.Errorf("%w: sub-millisatoshi amount", ErrInvalidInvoice)
		}
		return n / 10, nil
	default:
		mul, ok := multipliers[unit]
		if !ok {
			return 0, fmt.Errorf("%w: unknown multiplier %q", ErrInvalidInvoice, unit)
		}
		return scale(n, mul, amount)
	}
}

func scale(n, mul int64, amount string) (int64, error) {
	if n > math.MaxInt64/mul {
		return 0, fmt.Errorf("%w: amount %q out of range", ErrInvalidInvoice, amount)
	}
	return n * mul, nil
}

// AmountSat returns the invoice amount in whole satoshis. Fractional amounts are rejected.
func AmountSat(invoice string) (int64, error) {
	msat, err := AmountMsat(invoice)
	if err != nil {
		return 0, err
	}
	if msat%1000 != 0 {
		return 0, fmt.Errorf("%w: amount %d msat is not a whole sat", ErrInvalidInvoice, msat)
	}
	return msat / 1000, nil
}

// LooksLikeInvoice is a cheap syntactic check used to route user input.
func LooksLikeInvoice(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "lightning:")
	return strings.HasPrefix(s, "lnbc") || strings.HasPrefix(s, "lntb") || strings.HasPrefix(s, "lnsb")
}
