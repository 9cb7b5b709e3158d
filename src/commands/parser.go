// Package commands parses owner messages into bot commands.
//
// Grammar, case insensitive, anywhere in the message after any mentions:
//
//	long|short <sats> [x<leverage>] [tp <price>]
//	withdraw [<bolt11> | <name@domain>]
//	status
//	help
package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"rektbot/src/model"
)

var (
	// ErrNoCommand means the message carries no known keyword.
	ErrNoCommand = errors.New("no command found")
	ErrMalformed = errors.New("malformed command")
)

type Kind string

const (
	KindOpen     Kind = "open"
	KindWithdraw Kind = "withdraw"
	KindStatus   Kind = "status"
	KindHelp     Kind = "help"
)

type Command struct {
	Kind Kind

	Side   model.Side
	Amount int64
	// Leverage is zero when the message does not name one.
	Leverage   int64
	TakeProfit decimal.NullDecimal

	// Target is the payout destination of a withdraw command, empty when none was given.
	Target string
}

func Parse(content string) (Command, error) {
	tokens := tokenize(content)

	for i, tok := range tokens {
		switch strings.ToLower(tok) {
		case "long":
			return parseOpen(model.SideLong, tokens[i+1:])
		case "short":
			return parseOpen(model.SideShort, tokens[i+1:])
		case "withdraw":
			cmd := Command{Kind: KindWithdraw}
			if i+1 < len(tokens) {
				cmd.Target = tokens[i+1]
			}
			return cmd, nil
		case "status":
			return Command{Kind: KindStatus}, nil
		case "help":
			return Command{Kind: KindHelp}, nil
		}
	}
	return Command{}, ErrNoCommand
}

func parseOpen(side model.Side, args []string) (Command, error) {
	cmd := Command{Kind: KindOpen, Side: side}
	if len(args) == 0 {
		return cmd, fmt.Errorf("%w: %s needs an amount in sats", ErrMalformed, side)
	}

	amount, err := strconv.ParseInt(strings.ReplaceAll(args[0], "_", ""), 10, 64)
	if err != nil || amount <= 0 {
		return cmd, fmt.Errorf("%w: amount %q is not a positive number of sats", ErrMalformed, args[0])
	}
	cmd.Amount = amount

	for i := 1; i < len(args); i++ {
		arg := strings.ToLower(args[i])
		switch {
		case strings.HasPrefix(arg, "x") && len(arg) > 1:
			lev, err := strconv.ParseInt(arg[1:], 10, 64)
			if err != nil || lev <= 0 {
				return cmd, fmt.Errorf("%w: leverage %q", ErrMalformed, args[i])
			}
			cmd.Leverage = lev

		case arg == "tp":
			if i+1 >= len(args) {
				return cmd, fmt.Errorf("%w: tp needs a price", ErrMalformed)
			}
			price, err := decimal.NewFromString(args[i+1])
			if err != nil || !price.IsPositive() {
				return cmd, fmt.Errorf("%w: take-profit %q", ErrMalformed, args[i+1])
			}
			cmd.TakeProfit = decimal.NewNullDecimal(price)
			i++

		default:
			// free text after the command is ignored
			return cmd, nil
		}
	}
	return cmd, nil
}

// tokenize splits on whitespace and drops mentions.
func tokenize(content string) []string {
	fields := strings.Fields(content)
	out := fields[:0]
	for _, f := range fields {
		lower := strings.ToLower(f)
		if strings.HasPrefix(lower, "nostr:") || strings.HasPrefix(lower, "#[") {
			continue
		}
		if strings.HasPrefix(f, "@") && len(f) > 1 {
			continue
		}
		out = append(out, f)
	}
	return out
}
