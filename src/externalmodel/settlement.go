package externalmodel

import "github.com/shopspring/decimal"

// InvoiceStatus mirrors the rail's view of an invoice.
type InvoiceStatus string

const (
	InvoiceUnpaid   InvoiceStatus = "unpaid"
	InvoicePaid     InvoiceStatus = "paid"
	InvoiceExpired  InvoiceStatus = "expired"
	InvoiceNotFound InvoiceStatus = "not_found"
)

type Invoice struct {
	Bolt11      string
	PaymentHash string
	Label       string
	ExpiresAt   int64
}

// Deposit is a venue funding request: pay Invoice to credit the venue account.
type Deposit struct {
	Invoice      string
	SettlementID string
}

type OpenPositionRequest struct {
	Side     string // "long" | "short"
	Margin   int64
	Leverage int64
	// TakeProfit is zero when no take-profit is sent.
	TakeProfit decimal.Decimal
}

// OpenedPosition is the subset of the venue's answer the lifecycle needs.
type OpenedPosition struct {
	ID          string
	Price       decimal.Decimal
	Fee         int64
	Margin      int64
	TradeAmount int64
}

type ClosedPosition struct {
	ID        string
	ExitPrice decimal.Decimal
	PL        int64
}

// PayRequest is a resolved LUD-16 pay endpoint.
type PayRequest struct {
	Address     string
	Callback    string
	MinSendable int64 // msat
	MaxSendable int64 // msat
}
