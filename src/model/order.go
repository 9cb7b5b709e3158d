package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusNew               Status = "new"
	StatusUnpaid            Status = "unpaid"
	StatusPaid              Status = "paid"
	StatusExpired           Status = "expired"
	StatusFunding           Status = "funding"
	StatusFunded            Status = "funded"
	StatusFundingFail       Status = "funding_fail"
	StatusOpen              Status = "open"
	StatusClosed            Status = "closed"
	StatusWithdrawRequested Status = "withdraw_requested"
	StatusWithdrawDone      Status = "withdraw_done"
	StatusWithdrawFailed    Status = "withdraw_failed"
	StatusLiquidated        Status = "liquidated"
)

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusExpired, StatusFundingFail, StatusWithdrawDone, StatusLiquidated:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusUnpaid, StatusPaid, StatusExpired, StatusFunding, StatusFunded,
		StatusFundingFail, StatusOpen, StatusClosed, StatusWithdrawRequested,
		StatusWithdrawDone, StatusWithdrawFailed, StatusLiquidated:
		return true
	}
	return false
}

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// DeliveryMode selects how replies reach the owner.
type DeliveryMode string

const (
	DeliveryBroadcast DeliveryMode = "broadcast"
	DeliveryPrivate   DeliveryMode = "private"
)

// Order is one accepted position request, keyed by the id of the command message that created it.
type Order struct {
	ID              string              `gorm:"primaryKey;size:64" json:"id"`
	Owner           string              `gorm:"size:64;not null;index" json:"owner"`
	Side            Side                `gorm:"size:10;not null" json:"side"`
	RequestedAmount int64               `gorm:"not null" json:"requested_amount"`
	Leverage        int64               `gorm:"not null" json:"leverage"`
	TakeProfit      decimal.NullDecimal `gorm:"type:numeric" json:"take_profit"`
	Status          Status              `gorm:"size:30;not null;index;default:new" json:"status"`
	DeliveryMode    DeliveryMode        `gorm:"size:20;not null;default:broadcast" json:"delivery_mode"`

	// Rail invoice collecting the requested amount.
	Invoice     string `gorm:"type:text" json:"invoice,omitempty"`
	PaymentHash string `gorm:"size:64" json:"payment_hash,omitempty"`

	Fee         int64 `json:"fee"`
	Margin      int64 `json:"margin"`
	TradeAmount int64 `json:"trade_amount"`

	OpenPrice  decimal.Decimal `gorm:"type:numeric" json:"open_price"`
	ClosePrice decimal.Decimal `gorm:"type:numeric" json:"close_price"`
	Profit     int64           `json:"profit"`
	ProfitSet  bool            `gorm:"not null;default:false" json:"profit_set"`

	SettlementID    string `gorm:"size:100" json:"settlement_id,omitempty"`
	VenuePositionID string `gorm:"size:100;index" json:"venue_position_id,omitempty"`
	WithdrawalID    string `gorm:"size:36;index" json:"withdrawal_id,omitempty"`

	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// Balance is what the owner gets back: the requested amount plus the net profit.
// Meaningful only once the profit is set.
func (o *Order) Balance() int64 {
	return o.RequestedAmount + o.Profit
}
