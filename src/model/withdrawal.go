package model

import "time"

type WithdrawalMode string

const (
	WithdrawalModeAddress WithdrawalMode = "address"
	WithdrawalModeInvoice WithdrawalMode = "invoice"
)

type WithdrawalStatus string

const (
	WithdrawalPending WithdrawalStatus = "pending"
	WithdrawalDone    WithdrawalStatus = "done"
	WithdrawalFailed  WithdrawalStatus = "failed"
	// WithdrawalInterrupted marks a batch whose payout was in flight when the process stopped.
	WithdrawalInterrupted WithdrawalStatus = "interrupted"
)

// Withdrawal is one payout batch dispatched for an owner.
type Withdrawal struct {
	ID      string           `gorm:"primaryKey;size:36" json:"id"`
	Owner   string           `gorm:"size:64;not null;index" json:"owner"`
	Amount  int64            `gorm:"not null" json:"amount"`
	Mode    WithdrawalMode   `gorm:"size:20;not null" json:"mode"`
	Target  string           `gorm:"type:text" json:"target"`
	Invoice string           `gorm:"type:text" json:"invoice"`
	Status  WithdrawalStatus `gorm:"size:20;not null;index" json:"status"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}
