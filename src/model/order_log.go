package model

import "time"

// OrderLog is an append-only audit row written with every status transition.
type OrderLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	OrderID string `gorm:"size:64;index" json:"order_id"`
	Order   *Order `gorm:"constraint:OnDelete:CASCADE" json:"order,omitempty"`

	From Status `gorm:"size:30" json:"from"`
	To   Status `gorm:"size:30;not null" json:"to"`

	// Free-form note, e.g. the venue position id or the batch a withdrawal belongs to.
	Note string `gorm:"size:255" json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (OrderLog) TableName() string {
	return "order_logs"
}
