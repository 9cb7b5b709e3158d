package model

import "time"

// Exception is an unexpected error persisted for later inspection.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service string `gorm:"size:100;index" json:"service"` // e.g. "rektbot"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "engine"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "openPosition"

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // debug | info | warn | error | fatal

	// JSON encoded context; text so that sqlite and postgres both accept it.
	Context string `gorm:"type:text" json:"context,omitempty"`

	OrderID string `gorm:"size:64;index" json:"order_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
