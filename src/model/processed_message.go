package model

import "time"

// ProcessedMessage marks an inbound command message as handled.
type ProcessedMessage struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Author    string    `gorm:"size:64" json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

func (ProcessedMessage) TableName() string {
	return "processed_messages"
}
