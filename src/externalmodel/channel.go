package externalmodel

import (
	"time"

	"rektbot/src/model"
)

// InboundMessage is a command received from the command channel.
type InboundMessage struct {
	ID         string
	Author     string
	Content    string
	Mode       model.DeliveryMode
	ReceivedAt time.Time
}

// Reply is a message sent back to an owner.
type Reply struct {
	// ReplyTo is the id of the message being answered, empty for unsolicited notices.
	ReplyTo   string
	Recipient string
	Content   string
	Mode      model.DeliveryMode
}
