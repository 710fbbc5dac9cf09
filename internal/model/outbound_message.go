// internal/model/outbound_message.go
package model

import "time"

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
	MessageCancelled MessageStatus = "cancelled"
)

// Delivered reports whether the provider accepted the message. Receipts can
// arrive out of order, so delivered and read imply sent.
func (s MessageStatus) Delivered() bool {
	return s == MessageSent || s == MessageDelivered || s == MessageRead
}

// Rank orders progress statuses; a receipt never moves a message backwards.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageQueued:
		return 0
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return -1
}

// Active reports whether a message in this status blocks another message
// for the same campaign step and recipient.
func (s MessageStatus) Active() bool {
	return s != MessageFailed && s != MessageCancelled
}

// Metadata keys for channel specific fields.
const (
	MetaMediaURL     = "media_url"
	MetaMediaCaption = "media_caption"
	MetaMediaType    = "media_type"
	MetaDispatchRef  = "dispatch_ref"
)

type OutboundMessage struct {
	ID                int               `db:"id" json:"id"`
	TenantID          int               `db:"tenant_id" json:"tenant_id"`
	CampaignID        int               `db:"campaign_id" json:"campaign_id"`
	StepID            int               `db:"step_id" json:"step_id,omitempty"`
	RecipientID       int               `db:"recipient_id" json:"recipient_id"`
	Direction         Direction         `db:"direction" json:"direction"`
	Status            MessageStatus     `db:"status" json:"status"`
	Channel           Channel           `db:"channel" json:"channel"`
	ToAddress         string            `db:"to_address" json:"to_address"`
	Subject           string            `db:"subject" json:"subject,omitempty"`
	RenderedContent   string            `db:"rendered_content" json:"rendered_content"`
	Metadata          map[string]string `db:"metadata" json:"metadata,omitempty"`
	ProviderMessageID string            `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError         string            `db:"last_error,omitempty" json:"last_error,omitempty"`
	RetryCount        int               `db:"retry_count" json:"retry_count"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// DeliveryReceipt is a status update reported by the delivery subsystem.
type DeliveryReceipt struct {
	TenantID          int           `json:"tenant_id"`
	MessageID         int           `json:"message_id"`
	Status            MessageStatus `json:"status"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Error             string        `json:"error,omitempty"`
}
