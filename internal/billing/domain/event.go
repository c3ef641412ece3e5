package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event types emitted by the billing provider that the sync service
// understands. Anything else is acknowledged and ignored.
const (
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventTrialWillEnd         = "customer.subscription.trial_will_end"
)

// Event is a decoded provider webhook event. Payload keeps the raw
// object for fields we do not model.
type Event struct {
	ID      string
	Type    string
	Payload []byte

	// Fields lifted from the event object when present.
	CustomerID     string
	SubscriptionID string
	Status         string
}

// WebhookEvent is the persisted audit row for a received event.
type WebhookEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	ProviderEventID string         `gorm:"uniqueIndex;size:255" json:"provider_event_id"`
	Type            string         `gorm:"size:64;index" json:"type"`
	Payload         datatypes.JSON `json:"payload"`
	ReceivedAt      time.Time      `gorm:"autoCreateTime" json:"received_at"`
}

func (WebhookEvent) TableName() string { return "billing_webhook_events" }
