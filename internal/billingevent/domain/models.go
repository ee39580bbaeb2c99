// Package domain defines the billing-event ledger and the provider event
// model the webhook pipeline admits events through.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BillingEvent is one admitted provider event. A row exists only for events
// whose side effects were applied; the (provider, provider_event_id) unique
// constraint is the dedup boundary for redeliveries.
type BillingEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"not null;uniqueIndex:uq_billing_events_provider_event"`
	ProviderEventID string         `gorm:"not null;uniqueIndex:uq_billing_events_provider_event"`
	EventType       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	EventCreatedAt  time.Time      `gorm:"not null"`
	ProcessedAt     time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }

const (
	EventTypePaymentSucceeded    = "payment.succeeded"
	EventTypePaymentFailed       = "payment.failed"
	EventTypeSubscriptionCreated = "subscription.created"
	EventTypeSubscriptionUpdated = "subscription.updated"
	EventTypeSubscriptionDeleted = "subscription.deleted"
	EventTypeInvoicePaid         = "invoice.paid"
)

// ProviderEvent is the provider-agnostic event an adapter parses a webhook
// payload into. Type selects which of the optional fields carry meaning.
type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	Type            string

	TenantID string
	UserID   string
	PlanTier string

	ProviderCustomerID     string
	ProviderSubscriptionID string
	Status                 string
	CurrentPeriodEnd       *time.Time

	CreatedAt  time.Time
	RawPayload []byte
}
