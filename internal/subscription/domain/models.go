// Package domain contains the subscription model mutated by billing events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusActive   = "ACTIVE"
	StatusTrialing = "TRIALING"
	StatusPastDue  = "PAST_DUE"
	StatusCanceled = "CANCELED"
)

type Subscription struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	TenantID               string       `gorm:"not null;index:idx_subscriptions_user"`
	UserID                 string       `gorm:"not null;index:idx_subscriptions_user"`
	PlanTier               string       `gorm:"not null"`
	Status                 string       `gorm:"not null"`
	ProviderCustomerID     string       `gorm:"type:text"`
	ProviderSubscriptionID string       `gorm:"type:text;index:idx_subscriptions_provider_sub"`
	CurrentPeriodEnd       *time.Time
	CreatedAt              time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// IsActive reports whether the subscription currently grants paid
// entitlements.
func (s Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}
