// Package domain contains persistence models for per-user usage accounting.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ResetWindow is the rolling window after which the daily counter lazily
// resets. There is no scheduled job; elapsed windows are detected at the
// next write or read.
const ResetWindow = 24 * time.Hour

// UsageRecord is the single usage row per (tenant, user). The daily limit is
// denormalized from the quota policy at window start so a policy change
// applies from the next window.
type UsageRecord struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	TenantID        string       `gorm:"not null;uniqueIndex:uq_usage_records_tenant_user"`
	UserID          string       `gorm:"not null;uniqueIndex:uq_usage_records_tenant_user"`
	SelectedAgent   *string      `gorm:"type:text"`
	FromOnboarding  bool         `gorm:"not null;default:false"`
	DailyUsageCount int          `gorm:"not null;default:0"`
	DailyLimit      int          `gorm:"not null;default:10"`
	LastUsageReset  time.Time    `gorm:"not null"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// WindowElapsed reports whether the record's window has passed as of now.
func (r UsageRecord) WindowElapsed(now time.Time) bool {
	return !r.LastUsageReset.After(now.Add(-ResetWindow))
}
