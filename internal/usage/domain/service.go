package domain

import (
	"context"
	"errors"
	"time"
)

type SelectAgentRequest struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id"`
	AgentKey       string `json:"agent"`
	FromOnboarding bool   `json:"from_onboarding"`
}

type SelectAgentResult struct {
	SelectedAgent  string `json:"selected_agent"`
	FirstSelection bool   `json:"is_first_selection"`
}

type StatusRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// Status is a read-derived view. Nothing here is stored; in particular
// blocked-ness is computed from the counter and the policy on every read.
type Status struct {
	PlanTier            string     `json:"plan_tier"`
	SubscriptionStatus  string     `json:"subscription_status"`
	SelectedAgent       *string    `json:"selected_agent"`
	NeedsAgentSelection bool       `json:"needs_agent_selection"`
	DailyUsageCount     int        `json:"daily_usage_count"`
	DailyLimit          int        `json:"daily_limit"`
	Remaining           int        `json:"remaining"`
	CanUseFeature       bool       `json:"can_use_feature"`
	LastUsageReset      *time.Time `json:"last_usage_reset,omitempty"`
}

type TrackUsageRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`

	// Feature and Module describe what consumed the unit. They are carried
	// for logging only; the counter is per user, not per feature.
	Feature string `json:"feature,omitempty"`
	Module  string `json:"module,omitempty"`
}

// TrackResult reports the outcome of one usage attempt. Quota exhaustion is
// a value, not an error: Rejected is expected control flow and must never be
// confused with infrastructure failures.
type TrackResult struct {
	Rejected      bool `json:"-"`
	ShouldUpgrade bool `json:"should_upgrade,omitempty"`
	Current       int  `json:"current"`
	Limit         int  `json:"limit"`
	Remaining     int  `json:"remaining"`
	WasReset      bool `json:"was_reset"`
}

type Service interface {
	SelectAgent(context.Context, SelectAgentRequest) (SelectAgentResult, error)
	GetStatus(context.Context, StatusRequest) (Status, error)
	TrackUsage(context.Context, TrackUsageRequest) (TrackResult, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidAgent  = errors.New("invalid_agent")
)
