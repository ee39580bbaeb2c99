package domain

import (
	"context"
	"errors"
	"time"
)

// UpsertRequest carries provider subscription state into the store. Matching
// is by provider subscription ID.
type UpsertRequest struct {
	TenantID               string
	UserID                 string
	PlanTier               string
	Status                 string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	CurrentPeriodEnd       *time.Time
}

type Service interface {
	// GetActiveByUserID returns the user's active paid subscription, or nil
	// when the user is on the free tier.
	GetActiveByUserID(ctx context.Context, tenantID, userID string) (*Subscription, error)

	Upsert(ctx context.Context, req UpsertRequest) (*Subscription, error)
	UpdateStatusByProviderSubscriptionID(ctx context.Context, providerSubscriptionID, status string) error
	UpdateStatusByProviderCustomerID(ctx context.Context, providerCustomerID, status string) error
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
)
