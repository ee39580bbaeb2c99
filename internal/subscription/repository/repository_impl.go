// Package repository persists subscriptions with gorm.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coreflow/usaged/internal/subscription/domain"
	"gorm.io/gorm"
)

type Repository struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func New(db *gorm.DB, genID *snowflake.Node) *Repository {
	return &Repository{db: db, genID: genID}
}

func (r *Repository) FindActiveByUser(ctx context.Context, tenantID, userID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND status IN ?",
			tenantID, userID, []string{domain.StatusActive, domain.StatusTrialing}).
		Order("updated_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *Repository) FindByProviderSubscriptionID(ctx context.Context, providerSubscriptionID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := r.db.WithContext(ctx).
		Where("provider_subscription_id = ?", providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *Repository) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.Subscription, error) {
	now := time.Now().UTC()

	existing, err := r.FindByProviderSubscriptionID(ctx, req.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		sub := &domain.Subscription{
			ID:                     r.genID.Generate(),
			TenantID:               req.TenantID,
			UserID:                 req.UserID,
			PlanTier:               req.PlanTier,
			Status:                 req.Status,
			ProviderCustomerID:     req.ProviderCustomerID,
			ProviderSubscriptionID: req.ProviderSubscriptionID,
			CurrentPeriodEnd:       req.CurrentPeriodEnd,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
			return nil, err
		}
		return sub, nil
	}

	updates := map[string]any{
		"plan_tier":  req.PlanTier,
		"status":     req.Status,
		"updated_at": now,
	}
	if req.ProviderCustomerID != "" {
		updates["provider_customer_id"] = req.ProviderCustomerID
	}
	if req.CurrentPeriodEnd != nil {
		updates["current_period_end"] = req.CurrentPeriodEnd
	}
	if strings.TrimSpace(req.TenantID) != "" {
		updates["tenant_id"] = req.TenantID
	}
	if strings.TrimSpace(req.UserID) != "" {
		updates["user_id"] = req.UserID
	}
	err = r.db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error
	if err != nil {
		return nil, err
	}
	return r.FindByProviderSubscriptionID(ctx, req.ProviderSubscriptionID)
}

func (r *Repository) UpdateStatusByProviderSubscriptionID(ctx context.Context, providerSubscriptionID, status string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("provider_subscription_id = ?", providerSubscriptionID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

func (r *Repository) UpdateStatusByProviderCustomerID(ctx context.Context, providerCustomerID, status string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("provider_customer_id = ?", providerCustomerID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}
