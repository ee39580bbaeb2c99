// Package service exposes subscription reads and the mutations applied by
// admitted billing events.
package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/coreflow/usaged/internal/subscription/domain"
	"github.com/coreflow/usaged/internal/subscription/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	log  *zap.Logger
	repo *repository.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:  p.Log.Named("subscription.service"),
		repo: repository.New(p.DB, p.GenID),
	}
}

func (s *Service) GetActiveByUserID(ctx context.Context, tenantID, userID string) (*domain.Subscription, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidSubscription
	}
	return s.repo.FindActiveByUser(ctx, tenantID, userID)
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.Subscription, error) {
	if strings.TrimSpace(req.ProviderSubscriptionID) == "" {
		return nil, domain.ErrInvalidSubscription
	}
	if strings.TrimSpace(req.Status) == "" {
		req.Status = domain.StatusActive
	}

	sub, err := s.repo.Upsert(ctx, req)
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription upserted",
		zap.String("provider_subscription_id", req.ProviderSubscriptionID),
		zap.String("plan_tier", sub.PlanTier),
		zap.String("status", sub.Status),
	)
	return sub, nil
}

func (s *Service) UpdateStatusByProviderSubscriptionID(ctx context.Context, providerSubscriptionID, status string) error {
	if strings.TrimSpace(providerSubscriptionID) == "" {
		return domain.ErrInvalidSubscription
	}
	rows, err := s.repo.UpdateStatusByProviderSubscriptionID(ctx, providerSubscriptionID, status)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Service) UpdateStatusByProviderCustomerID(ctx context.Context, providerCustomerID, status string) error {
	if strings.TrimSpace(providerCustomerID) == "" {
		return domain.ErrInvalidSubscription
	}
	rows, err := s.repo.UpdateStatusByProviderCustomerID(ctx, providerCustomerID, status)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}
