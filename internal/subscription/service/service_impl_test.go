package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coreflow/usaged/internal/subscription/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const subscriptionsDDL = `
CREATE TABLE subscriptions (
	id INTEGER PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	plan_tier TEXT NOT NULL,
	status TEXT NOT NULL,
	provider_customer_id TEXT,
	provider_subscription_id TEXT,
	current_period_end DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`

func setupService(t *testing.T) domain.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(subscriptionsDDL).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParam{DB: conn, Log: zap.NewNop(), GenID: node})
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	svc := setupService(t)
	periodEnd := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)

	sub, err := svc.Upsert(context.Background(), domain.UpsertRequest{
		TenantID:               "ten_1",
		UserID:                 "usr_1",
		PlanTier:               "PRO",
		Status:                 domain.StatusActive,
		ProviderCustomerID:     "cus_1",
		ProviderSubscriptionID: "sub_1",
		CurrentPeriodEnd:       &periodEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, "PRO", sub.PlanTier)
	assert.True(t, sub.IsActive())

	sub, err = svc.Upsert(context.Background(), domain.UpsertRequest{
		PlanTier:               "ENTERPRISE",
		Status:                 domain.StatusActive,
		ProviderSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ENTERPRISE", sub.PlanTier)
	assert.Equal(t, "ten_1", sub.TenantID, "existing identity survives partial updates")
	assert.Equal(t, "cus_1", sub.ProviderCustomerID)
}

func TestUpsertRequiresProviderSubscriptionID(t *testing.T) {
	svc := setupService(t)

	_, err := svc.Upsert(context.Background(), domain.UpsertRequest{PlanTier: "PRO"})
	assert.ErrorIs(t, err, domain.ErrInvalidSubscription)
}

func TestGetActiveByUserID(t *testing.T) {
	svc := setupService(t)

	sub, err := svc.GetActiveByUserID(context.Background(), "ten_1", "usr_1")
	require.NoError(t, err)
	assert.Nil(t, sub, "free users have no subscription row")

	_, err = svc.Upsert(context.Background(), domain.UpsertRequest{
		TenantID:               "ten_1",
		UserID:                 "usr_1",
		PlanTier:               "PRO",
		Status:                 domain.StatusActive,
		ProviderSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	sub, err = svc.GetActiveByUserID(context.Background(), "ten_1", "usr_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "PRO", sub.PlanTier)

	require.NoError(t, svc.UpdateStatusByProviderSubscriptionID(context.Background(), "sub_1", domain.StatusCanceled))

	sub, err = svc.GetActiveByUserID(context.Background(), "ten_1", "usr_1")
	require.NoError(t, err)
	assert.Nil(t, sub, "canceled subscriptions do not grant entitlements")
}

func TestUpdateStatusUnknownSubscription(t *testing.T) {
	svc := setupService(t)

	err := svc.UpdateStatusByProviderSubscriptionID(context.Background(), "sub_missing", domain.StatusCanceled)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	err = svc.UpdateStatusByProviderCustomerID(context.Background(), "cus_missing", domain.StatusPastDue)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}
