package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/coreflow/usaged/internal/billingevent/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ domain.Ledger = (*Repository)(nil)

func (r *Repository) Find(ctx context.Context, provider, providerEventID string) (*domain.BillingEvent, error) {
	var event domain.BillingEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// Insert writes the ledger row for a processed event. A false return means
// another delivery of the same provider event won the race.
func (r *Repository) Insert(ctx context.Context, event *domain.BillingEvent) (bool, error) {
	if strings.EqualFold(r.db.Dialector.Name(), "sqlite") {
		return r.insertSQLite(ctx, event)
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) insertSQLite(ctx context.Context, event *domain.BillingEvent) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO billing_events (
			id, provider, provider_event_id, event_type, payload,
			event_created_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.EventCreatedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
