// Package repository implements the store-backed usage counter.
//
// Every mutation is a single conditional statement so two racing requests
// can never both take the last slot of a window. The protocol per attempt:
//
//  1. reset claim:   set count=1 when the stored window has elapsed
//  2. bounded increment: count+1 only while count < the effective policy
//     limit (or unlimited), refreshing the stored limit as it goes
//  3. neither matched: the row either does not exist (insert count=1) or
//     the allowance is consumed (report exceeded, no write)
//
// The effective limit is evaluated on every attempt, so a plan change
// applies mid-window: an upgrade to an unlimited tier lifts the cap on the
// very next usage.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coreflow/usaged/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCounterContention is returned when both protocol attempts lost their
// insert race. Callers treat it as a transient infrastructure failure.
var ErrCounterContention = errors.New("usage_counter_contention")

type Repository struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func New(db *gorm.DB, log *zap.Logger, genID *snowflake.Node) *Repository {
	return &Repository{
		db:    db,
		log:   log.Named("usage.repository"),
		genID: genID,
	}
}

var _ domain.Counter = (*Repository)(nil)

func (r *Repository) RecordUsage(ctx context.Context, key domain.CounterKey, limit int, now time.Time) (domain.RecordOutcome, error) {
	if err := validateKey(key); err != nil {
		return domain.RecordOutcome{}, err
	}
	now = now.UTC()
	cutoff := now.Add(-domain.ResetWindow)

	for attempt := 0; attempt < 2; attempt++ {
		// Step 1: claim an elapsed window. Winning this statement both
		// resets the counter and records this usage as the first unit.
		// The limit is refreshed from the policy at window start.
		res := r.db.WithContext(ctx).Exec(
			`UPDATE usage_records
			 SET daily_usage_count = 1, daily_limit = ?, last_usage_reset = ?, updated_at = ?
			 WHERE tenant_id = ? AND user_id = ? AND last_usage_reset <= ?`,
			limit, now, now, key.TenantID, key.UserID, cutoff,
		)
		if res.Error != nil {
			return domain.RecordOutcome{}, res.Error
		}
		if res.RowsAffected == 1 {
			return domain.RecordOutcome{Current: 1, Limit: limit, WasReset: true}, nil
		}

		// Step 2: increment inside the window, bounded by the effective
		// policy limit, not the stored one, so an upgrade takes effect
		// immediately. A negative limit means unlimited. The stored limit
		// is refreshed on the way so status reads agree.
		res = r.db.WithContext(ctx).Exec(
			`UPDATE usage_records
			 SET daily_usage_count = daily_usage_count + 1, daily_limit = ?, updated_at = ?
			 WHERE tenant_id = ? AND user_id = ?
			   AND (? < 0 OR daily_usage_count < ?)`,
			limit, now, key.TenantID, key.UserID, limit, limit,
		)
		if res.Error != nil {
			return domain.RecordOutcome{}, res.Error
		}
		if res.RowsAffected == 1 {
			record, err := r.Get(ctx, key)
			if err != nil {
				return domain.RecordOutcome{}, err
			}
			if record == nil {
				return domain.RecordOutcome{}, ErrCounterContention
			}
			return domain.RecordOutcome{
				Current: record.DailyUsageCount,
				Limit:   record.DailyLimit,
			}, nil
		}

		// Step 3: no statement matched. Either the allowance is consumed
		// or the row does not exist yet.
		record, err := r.Get(ctx, key)
		if err != nil {
			return domain.RecordOutcome{}, err
		}
		if record != nil {
			return domain.RecordOutcome{
				Exceeded: true,
				Current:  record.DailyUsageCount,
				Limit:    limit,
			}, nil
		}

		inserted, err := r.insertFresh(ctx, key, nil, false, limit, 1, now)
		if err != nil {
			return domain.RecordOutcome{}, err
		}
		if inserted {
			return domain.RecordOutcome{Current: 1, Limit: limit}, nil
		}
		// Lost the insert race; the row exists now, retry the protocol.
	}

	return domain.RecordOutcome{}, ErrCounterContention
}

func (r *Repository) Peek(ctx context.Context, key domain.CounterKey, now time.Time) (domain.PeekView, error) {
	record, err := r.Get(ctx, key)
	if err != nil {
		return domain.PeekView{}, err
	}
	if record == nil {
		return domain.PeekView{}, nil
	}

	view := domain.PeekView{
		Exists:         true,
		SelectedAgent:  record.SelectedAgent,
		FromOnboarding: record.FromOnboarding,
		Current:        record.DailyUsageCount,
		Limit:          record.DailyLimit,
		LastReset:      record.LastUsageReset,
	}
	// Advisory as-if-reset: an elapsed window reads as zero usage even
	// though nothing was written. The next RecordUsage persists the reset.
	if record.WindowElapsed(now.UTC()) {
		view.Current = 0
		view.WindowElapsed = true
	}
	return view, nil
}

func (r *Repository) Get(ctx context.Context, key domain.CounterKey) (*domain.UsageRecord, error) {
	var record domain.UsageRecord
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", key.TenantID, key.UserID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// SetSelectedAgent stores the user's agent choice. Switching agents never
// touches the usage counter.
func (r *Repository) SetSelectedAgent(ctx context.Context, key domain.CounterKey, agentKey string, fromOnboarding bool, limit int, now time.Time) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	now = now.UTC()

	record, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}

	if record == nil {
		inserted, err := r.insertFresh(ctx, key, &agentKey, fromOnboarding, limit, 0, now)
		if err != nil {
			return false, err
		}
		if inserted {
			return true, nil
		}
		// Raced with another creator; fall through to the update path.
	}

	// First selection only when no agent was stored yet. The IS NULL guard
	// makes the claim atomic under concurrent first selections.
	res := r.db.WithContext(ctx).Exec(
		`UPDATE usage_records
		 SET selected_agent = ?, from_onboarding = ?, updated_at = ?
		 WHERE tenant_id = ? AND user_id = ? AND selected_agent IS NULL`,
		agentKey, fromOnboarding, now, key.TenantID, key.UserID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = r.db.WithContext(ctx).Exec(
		`UPDATE usage_records SET selected_agent = ?, updated_at = ?
		 WHERE tenant_id = ? AND user_id = ?`,
		agentKey, now, key.TenantID, key.UserID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return false, nil
}

func (r *Repository) insertFresh(ctx context.Context, key domain.CounterKey, agentKey *string, fromOnboarding bool, limit, count int, now time.Time) (bool, error) {
	record := &domain.UsageRecord{
		ID:              r.genID.Generate(),
		TenantID:        key.TenantID,
		UserID:          key.UserID,
		SelectedAgent:   agentKey,
		FromOnboarding:  fromOnboarding,
		DailyUsageCount: count,
		DailyLimit:      limit,
		LastUsageReset:  now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if strings.EqualFold(r.db.Dialector.Name(), "sqlite") {
		return r.insertFreshSQLite(ctx, record)
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) insertFreshSQLite(ctx context.Context, record *domain.UsageRecord) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (
			id, tenant_id, user_id, selected_agent, from_onboarding,
			daily_usage_count, daily_limit, last_usage_reset, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, user_id) DO NOTHING`,
		record.ID,
		record.TenantID,
		record.UserID,
		record.SelectedAgent,
		record.FromOnboarding,
		record.DailyUsageCount,
		record.DailyLimit,
		record.LastUsageReset,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func validateKey(key domain.CounterKey) error {
	if strings.TrimSpace(key.TenantID) == "" {
		return domain.ErrInvalidTenant
	}
	if strings.TrimSpace(key.UserID) == "" {
		return domain.ErrInvalidUser
	}
	return nil
}
