package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coreflow/usaged/internal/usage/domain"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const usageRecordsDDL = `
CREATE TABLE usage_records (
	id INTEGER PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	selected_agent TEXT,
	from_onboarding INTEGER NOT NULL DEFAULT 0,
	daily_usage_count INTEGER NOT NULL DEFAULT 0,
	daily_limit INTEGER NOT NULL DEFAULT 10,
	last_usage_reset DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (tenant_id, user_id)
)`

func setupRepo(t *testing.T) *Repository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection serializes writers; the protocol's guarantees come
	// from single-statement atomicity, not from connection scheduling.
	sqlDB.SetMaxOpenConns(1)

	if err := conn.Exec(usageRecordsDDL).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return New(conn, zap.NewNop(), node)
}

func testKey() domain.CounterKey {
	return domain.CounterKey{TenantID: "ten_1", UserID: "usr_1"}
}

func TestRecordUsageCreatesFreshRecord(t *testing.T) {
	repo := setupRepo(t)
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	outcome, err := repo.RecordUsage(context.Background(), testKey(), 10, now)
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if outcome.Exceeded {
		t.Fatalf("fresh record should not be exceeded")
	}
	if outcome.Current != 1 {
		t.Fatalf("expected current 1, got %d", outcome.Current)
	}
	if outcome.WasReset {
		t.Fatalf("fresh insert is not a reset")
	}
	if outcome.Remaining() != 9 {
		t.Fatalf("expected remaining 9, got %d", outcome.Remaining())
	}
}

func TestRecordUsageBoundedByLimit(t *testing.T) {
	repo := setupRepo(t)
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	key := testKey()

	for i := 1; i <= 10; i++ {
		outcome, err := repo.RecordUsage(context.Background(), key, 10, now)
		if err != nil {
			t.Fatalf("record usage %d: %v", i, err)
		}
		if outcome.Exceeded {
			t.Fatalf("usage %d unexpectedly exceeded", i)
		}
		if outcome.Current != i {
			t.Fatalf("usage %d: expected current %d, got %d", i, i, outcome.Current)
		}
	}

	outcome, err := repo.RecordUsage(context.Background(), key, 10, now)
	if err != nil {
		t.Fatalf("record usage over limit: %v", err)
	}
	if !outcome.Exceeded {
		t.Fatalf("expected quota exceeded")
	}
	if outcome.Current != 10 {
		t.Fatalf("rejection must not mutate the counter, got current %d", outcome.Current)
	}
	if outcome.Remaining() != 0 {
		t.Fatalf("expected remaining 0, got %d", outcome.Remaining())
	}
}

func TestRecordUsageLazyResetAfterWindow(t *testing.T) {
	repo := setupRepo(t)
	key := testKey()
	start := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		if _, err := repo.RecordUsage(context.Background(), key, 10, start); err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}

	later := start.Add(25 * time.Hour)
	outcome, err := repo.RecordUsage(context.Background(), key, 10, later)
	if err != nil {
		t.Fatalf("record usage after window: %v", err)
	}
	if !outcome.WasReset {
		t.Fatalf("expected window reset")
	}
	if outcome.Current != 1 {
		t.Fatalf("reset claim records the first unit, got %d", outcome.Current)
	}

	record, err := repo.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !record.LastUsageReset.Equal(later) {
		t.Fatalf("expected last reset %v, got %v", later, record.LastUsageReset)
	}
}

func TestRecordUsageResetRefreshesLimit(t *testing.T) {
	repo := setupRepo(t)
	key := testKey()
	start := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	if _, err := repo.RecordUsage(context.Background(), key, 10, start); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	// Policy changed between windows; the new limit applies from the reset.
	outcome, err := repo.RecordUsage(context.Background(), key, 20, start.Add(domain.ResetWindow))
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if !outcome.WasReset {
		t.Fatalf("expected reset exactly at the window boundary")
	}
	if outcome.Limit != 20 {
		t.Fatalf("expected refreshed limit 20, got %d", outcome.Limit)
	}
}

func TestRecordUsageUnlimited(t *testing.T) {
	repo := setupRepo(t)
	key := testKey()
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	var last domain.RecordOutcome
	for i := 0; i < 25; i++ {
		outcome, err := repo.RecordUsage(context.Background(), key, -1, now)
		if err != nil {
			t.Fatalf("record usage %d: %v", i, err)
		}
		if outcome.Exceeded {
			t.Fatalf("unlimited plan must never reject")
		}
		last = outcome
	}
	if last.Current != 25 {
		t.Fatalf("expected current 25, got %d", last.Current)
	}
	if last.Remaining() != -1 {
		t.Fatalf("unlimited remaining reports -1, got %d", last.Remaining())
	}
}

func TestPeekIsAdvisoryAndNeverWrites(t *testing.T) {
	repo := setupRepo(t)
	key := testKey()
	start := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		if _, err := repo.RecordUsage(context.Background(), key, 10, start); err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}

	view, err := repo.Peek(context.Background(), key, start.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if !view.Exists {
		t.Fatalf("expected existing record")
	}
	if !view.WindowElapsed {
		t.Fatalf("expected elapsed window")
	}
	if view.Current != 0 {
		t.Fatalf("as-if-reset view reports zero usage, got %d", view.Current)
	}

	record, err := repo.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.DailyUsageCount != 10 {
		t.Fatalf("peek must not write, stored count changed to %d", record.DailyUsageCount)
	}
	if !record.LastUsageReset.Equal(start) {
		t.Fatalf("peek must not move the reset timestamp")
	}
}

func TestPeekMissingRecord(t *testing.T) {
	repo := setupRepo(t)

	view, err := repo.Peek(context.Background(), testKey(), time.Now().UTC())
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if view.Exists {
		t.Fatalf("expected no record")
	}
}

func TestRecordUsageConcurrentNoOvershoot(t *testing.T) {
	repo := setupRepo(t)
	key := testKey()
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	const attempts = 20
	const limit = 5

	var wg sync.WaitGroup
	outcomes := make([]domain.RecordOutcome, attempts)
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = repo.RecordUsage(context.Background(), key, limit, now)
		}(i)
	}
	wg.Wait()

	successes, rejections := 0, 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("attempt %d: %v", i, errs[i])
		}
		if outcomes[i].Exceeded {
			rejections++
		} else {
			successes++
		}
	}
	if successes != limit {
		t.Fatalf("expected exactly %d successes, got %d", limit, successes)
	}
	if rejections != attempts-limit {
		t.Fatalf("expected %d rejections, got %d", attempts-limit, rejections)
	}

	record, err := repo.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.DailyUsageCount != limit {
		t.Fatalf("counter overshot: %d > %d", record.DailyUsageCount, limit)
	}
}

func TestSetSelectedAgent(t *testing.T) {
	repo := setupRepo(t)
	key := testKey()
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	first, err := repo.SetSelectedAgent(context.Background(), key, "finance", true, 10, now)
	if err != nil {
		t.Fatalf("select agent: %v", err)
	}
	if !first {
		t.Fatalf("expected first selection")
	}

	// Consume some usage, then switch agents.
	for i := 0; i < 3; i++ {
		if _, err := repo.RecordUsage(context.Background(), key, 10, now); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}

	first, err = repo.SetSelectedAgent(context.Background(), key, "crm", false, 10, now)
	if err != nil {
		t.Fatalf("switch agent: %v", err)
	}
	if first {
		t.Fatalf("switching is not a first selection")
	}

	record, err := repo.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.SelectedAgent == nil || *record.SelectedAgent != "crm" {
		t.Fatalf("expected selected agent crm, got %v", record.SelectedAgent)
	}
	if record.DailyUsageCount != 3 {
		t.Fatalf("agent switch must not reset the counter, got %d", record.DailyUsageCount)
	}
}

func TestRecordUsageValidatesKey(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.RecordUsage(context.Background(), domain.CounterKey{UserID: "usr"}, 10, time.Now().UTC())
	if err != domain.ErrInvalidTenant {
		t.Fatalf("expected invalid tenant, got %v", err)
	}
	_, err = repo.RecordUsage(context.Background(), domain.CounterKey{TenantID: "ten"}, 10, time.Now().UTC())
	if err != domain.ErrInvalidUser {
		t.Fatalf("expected invalid user, got %v", err)
	}
}

func TestRecordUsageUpgradeLiftsLimitMidWindow(t *testing.T) {
	repo := setupRepo(t)
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		if _, err := repo.RecordUsage(context.Background(), testKey(), 10, now); err != nil {
			t.Fatalf("record usage %d: %v", i, err)
		}
	}
	outcome, err := repo.RecordUsage(context.Background(), testKey(), 10, now)
	if err != nil {
		t.Fatalf("record usage at cap: %v", err)
	}
	if !outcome.Exceeded {
		t.Fatalf("expected the free allowance to be consumed")
	}

	// The effective limit is passed per attempt, so an upgrade applies on
	// the very next usage inside the same window.
	outcome, err = repo.RecordUsage(context.Background(), testKey(), -1, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("record usage after upgrade: %v", err)
	}
	if outcome.Exceeded {
		t.Fatalf("unlimited tier rejected: current=%d limit=%d", outcome.Current, outcome.Limit)
	}
	if outcome.Current != 11 {
		t.Fatalf("expected current 11, got %d", outcome.Current)
	}
	if outcome.Limit != -1 || outcome.Remaining() != -1 {
		t.Fatalf("expected unlimited outcome, got limit=%d remaining=%d", outcome.Limit, outcome.Remaining())
	}
	if outcome.WasReset {
		t.Fatalf("an upgrade must not reset the counter")
	}

	record, err := repo.Get(context.Background(), testKey())
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.DailyLimit != -1 {
		t.Fatalf("stored limit not refreshed, got %d", record.DailyLimit)
	}
}

func TestRecordUsageLoweredLimitAppliesMidWindow(t *testing.T) {
	repo := setupRepo(t)
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if _, err := repo.RecordUsage(context.Background(), testKey(), 10, now); err != nil {
			t.Fatalf("record usage %d: %v", i, err)
		}
	}

	outcome, err := repo.RecordUsage(context.Background(), testKey(), 3, now)
	if err != nil {
		t.Fatalf("record usage with lowered limit: %v", err)
	}
	if !outcome.Exceeded {
		t.Fatalf("lowered limit should block immediately")
	}
	if outcome.Current != 5 {
		t.Fatalf("exceeded attempt must not write, got current %d", outcome.Current)
	}
	if outcome.Limit != 3 {
		t.Fatalf("expected the effective limit 3, got %d", outcome.Limit)
	}
}
