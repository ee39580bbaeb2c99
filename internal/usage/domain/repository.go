package domain

import (
	"context"
	"time"
)

// CounterKey addresses the single usage row for one user in one tenant.
type CounterKey struct {
	TenantID string
	UserID   string
}

// RecordOutcome is the result of one counted usage attempt.
type RecordOutcome struct {
	// Exceeded is set when the window allowance was already consumed. The
	// stored counter is left untouched in that case.
	Exceeded bool
	Current  int
	Limit    int
	WasReset bool
}

// Remaining derives the units left in the window. Unlimited plans report -1.
func (o RecordOutcome) Remaining() int {
	if o.Limit < 0 {
		return -1
	}
	left := o.Limit - o.Current
	if left < 0 {
		return 0
	}
	return left
}

// PeekView is the advisory as-if-reset view of a counter. It never writes:
// an elapsed window is reported as zero usage even though the stored row
// still carries the old count.
type PeekView struct {
	Exists         bool
	SelectedAgent  *string
	FromOnboarding bool
	Current        int
	Limit          int
	WindowElapsed  bool
	LastReset      time.Time
}

// Counter is the store-backed usage counter. RecordUsage is the single
// source of truth for admission; Peek answers status reads only.
type Counter interface {
	RecordUsage(ctx context.Context, key CounterKey, limit int, now time.Time) (RecordOutcome, error)
	Peek(ctx context.Context, key CounterKey, now time.Time) (PeekView, error)
	Get(ctx context.Context, key CounterKey) (*UsageRecord, error)
	SetSelectedAgent(ctx context.Context, key CounterKey, agentKey string, fromOnboarding bool, limit int, now time.Time) (first bool, err error)
}
