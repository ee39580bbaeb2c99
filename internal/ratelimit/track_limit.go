package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreflow/usaged/internal/config"
)

const keyTrackUser = "usaged:track:%s:%s"

// TrackLimiter throttles the usage tracking endpoint per user. It is a
// protective limit in front of the quota counter, not the quota itself.
type TrackLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewTrackLimiter(cfg config.Config, bucket *TokenBucket) *TrackLimiter {
	if !cfg.TrackRateLimitEnabled || bucket == nil {
		return &TrackLimiter{}
	}
	rate := cfg.TrackRateLimitRate
	burst := cfg.TrackRateLimitBurst
	if rate <= 0 || burst <= 0 {
		return &TrackLimiter{}
	}
	return &TrackLimiter{
		enabled: true,
		bucket:  bucket,
		rate:    rate,
		burst:   burst,
	}
}

func (l *TrackLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *TrackLimiter) Allow(ctx context.Context, tenantID, userID string) (RateLimitResult, error) {
	if !l.Enabled() {
		return RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyTrackUser, strings.TrimSpace(tenantID), strings.TrimSpace(userID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
