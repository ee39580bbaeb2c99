// Package service orchestrates agent selection, status reads and usage
// tracking against the quota policy and the store-backed counter.
package service

import (
	"context"
	"strings"

	"github.com/coreflow/usaged/internal/agent"
	"github.com/coreflow/usaged/internal/clock"
	obsmetrics "github.com/coreflow/usaged/internal/observability/metrics"
	"github.com/coreflow/usaged/internal/quota"
	subscriptiondomain "github.com/coreflow/usaged/internal/subscription/domain"
	usagedomain "github.com/coreflow/usaged/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Counter    usagedomain.Counter
	Policies   *quota.PolicyHolder
	Catalog    *agent.Catalog
	SubSvc     subscriptiondomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	counter    usagedomain.Counter
	policies   *quota.PolicyHolder
	catalog    *agent.Catalog
	subSvc     subscriptiondomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		log:        p.Log.Named("usage.service"),
		clock:      p.Clock,
		counter:    p.Counter,
		policies:   p.Policies,
		catalog:    p.Catalog,
		subSvc:     p.SubSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) SelectAgent(ctx context.Context, req usagedomain.SelectAgentRequest) (usagedomain.SelectAgentResult, error) {
	key, err := counterKey(req.TenantID, req.UserID)
	if err != nil {
		return usagedomain.SelectAgentResult{}, err
	}

	chosen, ok := s.catalog.Get(req.AgentKey)
	if !ok {
		return usagedomain.SelectAgentResult{}, usagedomain.ErrInvalidAgent
	}

	tier, _, err := s.resolvePlan(ctx, key)
	if err != nil {
		return usagedomain.SelectAgentResult{}, err
	}
	policy := s.policies.ForTier(tier)
	if !policy.Allows(chosen.Key) {
		return usagedomain.SelectAgentResult{}, quota.ErrAgentNotAllowed
	}

	first, err := s.counter.SetSelectedAgent(ctx, key, chosen.Key, req.FromOnboarding, policy.DailyLimit, s.clock.Now())
	if err != nil {
		return usagedomain.SelectAgentResult{}, err
	}

	s.obsMetrics.RecordAgentSelection(ctx, chosen.Key, first)
	s.log.Info("agent selected",
		zap.String("agent", chosen.Key),
		zap.String("tier", string(tier)),
		zap.Bool("first_selection", first),
	)

	return usagedomain.SelectAgentResult{
		SelectedAgent:  chosen.Key,
		FirstSelection: first,
	}, nil
}

func (s *Service) GetStatus(ctx context.Context, req usagedomain.StatusRequest) (usagedomain.Status, error) {
	key, err := counterKey(req.TenantID, req.UserID)
	if err != nil {
		return usagedomain.Status{}, err
	}

	tier, subStatus, err := s.resolvePlan(ctx, key)
	if err != nil {
		return usagedomain.Status{}, err
	}
	policy := s.policies.ForTier(tier)
	paid := tier != quota.TierFree

	view, err := s.counter.Peek(ctx, key, s.clock.Now())
	if err != nil {
		return usagedomain.Status{}, err
	}

	status := usagedomain.Status{
		PlanTier:           string(tier),
		SubscriptionStatus: subStatus,
		SelectedAgent:      view.SelectedAgent,
	}

	if !view.Exists {
		status.NeedsAgentSelection = !paid
		status.DailyLimit = policy.DailyLimit
		status.Remaining = remaining(0, policy.DailyLimit)
		status.CanUseFeature = paid
		return status, nil
	}

	// The effective policy limit wins over the stored one, so a plan change
	// is reflected mid-window. Elapsed windows already read as zero usage
	// from Peek; nothing is written until the next usage.
	status.NeedsAgentSelection = !paid && view.SelectedAgent == nil
	status.DailyUsageCount = view.Current
	status.DailyLimit = policy.DailyLimit
	status.Remaining = remaining(view.Current, policy.DailyLimit)
	status.CanUseFeature = paid || (!status.NeedsAgentSelection && status.Remaining != 0)
	if !view.LastReset.IsZero() {
		lastReset := view.LastReset
		status.LastUsageReset = &lastReset
	}

	return status, nil
}

func (s *Service) TrackUsage(ctx context.Context, req usagedomain.TrackUsageRequest) (usagedomain.TrackResult, error) {
	key, err := counterKey(req.TenantID, req.UserID)
	if err != nil {
		return usagedomain.TrackResult{}, err
	}

	tier, _, err := s.resolvePlan(ctx, key)
	if err != nil {
		return usagedomain.TrackResult{}, err
	}
	policy := s.policies.ForTier(tier)

	outcome, err := s.counter.RecordUsage(ctx, key, policy.DailyLimit, s.clock.Now())
	if err != nil {
		// Infrastructure failures propagate; they are never reported as a
		// consumed quota.
		return usagedomain.TrackResult{}, err
	}

	if outcome.Exceeded {
		s.obsMetrics.RecordQuotaDenied(ctx, string(tier))
		return usagedomain.TrackResult{
			Rejected:      true,
			ShouldUpgrade: tier == quota.TierFree,
			Current:       outcome.Current,
			Limit:         outcome.Limit,
			Remaining:     outcome.Remaining(),
		}, nil
	}

	s.obsMetrics.RecordUsage(ctx, string(tier), outcome.WasReset)
	s.log.Debug("usage recorded",
		zap.String("tier", string(tier)),
		zap.String("feature", req.Feature),
		zap.String("module", req.Module),
		zap.Int("current", outcome.Current),
		zap.Bool("was_reset", outcome.WasReset),
	)

	return usagedomain.TrackResult{
		Current:   outcome.Current,
		Limit:     outcome.Limit,
		Remaining: outcome.Remaining(),
		WasReset:  outcome.WasReset,
	}, nil
}

// resolvePlan prefers the user's active paid subscription; everyone else is
// on the free tier. The second return is the subscription status surfaced in
// the status document, "FREE" when no active subscription exists.
func (s *Service) resolvePlan(ctx context.Context, key usagedomain.CounterKey) (quota.Tier, string, error) {
	sub, err := s.subSvc.GetActiveByUserID(ctx, key.TenantID, key.UserID)
	if err != nil {
		return quota.TierFree, "", err
	}
	if sub == nil || !sub.IsActive() {
		return quota.TierFree, "FREE", nil
	}
	return quota.ParseTier(sub.PlanTier), sub.Status, nil
}

func counterKey(tenantID, userID string) (usagedomain.CounterKey, error) {
	tenantID = strings.TrimSpace(tenantID)
	userID = strings.TrimSpace(userID)
	if tenantID == "" {
		return usagedomain.CounterKey{}, usagedomain.ErrInvalidTenant
	}
	if userID == "" {
		return usagedomain.CounterKey{}, usagedomain.ErrInvalidUser
	}
	return usagedomain.CounterKey{TenantID: tenantID, UserID: userID}, nil
}

func remaining(current, limit int) int {
	if limit < 0 {
		return -1
	}
	left := limit - current
	if left < 0 {
		return 0
	}
	return left
}
