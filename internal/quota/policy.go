// Package quota maps plan tiers to usage entitlements.
package quota

import (
	"errors"
	"strings"
)

// UnlimitedDailyLimit marks a tier whose daily usage is not capped.
const UnlimitedDailyLimit = -1

// FreeDailyLimit is the default daily allowance on the free tier.
const FreeDailyLimit = 10

type Tier string

const (
	TierFree       Tier = "FREE"
	TierStarter    Tier = "STARTER"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

var ErrAgentNotAllowed = errors.New("agent_not_allowed")

// ParseTier canonicalizes a tier name. Unknown tiers resolve to FREE so a
// mis-tagged subscription degrades to the most restrictive policy.
func ParseTier(raw string) Tier {
	switch Tier(strings.ToUpper(strings.TrimSpace(raw))) {
	case TierStarter:
		return TierStarter
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// Paid reports whether the tier belongs to a paid plan.
func (t Tier) Paid() bool {
	return t == TierStarter || t == TierPro || t == TierEnterprise
}

// Policy is the entitlement for one tier.
type Policy struct {
	DailyLimit    int      `mapstructure:"dailyLimit" json:"daily_limit"`
	AllowedAgents []string `mapstructure:"allowedAgents" json:"allowed_agents"`
}

// Unlimited reports whether the policy has no daily cap.
func (p Policy) Unlimited() bool {
	return p.DailyLimit < 0
}

// Allows reports whether the given agent key is selectable under the policy.
func (p Policy) Allows(agentKey string) bool {
	agentKey = strings.TrimSpace(agentKey)
	for _, allowed := range p.AllowedAgents {
		if strings.EqualFold(allowed, agentKey) {
			return true
		}
	}
	return false
}

// PolicySet holds the per-tier policies.
type PolicySet struct {
	Tiers map[string]Policy `mapstructure:"tiers"`
}

// ForTier returns the policy for a tier, falling back to FREE.
func (s PolicySet) ForTier(tier Tier) Policy {
	if policy, ok := s.Tiers[string(tier)]; ok {
		return policy
	}
	return s.Tiers[string(TierFree)]
}
