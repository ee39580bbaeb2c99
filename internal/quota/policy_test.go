package quota

import (
	"testing"

	"github.com/coreflow/usaged/internal/agent"
	"github.com/stretchr/testify/assert"
)

func TestParseTierUnknownDefaultsToFree(t *testing.T) {
	assert.Equal(t, TierFree, ParseTier("platinum"))
	assert.Equal(t, TierFree, ParseTier(""))
	assert.Equal(t, TierPro, ParseTier("pro"))
	assert.Equal(t, TierEnterprise, ParseTier(" enterprise "))
}

func TestDefaultPolicySet(t *testing.T) {
	set := DefaultPolicySet(agent.NewCatalog())

	free := set.ForTier(TierFree)
	assert.Equal(t, FreeDailyLimit, free.DailyLimit)
	assert.False(t, free.Unlimited())
	assert.True(t, free.Allows("finance"))
	assert.False(t, free.Allows("erpnext"))

	pro := set.ForTier(TierPro)
	assert.Equal(t, UnlimitedDailyLimit, pro.DailyLimit)
	assert.True(t, pro.Unlimited())
	assert.True(t, pro.Allows("erpnext"))
}

func TestForTierFallsBackToFree(t *testing.T) {
	set := PolicySet{Tiers: map[string]Policy{
		string(TierFree): {DailyLimit: 10},
	}}

	got := set.ForTier(TierEnterprise)
	assert.Equal(t, 10, got.DailyLimit)
}

func TestPolicyAllowsIsCaseInsensitive(t *testing.T) {
	policy := Policy{AllowedAgents: []string{"crm", "finance"}}
	assert.True(t, policy.Allows("CRM"))
	assert.False(t, policy.Allows("hr"))
}
