package quota

import (
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/coreflow/usaged/internal/agent"
	"github.com/coreflow/usaged/internal/config"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultPolicySet returns the compiled-in policies derived from the agent
// catalog: free users get the non-premium agents and a small daily allowance,
// paid tiers get the full catalog and no cap.
func DefaultPolicySet(catalog *agent.Catalog) PolicySet {
	free := catalog.FreeKeys()
	all := catalog.AllKeys()
	return PolicySet{
		Tiers: map[string]Policy{
			string(TierFree):       {DailyLimit: FreeDailyLimit, AllowedAgents: free},
			string(TierStarter):    {DailyLimit: UnlimitedDailyLimit, AllowedAgents: all},
			string(TierPro):        {DailyLimit: UnlimitedDailyLimit, AllowedAgents: all},
			string(TierEnterprise): {DailyLimit: UnlimitedDailyLimit, AllowedAgents: all},
		},
	}
}

// PolicyHolder serves the active policy set and hot-reloads it when the
// quota.yml file changes. Reads are lock-free.
type PolicyHolder struct {
	current atomic.Value // holds PolicySet
}

// NewPolicyHolder loads quota.yml (or the file named by QUOTA_POLICY_FILE)
// and falls back to DefaultPolicySet when no file is present.
func NewPolicyHolder(cfg config.Config, catalog *agent.Catalog, log *zap.Logger) (*PolicyHolder, error) {
	defaults := DefaultPolicySet(catalog)

	v := viper.New()
	if file := strings.TrimSpace(cfg.QuotaPolicyFile); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("quota")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/usaged/config")
		v.AddConfigPath("/etc/usaged")
		v.AddConfigPath(".")
	}

	holder := &PolicyHolder{}
	holder.current.Store(defaults)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || isMissingFile(err, cfg.QuotaPolicyFile) {
			return holder, nil
		}
		return nil, err
	}

	loaded, err := unmarshalPolicySet(v, defaults)
	if err != nil {
		return nil, err
	}
	holder.current.Store(loaded)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalPolicySet(v, defaults)
		if err != nil {
			log.Warn("quota policy reload ignored", zap.Error(err), zap.String("file", e.Name))
			return
		}
		holder.current.Store(updated)
		log.Info("quota policy reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

// Get returns the active policy set.
func (h *PolicyHolder) Get() PolicySet {
	return h.current.Load().(PolicySet)
}

// ForTier returns the active policy for a tier.
func (h *PolicyHolder) ForTier(tier Tier) Policy {
	return h.Get().ForTier(tier)
}

func unmarshalPolicySet(v *viper.Viper, defaults PolicySet) (PolicySet, error) {
	var set PolicySet
	if err := v.UnmarshalKey("quota", &set); err != nil {
		return PolicySet{}, err
	}
	if err := validatePolicySet(set); err != nil {
		return PolicySet{}, err
	}
	// Tiers absent from the file keep their defaults.
	for name, policy := range defaults.Tiers {
		if _, ok := set.Tiers[name]; !ok {
			set.Tiers[name] = policy
		}
	}
	return set, nil
}

func validatePolicySet(set PolicySet) error {
	if len(set.Tiers) == 0 {
		return errors.New("quota.tiers cannot be empty")
	}
	for name, policy := range set.Tiers {
		if policy.DailyLimit == 0 {
			return errors.New("quota tier " + name + " has a zero daily limit")
		}
	}
	return nil
}

func isMissingFile(err error, file string) bool {
	if strings.TrimSpace(file) == "" {
		return false
	}
	return strings.Contains(err.Error(), "no such file")
}
