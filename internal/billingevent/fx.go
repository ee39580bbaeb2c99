package billingevent

import (
	"github.com/coreflow/usaged/internal/billingevent/adapters"
	"github.com/coreflow/usaged/internal/billingevent/adapters/stripe"
	"github.com/coreflow/usaged/internal/billingevent/domain"
	"github.com/coreflow/usaged/internal/billingevent/repository"
	"github.com/coreflow/usaged/internal/billingevent/service"
	"github.com/coreflow/usaged/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billingevent.service",
	fx.Provide(
		fx.Annotate(repository.New, fx.As(new(domain.Ledger))),
		NewRegistry,
		service.NewService,
	),
)

// NewRegistry wires every configured provider adapter. Providers without a
// configured secret are left out; deliveries for them answer provider not
// found instead of failing verification.
func NewRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	var list []domain.Adapter

	if cfg.StripeWebhookSecret != "" {
		adapter, err := stripe.NewAdapter(cfg.StripeWebhookSecret)
		if err != nil {
			log.Warn("stripe webhook adapter disabled", zap.Error(err))
		} else {
			list = append(list, adapter)
		}
	} else {
		log.Warn("stripe webhook adapter disabled: no webhook secret configured")
	}

	return adapters.NewRegistry(list...)
}
