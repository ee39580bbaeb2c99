package usage

import (
	"github.com/coreflow/usaged/internal/usage/domain"
	"github.com/coreflow/usaged/internal/usage/repository"
	"github.com/coreflow/usaged/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(
		fx.Annotate(repository.New, fx.As(new(domain.Counter))),
		service.NewService,
	),
)
