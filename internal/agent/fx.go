package agent

import "go.uber.org/fx"

var Module = fx.Module("agent.catalog",
	fx.Provide(NewCatalog),
)
