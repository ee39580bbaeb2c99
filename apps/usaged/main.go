package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/coreflow/usaged/internal/agent"
	"github.com/coreflow/usaged/internal/billingevent"
	"github.com/coreflow/usaged/internal/clock"
	"github.com/coreflow/usaged/internal/config"
	"github.com/coreflow/usaged/internal/migration"
	"github.com/coreflow/usaged/internal/observability"
	"github.com/coreflow/usaged/internal/quota"
	"github.com/coreflow/usaged/internal/ratelimit"
	"github.com/coreflow/usaged/internal/server"
	"github.com/coreflow/usaged/internal/subscription"
	"github.com/coreflow/usaged/internal/usage"
	"github.com/coreflow/usaged/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		agent.Module,
		quota.Module,
		ratelimit.Module,
		subscription.Module,
		usage.Module,
		billingevent.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
