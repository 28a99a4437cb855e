package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/destiny/internal/audit"
	"github.com/smallbiznis/destiny/internal/clock"
	"github.com/smallbiznis/destiny/internal/config"
	"github.com/smallbiznis/destiny/internal/engine/builtin"
	"github.com/smallbiznis/destiny/internal/migration"
	"github.com/smallbiznis/destiny/internal/observability"
	"github.com/smallbiznis/destiny/internal/profile"
	"github.com/smallbiznis/destiny/internal/ratelimit"
	"github.com/smallbiznis/destiny/internal/report"
	"github.com/smallbiznis/destiny/internal/scheduler"
	"github.com/smallbiznis/destiny/internal/server"
	"github.com/smallbiznis/destiny/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,

		// Functional Domains
		audit.Module,
		profile.Module,
		builtin.Module,
		report.Module,
		scheduler.Module,

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
