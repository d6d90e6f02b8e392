package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/sparlo/tokengate/internal/clock"
	"github.com/sparlo/tokengate/internal/config"
	"github.com/sparlo/tokengate/internal/logger"
	"github.com/sparlo/tokengate/internal/migration"
	"github.com/sparlo/tokengate/internal/observability"
	"github.com/sparlo/tokengate/internal/scheduler"
	"github.com/sparlo/tokengate/internal/server"
	"github.com/sparlo/tokengate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain modules are pulled in by the server wiring.
		server.Module,
		scheduler.Module,
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
