package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallcrm/leadhook/internal/clock"
	"github.com/smallcrm/leadhook/internal/config"
	"github.com/smallcrm/leadhook/internal/crm"
	"github.com/smallcrm/leadhook/internal/enrichment"
	"github.com/smallcrm/leadhook/internal/event"
	"github.com/smallcrm/leadhook/internal/lock"
	"github.com/smallcrm/leadhook/internal/migration"
	"github.com/smallcrm/leadhook/internal/observability"
	"github.com/smallcrm/leadhook/internal/ratelimit"
	"github.com/smallcrm/leadhook/internal/scheduler"
	"github.com/smallcrm/leadhook/internal/server"
	"github.com/smallcrm/leadhook/internal/webhook"
	"github.com/smallcrm/leadhook/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		migration.Module,
		lock.Module,
		ratelimit.Module,

		event.Module,
		enrichment.Module,
		crm.Module,
		webhook.Module,
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
