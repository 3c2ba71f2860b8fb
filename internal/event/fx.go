package event

import (
	"github.com/smallcrm/leadhook/internal/event/repository"
	eventservice "github.com/smallcrm/leadhook/internal/event/service"
	"go.uber.org/fx"
)

var Module = fx.Module("event.ledger",
	fx.Provide(repository.Provide),
	fx.Provide(eventservice.NewService),
)
