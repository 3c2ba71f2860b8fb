package webhook

import (
	"go.uber.org/fx"

	"github.com/smallcrm/leadhook/internal/clock"
	"github.com/smallcrm/leadhook/internal/config"
	"github.com/smallcrm/leadhook/internal/webhook/service"
	"github.com/smallcrm/leadhook/internal/webhook/signature"
)

func newVerifier(cfg config.Config, c clock.Clock) *signature.Verifier {
	return signature.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.MaxSkew, c)
}

var Module = fx.Module("webhook",
	fx.Provide(
		newVerifier,
		service.NewService,
	),
)
