package enrichment

import (
	"go.uber.org/fx"

	"github.com/smallcrm/leadhook/internal/config"
	"github.com/smallcrm/leadhook/internal/enrichment/domain"
	"github.com/smallcrm/leadhook/internal/enrichment/providers/directory"
	"github.com/smallcrm/leadhook/internal/enrichment/providers/profile"
	"github.com/smallcrm/leadhook/internal/enrichment/repository"
	"github.com/smallcrm/leadhook/internal/enrichment/service"
)

func newDirectoryProvider(cfg config.Config) *directory.Provider {
	return directory.New(directory.Config{
		BaseURL:  cfg.Enrichment.DirectoryBaseURL,
		Username: cfg.Enrichment.DirectoryUser,
		Password: cfg.Enrichment.DirectoryPass,
		Timeout:  cfg.Enrichment.ProviderTimeout,
	})
}

func newProfileProvider(cfg config.Config) *profile.Provider {
	return profile.New(profile.Config{
		BaseURL: cfg.Enrichment.ProfileBaseURL,
		Token:   cfg.Enrichment.ProfileAPIKey,
		Timeout: cfg.Enrichment.ProviderTimeout,
	})
}

var Module = fx.Module("enrichment",
	fx.Provide(
		repository.NewStore,
		fx.Annotate(newDirectoryProvider,
			fx.As(new(domain.Provider)),
			fx.ResultTags(`group:"enrichment.providers"`),
		),
		fx.Annotate(newProfileProvider,
			fx.As(new(domain.Provider)),
			fx.ResultTags(`group:"enrichment.providers"`),
		),
		service.NewService,
	),
)
