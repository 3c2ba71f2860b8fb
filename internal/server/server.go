package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallcrm/leadhook/internal/config"
	crmclient "github.com/smallcrm/leadhook/internal/crm"
	eventdomain "github.com/smallcrm/leadhook/internal/event/domain"
	"github.com/smallcrm/leadhook/internal/observability"
	obsmiddleware "github.com/smallcrm/leadhook/internal/observability/logger"
	obsmetrics "github.com/smallcrm/leadhook/internal/observability/metrics"
	obstracing "github.com/smallcrm/leadhook/internal/observability/tracing"
	"github.com/smallcrm/leadhook/internal/ratelimit"
	webhookdomain "github.com/smallcrm/leadhook/internal/webhook/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	webhookSvc webhookdomain.Service
	eventSvc   eventdomain.Service
	crm        *crmclient.Client
	limiter    *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	WebhookSvc webhookdomain.Service
	EventSvc   eventdomain.Service
	CRM        *crmclient.Client
	Limiter    *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		webhookSvc: p.WebhookSvc,
		eventSvc:   p.EventSvc,
		crm:        p.CRM,
		limiter:    p.Limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/leads", s.rateLimitMiddleware(), s.handleLeadWebhook)

	api := s.engine.Group("/api")
	api.GET("/events", s.listEvents)
	api.GET("/events/:event_id", s.getEvent)
	api.GET("/leads", s.listLeads)
	api.GET("/leads/:lead_id", s.getLead)
	api.POST("/leads/:lead_id/enrich", s.enrichLead)
}
