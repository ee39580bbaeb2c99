package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coreflow/usaged/internal/agent"
	billingeventdomain "github.com/coreflow/usaged/internal/billingevent/domain"
	"github.com/coreflow/usaged/internal/config"
	"github.com/coreflow/usaged/internal/observability"
	obsmiddleware "github.com/coreflow/usaged/internal/observability/logger"
	obsmetrics "github.com/coreflow/usaged/internal/observability/metrics"
	obstracing "github.com/coreflow/usaged/internal/observability/tracing"
	"github.com/coreflow/usaged/internal/ratelimit"
	usagedomain "github.com/coreflow/usaged/internal/usage/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
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
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	log             *zap.Logger
	catalog         *agent.Catalog
	usageSvc        usagedomain.Service
	billingEventSvc billingeventdomain.Service
	obsMetrics      *obsmetrics.Metrics
	trackLimiter    *ratelimit.TrackLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	Catalog         *agent.Catalog
	UsageSvc        usagedomain.Service
	BillingEventSvc billingeventdomain.Service
	ObsMetrics      *obsmetrics.Metrics     `optional:"true"`
	TrackLimiter    *ratelimit.TrackLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("http.server"),
		catalog:         p.Catalog,
		usageSvc:        p.UsageSvc,
		billingEventSvc: p.BillingEventSvc,
		obsMetrics:      p.ObsMetrics,
		trackLimiter:    p.TrackLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/agents", s.ListAgents)

	usage := api.Group("/usage", s.TenantContext())
	{
		usage.POST("/select-agent", s.SelectAgent)
		usage.GET("/status", s.GetUsageStatus)
		usage.POST("/track", s.TrackRateLimit(), s.TrackUsage)
	}

	api.POST("/billing/webhooks/:provider", s.HandleBillingWebhook)
}
