package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/destiny/internal/audit/domain"
	"github.com/smallbiznis/destiny/internal/config"
	"github.com/smallbiznis/destiny/internal/engine"
	obslogger "github.com/smallbiznis/destiny/internal/observability/logger"
	obstracing "github.com/smallbiznis/destiny/internal/observability/tracing"
	reportdomain "github.com/smallbiznis/destiny/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewServer),
	fx.Invoke(run),
)

type Params struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Registry *engine.Registry
	Reports  reportdomain.Service
	AuditSvc auditdomain.Service
}

// Server exposes the operational surface: health, metrics and read-only
// diagnostics over the report pipeline.
type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	db       *gorm.DB
	log      *zap.Logger
	registry *engine.Registry
	reports  reportdomain.Service
	auditSvc auditdomain.Service
}

func NewServer(p Params) *Server {
	if p.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:   NewEngine(),
		cfg:      p.Config,
		db:       p.DB,
		log:      p.Log.Named("http.server"),
		registry: p.Registry,
		reports:  p.Reports,
		auditSvc: p.AuditSvc,
	}
	s.registerRoutes()
	return s
}

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware())
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.Health)

	internal := s.engine.Group("/internal")
	internal.GET("/engines", s.ListEngines)
	internal.GET("/jobs", s.ListJobs)
	internal.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil {
		AbortWithError(c, errors.Join(ErrServiceUnavailable, err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		AbortWithError(c, errors.Join(ErrServiceUnavailable, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListEngines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.registry.Describe()})
}

func (s *Server) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.reports.InFlight()})
}

func run(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			s.log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
