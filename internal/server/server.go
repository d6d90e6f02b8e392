package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sparlo/tokengate/internal/admission"
	admissiondomain "github.com/sparlo/tokengate/internal/admission/domain"
	"github.com/sparlo/tokengate/internal/billingevent"
	billingeventdomain "github.com/sparlo/tokengate/internal/billingevent/domain"
	"github.com/sparlo/tokengate/internal/config"
	"github.com/sparlo/tokengate/internal/period"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	"github.com/sparlo/tokengate/internal/plancatalog"
	"github.com/sparlo/tokengate/internal/tenant"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	tenant.Module,
	plancatalog.Module,
	period.Module,
	admission.Module,
	billingevent.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine       *gin.Engine
	admissionSvc admissiondomain.Service
	periodSvc    perioddomain.Service
	eventSvc     billingeventdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	AdmissionSvc admissiondomain.Service
	PeriodSvc    perioddomain.Service
	EventSvc     billingeventdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		admissionSvc: p.AdmissionSvc,
		periodSvc:    p.PeriodSvc,
		eventSvc:     p.EventSvc,
	}
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")
	v1.POST("/admission/check", s.CheckAdmission)
	v1.POST("/usage", s.RecordUsage)
	v1.GET("/tenants/:tenant_id/periods", s.ListPeriods)
	v1.POST("/webhooks/billing", s.HandleBillingWebhook)
}
