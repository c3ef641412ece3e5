package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/metergate/metergate/internal/apikey"
	apikeydomain "github.com/metergate/metergate/internal/apikey/domain"
	"github.com/metergate/metergate/internal/billing"
	billingdomain "github.com/metergate/metergate/internal/billing/domain"
	"github.com/metergate/metergate/internal/billing/webhook"
	"github.com/metergate/metergate/internal/config"
	"github.com/metergate/metergate/internal/observability"
	obslogger "github.com/metergate/metergate/internal/observability/logger"
	obsmetrics "github.com/metergate/metergate/internal/observability/metrics"
	obstracing "github.com/metergate/metergate/internal/observability/tracing"
	"github.com/metergate/metergate/internal/ratelimit"
	"github.com/metergate/metergate/internal/reporter"
	"github.com/metergate/metergate/internal/usage"
	usagedomain "github.com/metergate/metergate/internal/usage/domain"
	"github.com/metergate/metergate/internal/user"
	userdomain "github.com/metergate/metergate/internal/user/domain"
	"github.com/metergate/metergate/pkg/db"
)

var Module = fx.Module("http.server",
	config.Module,
	observability.Module,
	db.Module,
	user.Module,
	apikey.Module,
	usage.Module,
	ratelimit.Module,
	billing.Module,
	reporter.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
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
	log        *zap.Logger
	genID      *snowflake.Node
	apiKeySvc  apikeydomain.Service
	usageSvc   usagedomain.Service
	users      userdomain.Repository
	provider   billingdomain.Provider
	webhookSvc *webhook.Service
	limiter    *ratelimit.Limiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	APIKeySvc  apikeydomain.Service
	UsageSvc   usagedomain.Service
	Users      userdomain.Repository
	Provider   billingdomain.Provider
	WebhookSvc *webhook.Service
	Limiter    *ratelimit.Limiter
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("server"),
		genID:      p.GenID,
		apiKeySvc:  p.APIKeySvc,
		usageSvc:   p.UsageSvc,
		users:      p.Users,
		provider:   p.Provider,
		webhookSvc: p.WebhookSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerMeteredRoutes()
	svc.registerAccountRoutes()
	svc.registerWebhookRoutes()
	svc.registerDevRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerMeteredRoutes mounts the endpoints behind the full gateway
// chain: authenticate, subscription gate, per-user rate limit, track.
func (s *Server) registerMeteredRoutes() {
	v1 := s.engine.Group("/v1",
		s.APIKeyRequired(),
		s.SubscriptionRequired(),
		s.UserRateLimit(),
		s.TrackUsage(),
	)

	v1.GET("/ping", s.Ping)
	v1.GET("/time", s.ServerTime)
	v1.POST("/echo", s.Echo)
}

// registerAccountRoutes mounts self-service key, usage and billing
// management. These are authenticated but not metered: a user with a
// canceled subscription still needs to reach invoices and the portal.
func (s *Server) registerAccountRoutes() {
	account := s.engine.Group("/account", s.APIKeyRequired())

	account.GET("/api-keys", s.ListAPIKeys)
	account.POST("/api-keys", s.CreateAPIKey)
	account.POST("/api-keys/:key_id/revoke", s.RevokeAPIKey)

	account.GET("/usage/summary", s.UsageSummary)
	account.GET("/usage/endpoints", s.UsageByEndpoint)
	account.GET("/usage/daily", s.UsageDaily)
	account.GET("/usage/current-month", s.UsageCurrentMonth)

	account.GET("/billing/summary", s.BillingSummary)
	account.GET("/billing/invoices", s.ListInvoices)
	account.POST("/billing/subscribe", s.Subscribe)
	account.POST("/billing/portal", s.CreatePortalSession)
	account.POST("/billing/cancel", s.CancelSubscription)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/billing", s.HandleBillingWebhook)
}

func (s *Server) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (s *Server) ServerTime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"now": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) Echo(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"echo": payload})
}
