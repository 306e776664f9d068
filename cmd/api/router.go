package main

import (
	"net/http"

	"tokenkeeper/internal/config"
	"tokenkeeper/internal/metrics"
	"tokenkeeper/internal/middleware"
	"tokenkeeper/internal/modules/auth"
	"tokenkeeper/internal/modules/refresh"
	jwtsvc "tokenkeeper/internal/pkg/jwt"
	"tokenkeeper/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type app struct {
	router  *gin.Engine
	signer  *jwtsvc.Service
	tokens  *refresh.Service
	tokenDB *repository.RefreshTokenRepository
	metrics *metrics.MetricsManager
}

// newApp builds the HTTP surface on top of a migrated database.
func newApp(cfg *config.Config, db *gorm.DB, registry *prometheus.Registry, log logrus.FieldLogger, opts ...refresh.Option) (*app, error) {
	metricsAPI := metrics.NewMetricsManager(registry)

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)

	signer, err := jwtsvc.New(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL.Std(), jwtsvc.WithIssuer(cfg.Auth.JWTIssuer))
	if err != nil {
		return nil, err
	}

	opts = append([]refresh.Option{
		refresh.WithTTL(cfg.Auth.RefreshTTL.Std()),
		refresh.WithMaxTokensPerUser(cfg.Auth.MaxTokensPerUser),
		refresh.WithMetrics(metricsAPI),
	}, opts...)
	refreshService := refresh.NewService(tokenRepo, log, opts...)

	authService := auth.NewService(userRepo, signer, refreshService, log, cfg.Auth.ReplayContainment)
	authHandler := auth.NewHandler(authService, log)

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		metrics.HTTPMiddleware(registry),
		middleware.RequestLogger(log),
		middleware.ErrorLogger(log),
		middleware.CORS(cfg.CORSAllowedOrigins...),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics",
		middleware.InternalTokenAuth(cfg.Metrics.Token, cfg.Metrics.AllowedIPs, log),
		gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)

	v1 := r.Group("/api/v1")
	{
		authHandler.RegisterPublicRoutes(v1)

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(signer))
		{
			authHandler.RegisterProtectedRoutes(protected)
		}
	}

	return &app{
		router:  r,
		signer:  signer,
		tokens:  refreshService,
		tokenDB: tokenRepo,
		metrics: metricsAPI,
	}, nil
}
