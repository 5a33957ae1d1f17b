// Command session runs the LiveShare collaboration service: the WebSocket
// connection handler (C9), the room directory (C8), and the Control API
// (C10) on one gin router, sharing one room directory between the
// streaming and REST surfaces.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/bus"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/config"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/controlapi"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/health"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/middleware"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/roommanager"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/snapshot"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/tracing"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/transport"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
)

// devOracle grants edit access unconditionally; it stands in for the
// Access Oracle when SKIP_AUTH=true so local development never needs a
// running access-control service.
type devOracle struct{}

func (devOracle) Check(_ context.Context, _ types.UserIDType, _ types.DiagramIDType) (types.Permission, error) {
	return types.PermissionEdit, nil
}

func main() {
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := logging.GetLogger()
	defer logger.Sync()

	ctx := context.Background()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "liveshare-session", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Identity verifier ---
	var validator types.TokenValidator
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication disabled via SKIP_AUTH - do not use in production")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize Auth0 validator", zap.Error(err))
		}
		validator = v
		logging.Info(ctx, "Auth0 validator initialized", zap.String("domain", cfg.Auth0Domain))
	}

	// --- Access Oracle ---
	var oracle types.AccessOracle
	var oracleHealthChecker health.OracleChecker
	if cfg.SkipAuth {
		oracle = devOracle{}
	} else {
		oracleClient := auth.NewOracleClient(cfg.AccessOracleAddr)
		oracle = oracleClient
		oracleHealthChecker = oracleClient
	}

	// --- Redis-backed services (bus, snapshots, rate limiting) ---
	var redisService *bus.Service
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
		}
		defer redisService.Close()
		redisClient = redisService.Client()
	}

	snapshotStore := snapshot.NewStore(redisClient)

	roomManager := roommanager.NewManager(oracle, snapshotStore)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = roomManager.Shutdown(shutdownCtx)
	}()

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient, validator)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	// --- Router ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	router.Use(cors.New(corsConfig))

	router.Use(rateLimiter.GlobalMiddleware())

	hub := transport.NewHub(roomManager, oracle, validator, cfg.DevelopmentMode)
	router.GET("/ws/room/:roomId", hub.ServeWs)

	controlAPI := controlapi.NewHandler(roomManager, validator)
	apiGroup := router.Group("/")
	apiGroup.Use(rateLimiter.MiddlewareForEndpoint("rooms"))
	controlAPI.RegisterRoutes(apiGroup)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(redisService, oracleHealthChecker)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "session service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "server exiting")
}
