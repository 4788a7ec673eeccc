package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter_v3 "github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/admin"
	"github.com/wolftown-io/canis-server/internal/auth"
	"github.com/wolftown-io/canis-server/internal/bus"
	"github.com/wolftown-io/canis-server/internal/config"
	"github.com/wolftown-io/canis-server/internal/crypto"
	"github.com/wolftown-io/canis-server/internal/gateway"
	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/middleware"
	"github.com/wolftown-io/canis-server/internal/moderation"
	"github.com/wolftown-io/canis-server/internal/ratelimit"
	"github.com/wolftown-io/canis-server/internal/store"
	"github.com/wolftown-io/canis-server/internal/telemetry"
	"github.com/wolftown-io/canis-server/internal/tracing"
	"github.com/wolftown-io/canis-server/internal/voice/sfu"
	"github.com/wolftown-io/canis-server/internal/webhooks"
)

const (
	userIDContextKey   = "user_id"
	usernameContextKey = "username"
)

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		zap.S().Fatalf("configuration invalid: %v", err)
	}

	// The telemetry ingest pipeline's capture channels must exist before
	// the logger and tracer provider are built, since LogCore/SpanProcessor
	// plug into them at construction time; nothing drains the channels
	// until pipeline.Start runs below, once the database pool exists.
	telemetryPipeline := telemetry.NewPipeline()

	if err := logging.Initialize(cfg.DevelopmentMode, telemetry.NewLogCore(telemetryPipeline)); err != nil {
		zap.S().Fatalf("failed to initialize logging: %v", err)
	}
	log := logging.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go telemetry.NewMetricSampler(telemetryPipeline, prometheus.DefaultGatherer).Run(ctx)

	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, "canis-server", cfg.OTLPEndpoint, telemetry.NewSpanProcessor(telemetryPipeline))
		if err != nil {
			log.Warn("failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx, db); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}

	telemetryPipeline.Start(ctx, db)
	telemetry.SpawnRetentionWorker(ctx, db)

	busSvc, err := bus.NewService(cfg.RedisURL, "")
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer busSvc.Close()

	var validator auth.TokenValidator
	localIssuer, err := auth.NewLocalIssuer(cfg.JWTPrivateKey, cfg.JWTPublicKey, "canis", "canis-clients")
	if err != nil {
		log.Fatal("failed to initialize local token issuer", zap.Error(err))
	}
	validator = localIssuer

	var botValidator auth.TokenValidator = localIssuer
	if cfg.OIDCDomain != "" && cfg.OIDCAudience != "" {
		oidcValidator, err := auth.NewOIDCValidator(ctx, cfg.OIDCDomain, cfg.OIDCAudience)
		if err != nil {
			log.Fatal("failed to initialize OIDC validator", zap.Error(err))
		}
		validator = oidcValidator
	}
	if cfg.DevelopmentMode {
		log.Warn("development mode: accepting unverified tokens")
		validator = &auth.MockValidator{}
	}

	limiter, err := ratelimit.NewLimiter(busSvc.Client(), cfg.RateLimits)
	if err != nil {
		log.Fatal("failed to initialize rate limiter", zap.Error(err))
	}

	mfaVerifier := admin.NewTOTPVerifier(db)
	var auditSink admin.AuditSink
	if sinkAddr := os.Getenv("AUDIT_SINK_ADDR"); sinkAddr != "" {
		forwarder, err := telemetry.NewForwarder(sinkAddr)
		if err != nil {
			log.Warn("failed to dial audit sink, continuing without it", zap.Error(err))
		} else {
			defer forwarder.Close()
			auditSink = forwarder
		}
	}
	adminSvc := admin.NewService(db, busSvc, mfaVerifier, auditSink)
	filterCache := moderation.NewCache(db)
	cryptoSvc := crypto.NewService(db)

	webhookQueue := webhooks.NewQueue(busSvc.Client())
	webhookSvc := webhooks.NewService(db, webhookQueue)
	hostname, _ := os.Hostname()
	webhookWorker := webhooks.NewWorker(db, webhookQueue, hostname)
	go webhookWorker.Run(ctx)

	sfuConfig := &sfu.Config{
		PublicIP:        os.Getenv("SFU_PUBLIC_IP"),
		STUNURL:         cfg.STUNServer,
		TURNURL:         cfg.TURNServer,
		TURNUsername:    cfg.TURNUsername,
		TURNCredential:  cfg.TURNCredential,
		MaxPeersPerRoom: 25,
		MaxScreenShares: 1,
	}

	hub := gateway.NewHub(gateway.Config{
		Bus:          busSvc,
		DB:           db,
		Admin:        adminSvc,
		Filters:      filterCache,
		Webhooks:     webhookSvc,
		Limiter:      limiter,
		Validator:    validator,
		BotValidator: botValidator,
		SFUConfig:    sfuConfig,
		TrustProxy:   cfg.TrustProxy,
	})
	defer hub.Close()

	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID(), otelgin.Middleware("canis-server"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Coarse process-wide request ceiling ahead of the category-scoped
	// sliding-window limiter: a blunt backstop against a client hammering
	// the gateway hard enough to starve the Redis round trip the finer
	// limiter itself needs.
	router.Use(mgin.NewMiddleware(limiter_v3.New(memorystore.NewStore(), limiter_v3.Rate{
		Period: time.Minute,
		Limit:  600,
	})))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		if err := busSvc.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok"})
	})

	router.GET("/ws", gateway.ServeUserWS(hub))
	router.GET("/ws/bot", gateway.ServeBotWS(hub))

	api := router.Group("/api")
	api.Use(authMiddleware(validator))

	api.POST("/e2ee/keys", crypto.PublishKeysHandler(cryptoSvc))
	api.POST("/e2ee/devices/:deviceId/claim", crypto.ClaimPrekeyHandler(cryptoSvc))
	api.GET("/e2ee/devices/:deviceId/prekey-count", crypto.PrekeyCountHandler(cryptoSvc))
	api.PUT("/e2ee/backup/:userId", crypto.UploadBackupHandler(cryptoSvc))
	api.GET("/e2ee/backup/:userId", crypto.DownloadBackupHandler(cryptoSvc))
	api.GET("/e2ee/backup/:userId/status", crypto.BackupStatusHandler(cryptoSvc))

	api.PUT("/guilds/:guildId/filters", moderation.SetFilterConfigHandler(db, filterCache))
	api.POST("/guilds/:guildId/filters/patterns", moderation.AddCustomPatternHandler(db, filterCache))
	api.DELETE("/guilds/:guildId/filters/patterns/:patternId", moderation.DeleteCustomPatternHandler(db, filterCache))
	api.POST("/guilds/:guildId/filters/test", moderation.TestContentHandler(filterCache))

	api.POST("/applications/:id/webhooks", webhooks.CreateHandler(webhookSvc))
	api.POST("/applications/:id/webhooks/:webhookId/test", webhooks.TestHandler(webhookSvc))
	api.GET("/applications/:id/webhooks/:webhookId/deliveries", webhooks.DeliveriesHandler(db))

	adminGroup := api.Group("/admin")
	adminGroup.Use(admin.RequireSystemAdmin(adminSvc, userIDContextKey, usernameContextKey))
	adminGroup.POST("/mfa/enroll", admin.EnrollMFAHandler(mfaVerifier, userIDContextKey))
	adminGroup.POST("/elevate", admin.ElevateHandler(adminSvc, userIDContextKey))
	elevatedGroup := adminGroup.Group("")
	elevatedGroup.Use(admin.RequireElevated(adminSvc))
	elevatedGroup.POST("/de-elevate", admin.DeElevateHandler(adminSvc))
	elevatedGroup.GET("/audit-log", admin.AuditLogHandler(adminSvc))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}

func allowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// authMiddleware validates the bearer token on REST requests and attaches
// the caller's identity to context under the same keys the admin package's
// RequireSystemAdmin middleware expects.
func authMiddleware(validator auth.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing bearer token"})
			return
		}
		claims, err := validator.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid token"})
			return
		}
		c.Set(userIDContextKey, claims.Subject)
		c.Set(usernameContextKey, claims.Name)
		c.Next()
	}
}
