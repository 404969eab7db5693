package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lookmax/lookmax/backend/go-services/handlers"
	"github.com/lookmax/lookmax/backend/go-services/internal/billing"
	"github.com/lookmax/lookmax/backend/go-services/internal/config"
	"github.com/lookmax/lookmax/backend/go-services/internal/database"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/internal/events"
	"github.com/lookmax/lookmax/backend/go-services/internal/identity"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/lookmax/lookmax/backend/go-services/internal/oidc"
	"github.com/lookmax/lookmax/backend/go-services/internal/payments"
	"github.com/lookmax/lookmax/backend/go-services/internal/scans"
	"github.com/lookmax/lookmax/backend/go-services/internal/sessions"
	"github.com/lookmax/lookmax/backend/go-services/internal/storage"
	"github.com/lookmax/lookmax/backend/go-services/internal/tokens"
	"github.com/lookmax/lookmax/backend/go-services/internal/users"
	"github.com/lookmax/lookmax/backend/go-services/internal/webhooks"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/lookmax/lookmax/backend/go-services/pkg/metrics"
	"github.com/lookmax/lookmax/backend/go-services/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL is read before config so config errors are logged at the right level
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.SetFormat(cfg.Log.Format)
	logger.Infof("config loaded: env=%s redis=%v oidc=%v stripe=%v rabbitmq=%v minio=%v",
		cfg.Server.Environment, cfg.Redis.Host != "", cfg.OIDC.Issuer != "", cfg.Stripe.SecretKey != "",
		cfg.RabbitMQ.URL != "", cfg.MinIO.Endpoint != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoClient, err := database.ConnectMongo(ctx, cfg.MongoDB)
	if err != nil {
		logger.Fatalf("mongodb: %v", err)
	}
	db := mongoClient.Database(cfg.MongoDB.Database)

	rdb, err := database.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		if cfg.Entitlement.LockBackend == "redis" {
			logger.Fatalf("redis required by ENTITLEMENT_LOCK_BACKEND: %v", err)
		}
		logger.Warnf("continuing without redis: %v", err)
	}

	usersRepo := users.NewMongoUserRepository(db.Collection(database.UsersCollection))
	ledger := webhooks.NewMongoLedger(db)
	indexers := []database.Indexer{usersRepo, ledger}

	var sessionsRepo sessions.Repository
	if rdb != nil {
		sessionsRepo = sessions.NewRedisRepository(rdb, "session:")
	} else {
		mrepo := sessions.NewMongoRepository(db.Collection(database.SessionsCollection))
		indexers = append(indexers, mrepo)
		sessionsRepo = mrepo
	}
	if err := database.EnsureIndexes(ctx, indexers...); err != nil {
		logger.Fatalf("%v", err)
	}

	tokenSvc := tokens.NewService(cfg.JWT.Secret, tokens.WithIssuer(cfg.JWT.Issuer), tokens.WithLeeway(cfg.JWT.Leeway))
	usersSvc := users.NewService(usersRepo)
	sessionsSvc := sessions.NewService(sessionsRepo)

	var blacklist *sessions.Blacklist
	var resolverOpts []identity.Option
	if rdb != nil {
		blacklist = sessions.NewBlacklist(rdb)
		resolverOpts = append(resolverOpts, identity.WithRevocations(blacklist))
		if cfg.IdentityCache.TTL > 0 {
			resolverOpts = append(resolverOpts, identity.WithCache(identity.NewRedisCache(rdb, cfg.IdentityCache.TTL)))
		}
	}
	resolver := identity.NewResolver(tokenSvc, usersRepo, resolverOpts...)

	hook, amqpConn := activationHook(cfg, db)
	entOpts := []entitlement.Option{
		entitlement.WithActivationHook(hook),
		entitlement.WithCacheInvalidator(resolver),
	}
	if cfg.Entitlement.LockBackend == "redis" {
		entOpts = append(entOpts, entitlement.WithLocker(entitlement.NewRedisLocker(rdb, cfg.Entitlement.LockTTL)))
	}
	ent := entitlement.NewService(usersRepo, entOpts...)

	pipelineOpts := []webhooks.Option{
		webhooks.WithTolerance(cfg.Stripe.SignatureTolerance),
		webhooks.WithDefaultPeriod(cfg.Entitlement.DefaultPeriod),
	}
	var archive *storage.MinIOStorage
	if cfg.MinIO.Endpoint != "" {
		archive, err = storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("webhook archive disabled: %v", err)
			archive = nil
		} else {
			pipelineOpts = append(pipelineOpts, webhooks.WithArchiver(webhooks.NewObjectArchiver(archive, "webhooks")))
		}
	}
	if cfg.Stripe.WebhookSecret == "" {
		logger.Warnf("STRIPE_WEBHOOK_SECRET not set: every webhook will be rejected")
	}
	pipeline := webhooks.NewPipeline(cfg.Stripe.WebhookSecret, ledger, ent, pipelineOpts...)

	gateway := payments.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.Timeout,
		payments.WithAPIURL(cfg.Stripe.APIBase),
		payments.WithRateLimit(cfg.Stripe.RequestsPerSecond, int(cfg.Stripe.RequestsPerSecond)+1),
	)
	billingSvc := billing.NewService(gateway, ent, billing.Plan{
		PriceID:        cfg.Stripe.PriceID,
		Amount:         cfg.Stripe.PaymentAmount,
		Currency:       cfg.Stripe.Currency,
		PublishableKey: cfg.Stripe.PublishableKey,
		SuccessURL:     cfg.Stripe.SuccessURL,
		CancelURL:      cfg.Stripe.CancelURL,
		Period:         cfg.Entitlement.DefaultPeriod,
	})

	authOpts := []handlers.AuthOption{handlers.WithBlacklist(blacklist)}
	if v := oidcVerifier(ctx, cfg.OIDC); v != nil {
		authOpts = append(authOpts, handlers.WithOIDC(v))
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), cors())
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", readiness(mongoClient, rdb, archive, amqpConn))
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterSwagger(r)

	auth := middleware.Authenticate(resolver)
	handlers.NewAuthHandler(cfg, usersSvc, sessionsSvc, tokenSvc, authOpts...).Register(r, auth)
	handlers.NewPaymentsHandler(billingSvc, pipeline).Register(r, auth)
	handlers.NewUsersHandler(usersSvc, resolver).Register(r.Group("/api/v1", auth))
	handlers.NewAdminHandler(usersSvc, sessionsSvc, resolver).
		Register(r.Group("/admin", auth, middleware.RequireRole(models.RoleAdmin)))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting account service on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	if amqpConn != nil {
		_ = amqpConn.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		logger.Errorf("mongodb disconnect: %v", err)
	}
}

// activationHook publishes to RabbitMQ when configured so the worker runs the
// side effect; otherwise scans are unblurred in-process.
func activationHook(cfg *config.Config, db *mongo.Database) (entitlement.ActivationHook, *amqp.Connection) {
	unblur := scans.NewUnblurrer(db.Collection(database.ScansCollection))
	if cfg.RabbitMQ.URL == "" {
		return unblur.OnActivated, nil
	}
	conn, err := events.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		logger.Warnf("rabbitmq unavailable, unblurring in-process: %v", err)
		return unblur.OnActivated, nil
	}
	ch, err := events.Setup(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, 0)
	if err != nil {
		_ = conn.Close()
		logger.Warnf("rabbitmq setup failed, unblurring in-process: %v", err)
		return unblur.OnActivated, nil
	}
	logger.Infof("activation events published to exchange %s", cfg.RabbitMQ.Exchange)
	return events.NewPublisher(ch, cfg.RabbitMQ.Exchange).EntitlementActivated, conn
}

func oidcVerifier(ctx context.Context, cfg config.OIDCConfig) oidc.TokenVerifier {
	if cfg.Issuer != "" && cfg.ClientID != "" {
		v, err := oidc.NewVerifier(ctx, cfg.Issuer, cfg.ClientID)
		if err == nil {
			return v
		}
		logger.Warnf("failed to initialize OIDC verifier: %v", err)
	}
	if cfg.AllowInsecure {
		logger.Warn("enabling insecure OIDC verifier (integration mode)")
		return oidc.NewInsecureVerifier()
	}
	return nil
}

// cors allows any origin.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// readiness returns 200 only when every configured dependency answers.
func readiness(mc *mongo.Client, rdb redis.UniversalClient, archive *storage.MinIOStorage, conn *amqp.Connection) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		deps := map[string]bool{"mongodb": mc.Ping(ctx, nil) == nil}
		if rdb != nil {
			deps["redis"] = rdb.Ping(ctx).Err() == nil
		}
		if archive != nil {
			deps["minio"] = archive.Ping(ctx) == nil
		}
		if conn != nil {
			deps["rabbitmq"] = !conn.IsClosed()
		}
		status, code := "ready", http.StatusOK
		for _, ok := range deps {
			if !ok {
				status, code = "not_ready", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	}
}
