// Command worker runs entitlement side effects off the request path: it
// consumes activation events and periodically sweeps lapsed cancellations.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/lookmax/lookmax/backend/go-services/internal/config"
	"github.com/lookmax/lookmax/backend/go-services/internal/database"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/internal/events"
	"github.com/lookmax/lookmax/backend/go-services/internal/identity"
	"github.com/lookmax/lookmax/backend/go-services/internal/scans"
	"github.com/lookmax/lookmax/backend/go-services/internal/users"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	prefetch    = 16
	concurrency = 8
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.SetFormat(cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoClient, err := database.ConnectMongo(ctx, cfg.MongoDB)
	if err != nil {
		logger.Fatalf("mongodb: %v", err)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	db := mongoClient.Database(cfg.MongoDB.Database)

	rdb, err := database.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		if cfg.Entitlement.LockBackend == "redis" {
			logger.Fatalf("redis required by ENTITLEMENT_LOCK_BACKEND: %v", err)
		}
		logger.Warnf("continuing without redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var opts []entitlement.Option
	if cfg.Entitlement.LockBackend == "redis" {
		opts = append(opts, entitlement.WithLocker(entitlement.NewRedisLocker(rdb, cfg.Entitlement.LockTTL)))
	}
	if rdb != nil && cfg.IdentityCache.TTL > 0 {
		opts = append(opts, entitlement.WithCacheInvalidator(identity.NewRedisCache(rdb, cfg.IdentityCache.TTL)))
	}
	ent := entitlement.NewService(users.NewMongoUserRepository(db.Collection(database.UsersCollection)), opts...)
	unblur := scans.NewUnblurrer(db.Collection(database.ScansCollection))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("entitlement sweeper every %s", cfg.Entitlement.SweepInterval)
		return entitlement.NewSweeper(ent).Run(gctx, cfg.Entitlement.SweepInterval)
	})

	if cfg.RabbitMQ.URL == "" {
		logger.Warnf("RABBITMQ_URL not set: activation events are handled by the API process")
	} else {
		conn, err := events.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
		if err != nil {
			logger.Fatalf("rabbitmq: %v", err)
		}
		defer conn.Close()
		ch, err := events.Setup(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, prefetch)
		if err != nil {
			logger.Fatalf("rabbitmq: %v", err)
		}
		deliveries, err := ch.Consume(cfg.RabbitMQ.Queue, "lookmax-worker", false, false, false, false, nil)
		if err != nil {
			logger.Fatalf("rabbitmq consume %s: %v", cfg.RabbitMQ.Queue, err)
		}
		g.Go(func() error {
			logger.Infof("consuming %s", cfg.RabbitMQ.Queue)
			err := events.Consume(gctx, deliveries, concurrency, func(ctx context.Context, ev events.Activated) error {
				return unblur.OnActivated(ctx, ev.UserID)
			})
			if err == nil {
				// the broker closed the channel; exit so the supervisor restarts us
				return errors.New("activation delivery channel closed")
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("worker stopped: %v", err)
	}
	logger.Infof("worker stopped")
}
