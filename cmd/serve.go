package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/voxsocial/notifygw/internal/auth"
	"github.com/voxsocial/notifygw/internal/bus"
	"github.com/voxsocial/notifygw/internal/config"
	"github.com/voxsocial/notifygw/internal/db"
	"github.com/voxsocial/notifygw/internal/gateway"
	httpSrv "github.com/voxsocial/notifygw/internal/http"
	"github.com/voxsocial/notifygw/internal/logger"
	"github.com/voxsocial/notifygw/internal/metrics"
	"github.com/voxsocial/notifygw/internal/presence"
	"github.com/voxsocial/notifygw/internal/push"
	"github.com/voxsocial/notifygw/internal/repository"
	"github.com/voxsocial/notifygw/internal/visibility"
	"github.com/voxsocial/notifygw/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server, websocket gateway and delivery workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		metrics.MustRegister(prometheus.DefaultRegisterer)

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		identitiesRepo := repository.NewIdentitiesRepository(mysqlDB)
		followsRepo := repository.NewFollowsRepository(mysqlDB)
		notificationsRepo := repository.NewNotificationsRepository(mysqlDB)
		auditRepo := repository.NewAuditRepository(chDB)

		validator := auth.NewValidator(cfg.Auth.Secret, identitiesRepo)
		resolver := visibility.NewResolver(identitiesRepo, followsRepo)
		registry := presence.NewRegistry()
		broker := push.NewBroker(redisClient)
		publisher := bus.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = publisher.Close() }()

		gw := gateway.New(cfg.Gateway, validator, registry, notificationsRepo, broker)

		consumer := bus.NewConsumer(bus.ConsumerConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			GroupID:        cfg.Kafka.GroupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		pool := worker.NewDelivery(consumer, followsRepo, notificationsRepo, resolver, broker, auditRepo)
		applyDeliveryConfig(pool, cfg.Delivery)

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Validator: validator,
			Publisher: publisher,
			Store:     notificationsRepo,
			Audit:     auditRepo,
			Gateway:   gw,
			Redis:     redisClient,
		})

		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			if err := gw.Run(runCtx); err != nil {
				log.Printf("gateway subscriber exited: %v", err)
			}
		}()
		go func() {
			if err := pool.Run(runCtx); err != nil {
				log.Printf("delivery pool exited: %v", err)
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			log.Printf("starting http on %s", cfg.HTTP.Addr)
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		cancel()
		gw.Shutdown()

		ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = server.Shutdown(ctx)

		return nil
	},
}

// applyDeliveryConfig copies configured knobs onto the pool, keeping the
// pool's defaults for anything unset.
func applyDeliveryConfig(pool *worker.Delivery, cfg config.DeliveryConfig) {
	if cfg.WorkerCount > 0 {
		pool.Workers = cfg.WorkerCount
	}
	if cfg.QueueSize > 0 {
		pool.QueueSize = cfg.QueueSize
	}
	if cfg.BackoffBase > 0 {
		pool.BackoffBase = cfg.BackoffBase
	}
	if cfg.BackoffCap > 0 {
		pool.BackoffCap = cfg.BackoffCap
	}
	if cfg.MaxAttempts > 0 {
		pool.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.AckTimeout > 0 {
		pool.AckTimeout = cfg.AckTimeout
	}
	if cfg.Retention > 0 {
		pool.Retention = cfg.Retention
	}
	if cfg.SweepInterval > 0 {
		pool.SweepInterval = cfg.SweepInterval
	}
	if cfg.FanoutPageSize > 0 {
		pool.FanoutPageSize = cfg.FanoutPageSize
	}
}
