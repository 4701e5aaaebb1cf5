package worker

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

	"github.com/voxsocial/notifygw/internal/bus"
	"github.com/voxsocial/notifygw/internal/config"
	"github.com/voxsocial/notifygw/internal/db"
	"github.com/voxsocial/notifygw/internal/logger"
	"github.com/voxsocial/notifygw/internal/metrics"
	"github.com/voxsocial/notifygw/internal/push"
	"github.com/voxsocial/notifygw/internal/repository"
	"github.com/voxsocial/notifygw/internal/visibility"
	"github.com/voxsocial/notifygw/internal/worker"
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Run headless delivery workers (fan-out, retries, expiry)",
	RunE:  runDelivery,
}

func runDelivery(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) redis for the push bridge
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

	// 4) clickhouse for the delivery audit
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

	// 5) repositories
	identitiesRepo := repository.NewIdentitiesRepository(dbx)
	followsRepo := repository.NewFollowsRepository(dbx)
	notificationsRepo := repository.NewNotificationsRepository(dbx)
	auditRepo := repository.NewAuditRepository(chDB)

	resolver := visibility.NewResolver(identitiesRepo, followsRepo)
	broker := push.NewBroker(redisClient)

	// 6) bus consumer
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "notifygw-delivery"
	}
	consumer := bus.NewConsumer(bus.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	pool := worker.NewDelivery(consumer, followsRepo, notificationsRepo, resolver, broker, auditRepo)

	// tune knobs
	if cfg.Delivery.WorkerCount > 0 {
		pool.Workers = cfg.Delivery.WorkerCount
	}
	if cfg.Delivery.QueueSize > 0 {
		pool.QueueSize = cfg.Delivery.QueueSize
	}
	if cfg.Delivery.BackoffBase > 0 {
		pool.BackoffBase = cfg.Delivery.BackoffBase
	}
	if cfg.Delivery.BackoffCap > 0 {
		pool.BackoffCap = cfg.Delivery.BackoffCap
	}
	if cfg.Delivery.MaxAttempts > 0 {
		pool.MaxAttempts = cfg.Delivery.MaxAttempts
	}
	if cfg.Delivery.AckTimeout > 0 {
		pool.AckTimeout = cfg.Delivery.AckTimeout
	}
	if cfg.Delivery.Retention > 0 {
		pool.Retention = cfg.Delivery.Retention
	}
	if cfg.Delivery.SweepInterval > 0 {
		pool.SweepInterval = cfg.Delivery.SweepInterval
	}
	if cfg.Delivery.FanoutPageSize > 0 {
		pool.FanoutPageSize = cfg.Delivery.FanoutPageSize
	}

	// 7) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> delivery started topic=%s group=%s workers=%d maxAttempts=%d ackTimeout=%s",
		cfg.Kafka.Topic, groupID, pool.Workers, pool.MaxAttempts, pool.AckTimeout)

	return pool.Run(ctx)
}
