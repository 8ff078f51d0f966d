package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/config"
	"github.com/nimasrn/drone-dispatch/internal/events"
	"github.com/nimasrn/drone-dispatch/internal/processor"
	"github.com/nimasrn/drone-dispatch/internal/queue"
	"github.com/nimasrn/drone-dispatch/internal/repository"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/nimasrn/drone-dispatch/pkg/pg"
	"github.com/nimasrn/drone-dispatch/pkg/prom"
	"github.com/nimasrn/drone-dispatch/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// notifier drains the notification stream and pushes every stored
// notification to its recipient's realtime room.
func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting notifier", "version", version, "commit", commit, "date", date)

	readConf := pg.Config{
		User:     cfg.PostgresReadUser,
		Host:     cfg.PostgresReadHost,
		Port:     cfg.PostgresReadPort,
		Password: cfg.PostgresReadPassword,
		Database: cfg.PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     cfg.PostgresWriteUser,
		Host:     cfg.PostgresWriteHost,
		Port:     cfg.PostgresWritePort,
		Password: cfg.PostgresWritePassword,
		Database: cfg.PostgresWriteDatabase,
	}

	pgDebug := false
	if cfg.AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: "notifier",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	if cfg.AppDebugMetricsAddr != "" {
		go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}

	idempotencyService := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())
	proc := processor.NewNotificationProcessor(
		repository.NewNotificationRepository(db),
		events.NewRedisPublisher(redisAdap),
		idempotencyService,
	)

	service := processor.NewService(redisAdap, processor.Config{
		Queue: queue.Config{
			Name:              cfg.NotificationQueueName,
			ConsumerGroup:     cfg.NotificationQueueConsumerGroup,
			ConsumerName:      cfg.NotificationQueueConsumerName,
			MaxRetries:        cfg.NotificationQueueMaxRetries,
			VisibilityTimeout: cfg.NotificationQueueVisibilityTimeout,
			PollInterval:      cfg.NotificationQueuePollInterval,
			BatchSize:         cfg.NotificationQueueBatchSize,
			MaxLen:            cfg.NotificationQueueMaxLen,
			EnableDLQ:         cfg.NotificationQueueEnableDLQ,
		},
		Consumers:      2,
		Workers:        cfg.NotificationWorkers,
		ReportInterval: 30 * time.Second,
	}, proc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := service.Start(ctx); err != nil {
			logger.Error("failed to start notifier", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	service.Stop()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
