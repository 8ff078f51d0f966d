package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/config"
	"github.com/nimasrn/drone-dispatch/internal/events"
	gateway "github.com/nimasrn/drone-dispatch/internal/gateways"
	"github.com/nimasrn/drone-dispatch/internal/handlers"
	"github.com/nimasrn/drone-dispatch/internal/notification"
	"github.com/nimasrn/drone-dispatch/internal/qr"
	"github.com/nimasrn/drone-dispatch/internal/queue"
	"github.com/nimasrn/drone-dispatch/internal/repository"
	"github.com/nimasrn/drone-dispatch/internal/services"
	"github.com/nimasrn/drone-dispatch/internal/telemetry"
	xhttp "github.com/nimasrn/drone-dispatch/pkg/http"
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

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting dispatch api", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	if cfg.AppDebugMetricsAddr != "" {
		go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}

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
		ClientName: "dispatch-api",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	notificationQueue, err := queue.New(ctx, redisAdap, queue.Config{
		Name:              cfg.NotificationQueueName,
		ConsumerGroup:     cfg.NotificationQueueConsumerGroup,
		MaxRetries:        cfg.NotificationQueueMaxRetries,
		VisibilityTimeout: cfg.NotificationQueueVisibilityTimeout,
		PollInterval:      cfg.NotificationQueuePollInterval,
		BatchSize:         cfg.NotificationQueueBatchSize,
		MaxLen:            cfg.NotificationQueueMaxLen,
		EnableDLQ:         cfg.NotificationQueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating notification queue", "error", err)
		return
	}

	weather, err := gateway.NewClient(&gateway.Config{
		Providers: []gateway.ProviderConfig{
			{Name: "primary", URL: cfg.WeatherPrimaryUrl, Weight: 100},
			{Name: "secondary", URL: cfg.WeatherSecondaryUrl, Weight: 60},
		},
		Thresholds: gateway.Thresholds{
			MaxWindSpeed:       cfg.WeatherMaxWindSpeed,
			MaxRainProbability: cfg.WeatherMaxRainProbability,
			MinVisibility:      cfg.WeatherMinVisibility,
		},
		Timeout:                 cfg.WeatherTimeout,
		MaxRetries:              cfg.WeatherMaxRetries,
		RetryDelay:              cfg.WeatherRetryDelay,
		MaxConns:                256,
		HealthCheckInterval:     cfg.WeatherHealthCheckInterval,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	})
	if err != nil {
		logger.Error("failed to create weather client", "error", err)
		return
	}
	defer weather.Close()

	// repositories
	droneRepo := repository.NewDroneRepository(db)
	droneOrderRepo := repository.NewDroneOrderRepository(db)
	assignmentRepo := repository.NewDroneAssignmentRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)

	notifier := notification.NewService(notificationRepo, userRepo,
		notification.WithQueue(notificationQueue),
		notification.WithLowBatteryCooldown(redisAdap, cfg.LowBatteryAlertCooldown),
	)
	tokens := auth.NewTokens(cfg.JwtSecret, cfg.JwtIssuer)

	// services
	deps := services.Dependencies{
		Tx:          db,
		Drones:      droneRepo,
		DroneOrders: droneOrderRepo,
		Assignments: assignmentRepo,
		Orders:      orderRepo,
		Weather:     weather,
		Issuer:      qr.NewIssuer(cfg.JwtSecret, cfg.QrTokenTTL, cfg.HandoffTokenTTL),
		Notifier:    notifier,
		Publisher:   events.NewRedisPublisher(redisAdap),
	}
	dispatchService := services.NewDispatchService(deps, services.DispatchConfig{
		LowBatteryThreshold: cfg.DroneLowBatteryThreshold,
		PickupMinBattery:    cfg.DronePickupMinBattery,
		CruiseAltitude:      cfg.DroneCruiseAltitude,
		CruiseSpeedKmh:      cfg.DroneCruiseSpeedKmh,
	})
	droneOrderService := services.NewDroneOrderService(deps)
	fleetService := services.NewFleetService(deps)
	orderService := services.NewOrderService(deps, droneOrderService)
	healthService := services.NewHealthService(db, redisAdap, weather)

	// realtime rooms, fed by every api instance through redis
	hub := events.NewHub(tokens, events.NewAuthorizer(orderService.Parties), cfg.RealtimeOrigins())
	go func() {
		if err := events.Relay(ctx, redisAdap, hub.Broadcast, nil); err != nil {
			logger.Error("realtime relay stopped", "error", err)
		}
	}()
	realtime := &http.Server{
		Addr:              cfg.RealtimeListenAddr,
		Handler:           hub.Router(cfg.RealtimeOrigins()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("realtime hub is listening", "addr", cfg.RealtimeListenAddr)
		if err := realtime.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("error in running realtime server", "error", err)
		}
	}()

	var ingester *telemetry.Ingester
	if cfg.MqttBrokerUrl != "" {
		client, err := telemetry.Connect(cfg.MqttBrokerUrl, cfg.MqttClientID, cfg.MqttUsername, cfg.MqttPassword)
		if err != nil {
			logger.Error("failed connecting to mqtt broker, telemetry disabled", "error", err)
		} else {
			sink := telemetry.NewInfluxSinkWithFallback(ctx, cfg.InfluxUrl, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
			ingester = telemetry.NewIngester(client, cfg.MqttTelemetryTopic, fleetService, sink)
			if err := ingester.Start(); err != nil {
				logger.Error("failed subscribing to telemetry", "error", err)
			}
		}
	}

	// transport
	s := xhttp.NewServer(xhttp.DefaultServerOption.WithTimeouts(cfg.HttpServerReadTimeout, cfg.HttpServerWriteTimeout))
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.CORSMiddleware(cfg.CorsOrigins()))
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))
	s.Use(handlers.AuthMiddleware(tokens))
	s.Router = xhttp.CreateDefaultRouter()

	// v1 handlers
	g := s.Router.Group("/api/v1")
	handlers.RegisterOrderRoutes(g, handlers.NewOrderHandler(orderService))
	handlers.RegisterDroneOrderRoutes(g, handlers.NewDroneOrderHandler(droneOrderService))
	handlers.RegisterDispatchRoutes(g, handlers.NewDispatchHandler(dispatchService))
	handlers.RegisterFleetRoutes(g, handlers.NewFleetHandler(fleetService))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(healthService))

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-ctx.Done()
	s.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := realtime.Shutdown(shutdownCtx); err != nil {
		logger.Error("error while shutting down realtime server", "error", err)
	}
	if ingester != nil {
		ingester.Close()
	}
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
