package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brainz-lab/signal-sub000/pkg/alerting"
	"github.com/brainz-lab/signal-sub000/pkg/api"
	"github.com/brainz-lab/signal-sub000/pkg/config"
	"github.com/brainz-lab/signal-sub000/pkg/datasource"
	"github.com/brainz-lab/signal-sub000/pkg/evaluator"
	"github.com/brainz-lab/signal-sub000/pkg/maintenance"
	"github.com/brainz-lab/signal-sub000/pkg/notify"
	"github.com/brainz-lab/signal-sub000/pkg/oncall"
	"github.com/brainz-lab/signal-sub000/pkg/queue"
	"github.com/brainz-lab/signal-sub000/pkg/scheduler"
	"github.com/brainz-lab/signal-sub000/pkg/services"
	"github.com/brainz-lab/signal-sub000/pkg/store"
	"github.com/brainz-lab/signal-sub000/pkg/store/sqlite"
)

// @title Signal Alerting Engine API
// @version 1.0
// @description API for managing alert rules, incidents and notification channels
// @BasePath /api

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	setupLogging(&cfg.Log)

	st, err := openStore(&cfg.Store)
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Data sources. The static source is always present so rules can be
	// exercised without an external backend.
	registry := datasource.NewRegistry()
	registry.Register("static", datasource.NewStaticSource())
	if cfg.Timeplus.Enabled {
		tp, err := datasource.NewTimeplusSource(&cfg.Timeplus)
		if err != nil {
			logrus.Fatalf("Failed to connect to Timeplus: %v", err)
		}
		registry.Register("timeplus", tp)
		logrus.Infof("Timeplus data source registered at %s", cfg.Timeplus.Address)
	}
	defer registry.Close()

	// Rate limit counters: Redis when configured, in-process otherwise
	var counters notify.CounterStore
	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counters = notify.NewRedisCounters(client)
		logrus.Infof("Using Redis rate limit counters at %s", cfg.Redis.Address)
	} else {
		counters = notify.NewMemoryCounters()
	}

	transports := notify.NewTransports(
		notify.NewWebhookTransport(),
		notify.NewSlackTransport(),
		notify.NewEmailTransport(notify.SMTPSettings{
			Server:   cfg.SMTP.Server,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}),
		notify.NewTelegramTransport(),
	)
	dispatcher := notify.NewDispatcher(
		st,
		transports,
		notify.NewStaticSecrets(cfg.Secrets),
		notify.NewRateLimiter(counters, limitsFromConfig(&cfg.Limits)),
		maintenance.NewGate(st),
	)

	q := queue.New(cfg.Queue.Workers)
	pipeline := services.NewPipeline(
		st,
		evaluator.New(registry),
		alerting.NewMachine(st),
		alerting.NewCorrelator(st),
		dispatcher,
		q,
	)
	pipeline.RegisterTasks(q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	sched := scheduler.New(st, pipeline)
	if err := sched.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	consumer := scheduler.NewConsumer(cfg.Kafka, q)
	if consumer != nil {
		go consumer.Run(ctx)
		logrus.Infof("Kafka trigger consumer started on topic %s", cfg.Kafka.Topic)
	}

	correlator := alerting.NewCorrelator(st)
	apiHandler := api.NewAPIHandler(
		services.NewRuleService(st, sched),
		services.NewAlertService(st, correlator),
		services.NewIncidentService(st, correlator),
		services.NewChannelService(st, dispatcher),
		services.NewPolicyService(st),
		services.NewMaintenanceService(st),
		services.NewOnCallService(st, oncall.NewResolver(st)),
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.Server.AllowedOrigins},
	}))
	apiHandler.SetupRoutes(e)
	e.GET("/swagger/*", echo.WrapHandler(httpSwagger.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Starting server on port %s", port)
		if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	cancel()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logrus.Warnf("Failed to close trigger consumer: %v", err)
		}
	}
	sched.Stop()
	q.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}
	logrus.Info("Server exited properly")
}

// setupLogging applies the configured level and, when a log file is
// set, rotates it with lumberjack.
func setupLogging(cfg *config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.File != "" {
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}
	logrus.Infof("Log level set to: %s", logrus.GetLevel().String())
}

func openStore(cfg *config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite", "":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func limitsFromConfig(cfg *config.LimitsConfig) notify.Limits {
	limits := notify.DefaultLimits()
	limits.PerChannel = cfg.PerChannel
	limits.PerChannelWindow = time.Duration(cfg.PerChannelWindowSeconds) * time.Second
	limits.PerRule = cfg.PerRule
	limits.PerRuleWindow = time.Duration(cfg.PerRuleWindowSeconds) * time.Second
	limits.PerProject = cfg.PerProject
	limits.PerProjectWindow = time.Duration(cfg.PerProjectWindowSeconds) * time.Second
	return limits
}
