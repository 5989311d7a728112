package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/solarpay/compliance-service/internal/app"
	"github.com/solarpay/compliance-service/internal/config"
	"github.com/solarpay/compliance-service/internal/store"
	"github.com/solarpay/compliance-service/pkg/kafka"
	"github.com/solarpay/compliance-service/pkg/notificationclient"
	"github.com/solarpay/compliance-service/pkg/rabbitmq"
)

// runtime holds the wired services shared by every command.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	engine      *app.LifecycleEngine
	dispatcher  *app.ReminderDispatcher
	reminderJob *app.ReminderDispatchJob
	redriver    *app.DeadLetterRedriver
	policies    *app.PolicyService
	payments    *app.PaymentService
	jobs        *app.Jobs

	closers []func()
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// newRuntime connects to the database and brokers and wires the services.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	rt.closers = append(rt.closers, dbpool.Close)
	logger.Info("database connection established")

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := app.NewMetrics(rt.registry)

	publisher := rt.newEventBroker()
	rt.closers = append(rt.closers, publisher.Close)

	repository := store.NewRepository(dbpool)
	loc := cfg.Location()

	rt.policies = app.NewPolicyService(repository, logger)
	deps := app.ReminderDispatcherDeps{
		Payments:  repository,
		Reminders: repository,
		Contacts:  repository,
		Policies:  rt.policies,
		Notifier:  rt.newNotifier(),
		Logger:    logger,
		Metrics:   metrics,
		Location:  loc,
	}
	if budget := rt.newDeliveryBudget(ctx); budget != nil {
		deps.Budget = budget
	}
	rt.dispatcher = app.NewReminderDispatcher(deps)

	events := app.NewPaymentEventPublisher(publisher, repository, logger, app.EventPublisherOptions{
		Exchange:    cfg.EventExchange,
		MaxAttempts: cfg.EventPublishMaxAttempts,
		Metrics:     metrics,
	})
	rt.engine = app.NewLifecycleEngine(repository, rt.policies, rt.dispatcher, events, logger, app.LifecycleOptions{
		Horizon:  cfg.UpcomingHorizon(),
		Workers:  cfg.LifecycleWorkers,
		Location: loc,
		Metrics:  metrics,
	})
	rt.reminderJob = app.NewReminderDispatchJob(repository, rt.dispatcher, rt.policies, logger, nil, loc)
	rt.redriver = app.NewDeadLetterRedriver(repository, publisher, logger, metrics)
	rt.payments = app.NewPaymentService(app.PaymentServiceDeps{
		Payments: repository,
		Plans:    repository,
		Contacts: repository,
		Ledger:   app.NewPlanLedger(repository, logger),
		Events:   events,
		Policies: rt.policies,
		Logger:   logger,
		Location: loc,
	})
	rt.jobs = app.NewJobs(rt.engine, rt.reminderJob, rt.redriver, logger, metrics)
	return rt, nil
}

// newEventBroker returns the configured broker producer, or the logging
// fallback when the broker cannot be reached.
func (rt *runtime) newEventBroker() rabbitmq.Publisher {
	switch rt.cfg.EventBroker {
	case config.BrokerKafka:
		producer, err := kafka.NewEventProducer(rt.cfg.KafkaBrokerList())
		if err != nil {
			rt.logger.Warn("kafka producer unavailable; using fallback", "error", err)
			return &rabbitmq.EventProducerFallback{}
		}
		rt.logger.Info("kafka producer configured", "brokers", rt.cfg.KafkaBrokers)
		return producer
	default:
		if strings.TrimSpace(rt.cfg.RabbitMQURL) == "" {
			rt.logger.Warn("rabbitmq url missing; using fallback", "env", "RABBITMQ_URL")
			return &rabbitmq.EventProducerFallback{}
		}
		producer, err := rabbitmq.NewEventProducer(rt.cfg.RabbitMQURL)
		if err != nil {
			rt.logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
			return &rabbitmq.EventProducerFallback{}
		}
		rt.logger.Info("rabbitmq producer connected")
		return producer
	}
}

func (rt *runtime) newNotifier() app.Notifier {
	if strings.TrimSpace(rt.cfg.NotificationServiceURL) == "" {
		rt.logger.Warn("notification service url missing; reminders will only be logged", "env", "NOTIFICATION_SERVICE_URL")
		return notificationclient.LogNotifier{Logger: rt.logger}
	}
	return notificationclient.NewClient(rt.cfg.NotificationServiceURL, rt.cfg.NotificationServiceAPIKey)
}

// newDeliveryBudget connects to Redis for the per-recipient reminder budget.
// It returns nil when the budget is disabled or Redis is unreachable.
func (rt *runtime) newDeliveryBudget(ctx context.Context) *app.RedisDeliveryBudget {
	if rt.cfg.ReminderDailyLimitPerRecipient <= 0 {
		return nil
	}
	if strings.TrimSpace(rt.cfg.RedisURL) == "" {
		rt.logger.Warn("redis url missing; reminder delivery budget disabled", "env", "REDIS_URL")
		return nil
	}

	redisOptions, err := redis.ParseURL(rt.cfg.RedisURL)
	if err != nil {
		rt.logger.Warn("redis url parse failed; reminder delivery budget disabled", "error", err)
		return nil
	}
	redisClient := redis.NewClient(redisOptions)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		rt.logger.Warn("redis ping failed; reminder delivery budget disabled", "error", err)
		redisClient.Close()
		return nil
	}
	rt.closers = append(rt.closers, func() { redisClient.Close() })
	rt.logger.Info("redis connected", "daily_limit_per_recipient", rt.cfg.ReminderDailyLimitPerRecipient)

	return app.NewRedisDeliveryBudget(redisClient, "", rt.cfg.ReminderDailyLimitPerRecipient, 24*time.Hour)
}

// Close releases connections in reverse order of creation.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
