/**
 * @description
 * Configuration management for the payment compliance service.
 * Settings are read from environment variables with defaults for the cron schedules.
 */
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Supported event brokers.
const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
)

// Config holds all configuration for the service.
type Config struct {
	ServerPort                     string `mapstructure:"SERVER_PORT"`
	DatabaseURL                    string `mapstructure:"DATABASE_URL"`
	RunMigrations                  bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisURL                       string `mapstructure:"REDIS_URL"`
	ReminderDailyLimitPerRecipient int    `mapstructure:"REMINDER_DAILY_LIMIT_PER_RECIPIENT"`
	EventBroker                    string `mapstructure:"EVENT_BROKER"`
	RabbitMQURL                    string `mapstructure:"RABBITMQ_URL"`
	KafkaBrokers                   string `mapstructure:"KAFKA_BROKERS"`
	EventExchange                  string `mapstructure:"EVENT_EXCHANGE"`
	EventPublishMaxAttempts        int    `mapstructure:"EVENT_PUBLISH_MAX_ATTEMPTS"`
	InternalAPIKey                 string `mapstructure:"INTERNAL_API_KEY"`
	AdminJWTSecret                 string `mapstructure:"ADMIN_JWT_SECRET"`
	NotificationServiceURL         string `mapstructure:"NOTIFICATION_SERVICE_URL"`
	NotificationServiceAPIKey      string `mapstructure:"NOTIFICATION_SERVICE_API_KEY"`
	BusinessTimezone               string `mapstructure:"BUSINESS_TIMEZONE"`
	LifecycleJobSchedule           string `mapstructure:"LIFECYCLE_JOB_SCHEDULE"`
	ReminderJobSchedule            string `mapstructure:"REMINDER_JOB_SCHEDULE"`
	EventRedriveSchedule           string `mapstructure:"EVENT_REDRIVE_SCHEDULE"`
	UpcomingHorizonDays            int    `mapstructure:"UPCOMING_HORIZON_DAYS"`
	LifecycleWorkers               int    `mapstructure:"LIFECYCLE_WORKERS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REMINDER_DAILY_LIMIT_PER_RECIPIENT", 0)
	viper.SetDefault("EVENT_BROKER", BrokerRabbitMQ)
	viper.SetDefault("EVENT_EXCHANGE", "solar.payment_events")
	viper.SetDefault("EVENT_PUBLISH_MAX_ATTEMPTS", 3)
	viper.SetDefault("BUSINESS_TIMEZONE", "UTC")
	viper.SetDefault("LIFECYCLE_JOB_SCHEDULE", "0 0 * * *")   // Midnight every day.
	viper.SetDefault("REMINDER_JOB_SCHEDULE", "0 8 * * *")    // 08:00 every day.
	viper.SetDefault("EVENT_REDRIVE_SCHEDULE", "*/15 * * * *") // Every 15 minutes.
	viper.SetDefault("UPCOMING_HORIZON_DAYS", 3)
	viper.SetDefault("LIFECYCLE_WORKERS", 1)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REMINDER_DAILY_LIMIT_PER_RECIPIENT")
	_ = viper.BindEnv("EVENT_BROKER")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("KAFKA_BROKERS")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("EVENT_PUBLISH_MAX_ATTEMPTS")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("NOTIFICATION_SERVICE_URL")
	_ = viper.BindEnv("NOTIFICATION_SERVICE_API_KEY")
	_ = viper.BindEnv("BUSINESS_TIMEZONE")
	_ = viper.BindEnv("LIFECYCLE_JOB_SCHEDULE")
	_ = viper.BindEnv("REMINDER_JOB_SCHEDULE")
	_ = viper.BindEnv("EVENT_REDRIVE_SCHEDULE")
	_ = viper.BindEnv("UPCOMING_HORIZON_DAYS")
	_ = viper.BindEnv("LIFECYCLE_WORKERS")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if port := os.Getenv("PORT"); port != "" {
		config.ServerPort = port
	}
	config.EventBroker = strings.ToLower(strings.TrimSpace(config.EventBroker))

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if _, err := time.LoadLocation(c.BusinessTimezone); err != nil {
		return fmt.Errorf("invalid BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}

	schedules := map[string]string{
		"LIFECYCLE_JOB_SCHEDULE": c.LifecycleJobSchedule,
		"REMINDER_JOB_SCHEDULE":  c.ReminderJobSchedule,
		"EVENT_REDRIVE_SCHEDULE": c.EventRedriveSchedule,
	}
	for key, spec := range schedules {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}

	switch c.EventBroker {
	case BrokerRabbitMQ:
	case BrokerKafka:
		if len(c.KafkaBrokerList()) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENT_BROKER is kafka")
		}
	default:
		return fmt.Errorf("unsupported EVENT_BROKER %q", c.EventBroker)
	}

	if c.UpcomingHorizonDays < 0 {
		return fmt.Errorf("UPCOMING_HORIZON_DAYS must not be negative")
	}
	if c.LifecycleWorkers < 1 {
		return fmt.Errorf("LIFECYCLE_WORKERS must be at least 1")
	}
	if c.EventPublishMaxAttempts < 1 {
		return fmt.Errorf("EVENT_PUBLISH_MAX_ATTEMPTS must be at least 1")
	}
	if c.ReminderDailyLimitPerRecipient < 0 {
		return fmt.Errorf("REMINDER_DAILY_LIMIT_PER_RECIPIENT must not be negative")
	}
	return nil
}

// KafkaBrokerList splits KAFKA_BROKERS on commas.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

// Location returns the business timezone, UTC when it cannot be loaded.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UpcomingHorizon is the look-ahead window for SCHEDULED payments.
func (c Config) UpcomingHorizon() time.Duration {
	return time.Duration(c.UpcomingHorizonDays) * 24 * time.Hour
}
