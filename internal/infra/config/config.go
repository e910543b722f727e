package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"salon_notification_engine/internal/infra/scheduler"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL     string
	TenantID        string
	HTTPAddr        string
	RedisURL        string // optional, enables the distributed sweep lock
	TelegramToken   string // optional, enables the operator bot
	AdminTelegramID int64
	LogLevel        string
	Environment     string
	Timezone        string
	Location        *time.Location
	DefaultAreaCode string
	GatewayTimeout  time.Duration
	WebhookToken    string
	AutoMigrate     bool

	CronSpecReminderSweep string
	CronSpecBirthdaySweep string
	CronSpecStatusPoll    string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.TenantID = os.Getenv("TENANT_ID")
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("TENANT_ID is not set")
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.WebhookToken = os.Getenv("WEBHOOK_TOKEN")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken != "" {
		adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
		if adminIDStr == "" {
			return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
		}
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getenvDefault("ENVIRONMENT", "development"))

	cfg.Timezone = getenvDefault("TIMEZONE", "America/Sao_Paulo")
	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.DefaultAreaCode = getenvDefault("DEFAULT_AREA_CODE", "11")
	if len(cfg.DefaultAreaCode) != 2 {
		return nil, fmt.Errorf("invalid DEFAULT_AREA_CODE %q: must be two digits", cfg.DefaultAreaCode)
	}
	if _, err := strconv.Atoi(cfg.DefaultAreaCode); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_AREA_CODE %q: must be two digits", cfg.DefaultAreaCode)
	}

	cfg.GatewayTimeout, err = time.ParseDuration(getenvDefault("GATEWAY_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
	}
	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: must be positive")
	}

	if v := os.Getenv("AUTO_MIGRATE"); v != "" {
		cfg.AutoMigrate, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_MIGRATE: %w", err)
		}
	}

	cfg.CronSpecReminderSweep = getenvDefault("CRON_SPEC_REMINDER_SWEEP", "*/30 * * * *")
	if err := scheduler.ValidateReminderCadence(cfg.CronSpecReminderSweep); err != nil {
		return nil, fmt.Errorf("invalid CRON_SPEC_REMINDER_SWEEP: %w", err)
	}
	cfg.CronSpecBirthdaySweep = getenvDefault("CRON_SPEC_BIRTHDAY_SWEEP", "0 9 * * *") // 9 AM daily
	cfg.CronSpecStatusPoll = getenvDefault("CRON_SPEC_STATUS_POLL", "* * * * *")

	return cfg, nil
}

// SchedulerSpecs returns the cron expressions in the scheduler's shape.
func (c *AppConfig) SchedulerSpecs() scheduler.Specs {
	return scheduler.Specs{
		Reminders:  c.CronSpecReminderSweep,
		Birthdays:  c.CronSpecBirthdaySweep,
		StatusPoll: c.CronSpecStatusPoll,
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
